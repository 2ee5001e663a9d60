package risk

import (
	"testing"

	"github.com/pawsture/wellmon/internal/detect"
)

func alert(label string) detect.Alert {
	return detect.Alert{Label: label}
}

func TestClassifyPriority(t *testing.T) {
	tests := []struct {
		name   string
		alerts []detect.Alert
		want   string
	}{
		{
			"critical wins over everything",
			[]detect.Alert{
				alert("persistent high stress: 6 readings"),
				alert("critical posture: 4 readings at zone 4"),
				alert("neck_flexion at zone 2: 5 readings"),
			},
			CriticalPosture,
		},
		{
			"high posture beats neck",
			[]detect.Alert{
				alert("neck_lateral_bend at zone 2: 4 readings"),
				alert("high posture risk: 5 readings at zone 3+"),
			},
			GeneralPosture,
		},
		{
			"neck region",
			[]detect.Alert{alert("neck_flexion at zone 2: 4 readings")},
			NeckFlexion,
		},
		{
			"level-3 neck region stays a neck tag",
			[]detect.Alert{alert("neck_flexion at zone 3+: 4 readings")},
			NeckFlexion,
		},
		{
			"shoulder region",
			[]detect.Alert{alert("shoulder_alignment at zone 2: 4 readings")},
			ShoulderAlignment,
		},
		{
			"level-3 shoulder region stays a shoulder tag",
			[]detect.Alert{alert("shoulder_alignment at zone 3+: 4 readings")},
			ShoulderAlignment,
		},
		{
			"stress",
			[]detect.Alert{alert("persistent high stress: 4 readings")},
			StressHigh,
		},
		{
			"persistent emotion",
			[]detect.Alert{alert("persistent sad: 4 readings")},
			NegativeEmotion,
		},
		{
			"generic negative",
			[]detect.Alert{alert("multiple negative emotions: 8 readings")},
			NegativeEmotion,
		},
		{
			"stress beats emotion",
			[]detect.Alert{
				alert("persistent angry: 4 readings"),
				alert("persistent high stress: 5 readings"),
			},
			StressHigh,
		},
		{
			"empty list falls back",
			nil,
			GeneralPosture,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.alerts); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	alerts := []detect.Alert{
		alert("persistent fear: 4 readings"),
		alert("shoulder_alignment at zone 2: 4 readings"),
	}
	first := Classify(alerts)
	for i := 0; i < 10; i++ {
		if got := Classify(alerts); got != first {
			t.Fatalf("Classify not deterministic: %q then %q", first, got)
		}
	}
}
