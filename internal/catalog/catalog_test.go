package catalog

import (
	"testing"

	"github.com/pawsture/wellmon/internal/risk"
)

var allTags = []string{
	risk.CriticalPosture, risk.GeneralPosture, risk.NeckFlexion,
	risk.ShoulderAlignment, risk.StressHigh, risk.NegativeEmotion,
}

func TestEveryTagHasCandidates(t *testing.T) {
	for _, tag := range allTags {
		candidates := Candidates(tag)
		if len(candidates) == 0 {
			t.Errorf("tag %q has no candidates", tag)
		}
		for _, a := range candidates {
			if a.Name == "" || a.Description == "" || a.Duration == "" {
				t.Errorf("tag %q has incomplete activity %+v", tag, a)
			}
			if len(a.Steps) == 0 {
				t.Errorf("activity %q has no steps", a.Name)
			}
			switch a.Type {
			case "breathing", "active_break", "posture_correction", "urgent_break":
			default:
				t.Errorf("activity %q has unknown type %q", a.Name, a.Type)
			}
		}
	}
}

func TestUnknownTagFallsBack(t *testing.T) {
	fallback := Candidates("no_such_tag")
	general := Candidates(risk.GeneralPosture)
	if len(fallback) != len(general) {
		t.Fatalf("fallback returned %d candidates, want the general list (%d)", len(fallback), len(general))
	}
	for i := range fallback {
		if fallback[i].Name != general[i].Name {
			t.Errorf("fallback[%d] = %q, want %q", i, fallback[i].Name, general[i].Name)
		}
	}
}

func TestActivitiesStableAndUnique(t *testing.T) {
	first := Activities()
	if len(first) == 0 {
		t.Fatal("no activities")
	}

	seen := map[string]bool{}
	for _, name := range first {
		if seen[name] {
			t.Errorf("duplicate activity name %q", name)
		}
		seen[name] = true
	}

	second := Activities()
	if len(second) != len(first) {
		t.Fatalf("Activities not stable: %d then %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("order changed at %d: %q vs %q", i, first[i], second[i])
		}
	}
}
