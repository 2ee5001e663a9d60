package recommend

import (
	"math/rand"
	"regexp"
	"testing"
	"time"

	"github.com/pawsture/wellmon/internal/catalog"
	"github.com/pawsture/wellmon/internal/model"
	"github.com/pawsture/wellmon/internal/risk"
)

var testNow = time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)

func TestParseTriggeredUser(t *testing.T) {
	tests := []struct {
		id   string
		user int
		ok   bool
	}{
		{"rec_7_20260824093000_0042", 7, true},
		{"rec_123_x", 123, true},
		{"rec_abc_20260824093000_0042", 0, false},
		{"response_7_x", 0, false},
		{"rec", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		user, ok := ParseTriggeredUser(tt.id)
		if user != tt.user || ok != tt.ok {
			t.Errorf("ParseTriggeredUser(%q) = (%d, %v), want (%d, %v)", tt.id, user, ok, tt.user, tt.ok)
		}
	}
}

func TestIDGrammar(t *testing.T) {
	s := NewSelector(&model.Ref{})
	rec, _ := s.Generate(42, risk.StressHigh, testNow)

	pattern := regexp.MustCompile(`^rec_42_20260824093000_\d{4}$`)
	if !pattern.MatchString(rec.ID) {
		t.Errorf("id %q does not match the grammar", rec.ID)
	}

	user, ok := ParseTriggeredUser(rec.ID)
	if !ok || user != 42 {
		t.Errorf("round trip = (%d, %v)", user, ok)
	}
}

func TestColdWhenModelNotReady(t *testing.T) {
	s := NewSelector(&model.Ref{})

	rec, activity := s.Generate(9, risk.StressHigh, testNow)
	if rec.Source != SourceCold {
		t.Errorf("source = %q, want COLD", rec.Source)
	}
	assertMember(t, activity, catalog.Candidates(risk.StressHigh))
}

func TestColdForUnknownUser(t *testing.T) {
	ref := &model.Ref{}
	rng := rand.New(rand.NewSource(1))
	activities := catalog.Activities()
	actIndex := map[string]int{}
	for i, name := range activities {
		actIndex[name] = i
	}
	ref.Publish(&model.Snapshot{
		Ready:      true,
		Params:     model.NewParams(1, len(activities), rng),
		UserIndex:  map[string]int{"1": 0},
		Activities: activities,
		ActIndex:   actIndex,
	})

	s := NewSelector(ref)
	rec, _ := s.Generate(999, risk.GeneralPosture, testNow)
	if rec.Source != SourceCold {
		t.Errorf("source = %q, want COLD for unknown user", rec.Source)
	}
}

func TestAIForKnownUser(t *testing.T) {
	ref := &model.Ref{}
	rng := rand.New(rand.NewSource(1))
	activities := catalog.Activities()
	actIndex := map[string]int{}
	for i, name := range activities {
		actIndex[name] = i
	}
	ref.Publish(&model.Snapshot{
		Ready:      true,
		Params:     model.NewParams(2, len(activities), rng),
		UserIndex:  map[string]int{"7": 0, "8": 1},
		Activities: activities,
		ActIndex:   actIndex,
	})

	s := NewSelector(ref)
	rec, activity := s.Generate(7, risk.NeckFlexion, testNow)
	if rec.Source != SourceAI {
		t.Errorf("source = %q, want AI", rec.Source)
	}
	assertMember(t, activity, catalog.Candidates(risk.NeckFlexion))
}

func TestRulesWithoutModel(t *testing.T) {
	s := NewSelector(nil)
	rec, activity := s.Generate(3, risk.CriticalPosture, testNow)
	if rec.Source != SourceRules {
		t.Errorf("source = %q, want RULES", rec.Source)
	}
	if activity.Name != catalog.Candidates(risk.CriticalPosture)[0].Name {
		t.Errorf("rules pick = %q, want first candidate", activity.Name)
	}
	if rec.Urgency != "high" {
		t.Errorf("urgency = %q, want high for critical posture", rec.Urgency)
	}
}

func TestRecommendationCarriesActivity(t *testing.T) {
	s := NewSelector(&model.Ref{})
	rec, activity := s.Generate(5, risk.ShoulderAlignment, testNow)

	if rec.Name != activity.Name || rec.Description != activity.Description {
		t.Errorf("rec fields diverge from activity: %+v vs %+v", rec, activity)
	}
	if len(rec.Steps) != len(activity.Steps) {
		t.Errorf("steps = %d, want %d", len(rec.Steps), len(activity.Steps))
	}
	if rec.RiskTag != risk.ShoulderAlignment {
		t.Errorf("risk tag = %q", rec.RiskTag)
	}
	if rec.Urgency != "medium" {
		t.Errorf("urgency = %q, want medium", rec.Urgency)
	}
}

func assertMember(t *testing.T, activity catalog.Activity, candidates []catalog.Activity) {
	t.Helper()
	for _, c := range candidates {
		if c.Name == activity.Name {
			return
		}
	}
	t.Errorf("activity %q not in candidate set", activity.Name)
}
