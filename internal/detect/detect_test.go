package detect

import (
	"context"
	"testing"
	"time"

	"github.com/pawsture/wellmon/internal/config"
	"github.com/pawsture/wellmon/internal/store"
)

// fakeGateway serves canned rows; unimplemented Gateway methods panic via the
// embedded nil interface, which is fine because detection never calls them.
type fakeGateway struct {
	store.Gateway
	posture  []store.PostureSample
	emotions []store.EmotionSample
	stress   []store.EmotionSample
}

func (f *fakeGateway) RecentPosture(ctx context.Context, since time.Time, minOverall int) ([]store.PostureSample, error) {
	var out []store.PostureSample
	for _, p := range f.posture {
		if !p.Timestamp.Before(since) && p.OverallZone >= minOverall {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeGateway) RecentEmotions(ctx context.Context, since time.Time, emotions []string) ([]store.EmotionSample, error) {
	allowed := map[string]bool{}
	for _, e := range emotions {
		allowed[e] = true
	}
	var out []store.EmotionSample
	for _, e := range f.emotions {
		if !e.Timestamp.Before(since) && (len(emotions) == 0 || allowed[e.Emotion]) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeGateway) RecentHighStress(ctx context.Context, since time.Time) ([]store.EmotionSample, error) {
	var out []store.EmotionSample
	for _, e := range f.stress {
		if !e.Timestamp.Before(since) && e.StressLevel == "alto" {
			out = append(out, e)
		}
	}
	return out, nil
}

var testNow = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

func newDetector(gw store.Gateway) *Detector {
	cfg := config.Default()
	return New(gw, cfg.Thresholds, cfg.Windows)
}

func postureRows(userID, n, zone int) []store.PostureSample {
	out := make([]store.PostureSample, n)
	for i := range out {
		out[i] = store.PostureSample{
			UserID: userID, OverallZone: zone,
			NeckFlexion: -1, NeckLateralBend: -1, ShoulderAlignment: -1, ArmAbduction: -1,
			Timestamp: testNow.Add(-time.Duration(i) * time.Second),
		}
	}
	return out
}

func emotionRows(userID, n int, emotion string) []store.EmotionSample {
	out := make([]store.EmotionSample, n)
	for i := range out {
		out[i] = store.EmotionSample{
			UserID: userID, Emotion: emotion,
			Timestamp: testNow.Add(-time.Duration(i) * time.Second),
		}
	}
	return out
}

func singleUser(t *testing.T, users []UserAlerts, userID int) UserAlerts {
	t.Helper()
	if len(users) != 1 {
		t.Fatalf("got %d users with alerts, want 1", len(users))
	}
	if users[0].UserID != userID {
		t.Fatalf("user = %d, want %d", users[0].UserID, userID)
	}
	return users[0]
}

func TestCriticalPosture(t *testing.T) {
	gw := &fakeGateway{posture: postureRows(7, 4, 4)}
	users, err := newDetector(gw).Posture(context.Background(), testNow)
	if err != nil {
		t.Fatal(err)
	}
	u := singleUser(t, users, 7)
	if len(u.Alerts) != 1 || u.Alerts[0].Kind != CriticalPosture {
		t.Fatalf("alerts = %+v, want one CriticalPosture", u.Alerts)
	}
	if u.Alerts[0].Level != 3 {
		t.Errorf("level = %d, want 3", u.Alerts[0].Level)
	}
}

func TestHighPostureBoundary(t *testing.T) {
	// Exactly T_high zone-3 rows fires; one less does not.
	gw := &fakeGateway{posture: postureRows(5, 5, 3)}
	users, err := newDetector(gw).Posture(context.Background(), testNow)
	if err != nil {
		t.Fatal(err)
	}
	u := singleUser(t, users, 5)
	if u.Alerts[0].Kind != HighPosture {
		t.Fatalf("kind = %v, want HighPosture", u.Alerts[0].Kind)
	}

	gw = &fakeGateway{posture: postureRows(5, 4, 3)}
	users, err = newDetector(gw).Posture(context.Background(), testNow)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 0 {
		t.Fatalf("below threshold still alerted: %+v", users)
	}
}

func TestMediumPostureIsLevelTwo(t *testing.T) {
	gw := &fakeGateway{posture: postureRows(3, 6, 2)}
	users, err := newDetector(gw).Posture(context.Background(), testNow)
	if err != nil {
		t.Fatal(err)
	}
	u := singleUser(t, users, 3)
	if u.Alerts[0].Kind != MediumPosture || u.Alerts[0].Level != 2 {
		t.Fatalf("alerts = %+v, want MediumPosture level 2", u.Alerts)
	}
	if u.MaxLevel() != 2 {
		t.Errorf("MaxLevel = %d, want 2", u.MaxLevel())
	}
}

func TestRegionAlert(t *testing.T) {
	rows := postureRows(4, 4, 1)
	for i := range rows {
		rows[i].NeckLateralBend = 3
	}
	gw := &fakeGateway{posture: rows}

	users, err := newDetector(gw).Posture(context.Background(), testNow)
	if err != nil {
		t.Fatal(err)
	}
	u := singleUser(t, users, 4)
	if len(u.Alerts) != 1 {
		t.Fatalf("alerts = %+v, want one region alert", u.Alerts)
	}
	a := u.Alerts[0]
	if a.Kind != RegionPosture || a.Region != "neck_lateral_bend" || a.Level != 3 {
		t.Errorf("alert = %+v", a)
	}
}

func TestRegionZoneTwoIsInformational(t *testing.T) {
	rows := postureRows(4, 4, 1)
	for i := range rows {
		rows[i].ShoulderAlignment = 2
	}
	gw := &fakeGateway{posture: rows}

	users, err := newDetector(gw).Posture(context.Background(), testNow)
	if err != nil {
		t.Fatal(err)
	}
	u := singleUser(t, users, 4)
	if u.Alerts[0].Level != 2 {
		t.Errorf("level = %d, want 2 for a zone-2 region", u.Alerts[0].Level)
	}
}

func TestPersistentEmotion(t *testing.T) {
	gw := &fakeGateway{emotions: emotionRows(9, 5, "sad")}
	users, err := newDetector(gw).Emotions(context.Background(), testNow)
	if err != nil {
		t.Fatal(err)
	}
	u := singleUser(t, users, 9)
	if len(u.Alerts) != 1 || u.Alerts[0].Kind != PersistentEmotion || u.Alerts[0].Emotion != "sad" {
		t.Fatalf("alerts = %+v, want persistent sad", u.Alerts)
	}
}

func TestMultipleNegativeNeedsHigherTotal(t *testing.T) {
	// A spread of negatives with no single emotion at T_same: below
	// T_neg+3 stays quiet, at T_neg+3 fires the generic alert.
	mixed := func(n int) []store.EmotionSample {
		emotions := []string{"sad", "fear", "angry", "disgust"}
		out := make([]store.EmotionSample, n)
		for i := range out {
			out[i] = store.EmotionSample{
				UserID: 2, Emotion: emotions[i%len(emotions)], Timestamp: testNow,
			}
		}
		return out
	}

	gw := &fakeGateway{emotions: mixed(7)}
	users, err := newDetector(gw).Emotions(context.Background(), testNow)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 0 {
		t.Fatalf("7 mixed rows alerted: %+v", users)
	}

	gw = &fakeGateway{emotions: mixed(8)}
	users, err = newDetector(gw).Emotions(context.Background(), testNow)
	if err != nil {
		t.Fatal(err)
	}
	u := singleUser(t, users, 2)
	if u.Alerts[0].Kind != MultipleNegative {
		t.Fatalf("alerts = %+v, want MultipleNegative", u.Alerts)
	}
}

func TestStressBoundary(t *testing.T) {
	stress := func(n int) []store.EmotionSample {
		out := make([]store.EmotionSample, n)
		for i := range out {
			out[i] = store.EmotionSample{
				UserID: 6, Emotion: "neutral", StressLevel: "alto", Timestamp: testNow,
			}
		}
		return out
	}

	gw := &fakeGateway{stress: stress(3)}
	users, err := newDetector(gw).Emotions(context.Background(), testNow)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 0 {
		t.Fatalf("below-threshold stress alerted: %+v", users)
	}

	gw = &fakeGateway{stress: stress(4)}
	users, err = newDetector(gw).Emotions(context.Background(), testNow)
	if err != nil {
		t.Fatal(err)
	}
	u := singleUser(t, users, 6)
	if u.Alerts[0].Kind != PersistentHighStress {
		t.Fatalf("alerts = %+v, want PersistentHighStress", u.Alerts)
	}
}

func TestUsersAscending(t *testing.T) {
	rows := append(postureRows(9, 4, 4), postureRows(2, 4, 4)...)
	gw := &fakeGateway{posture: rows}

	users, err := newDetector(gw).Posture(context.Background(), testNow)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 || users[0].UserID != 2 || users[1].UserID != 9 {
		t.Fatalf("order = %+v, want users 2 then 9", users)
	}
}

func TestMixedPersistentEmotionWithSpread(t *testing.T) {
	rows := append(emotionRows(1, 4, "angry"), emotionRows(1, 2, "sad")...)
	gw := &fakeGateway{emotions: rows}

	users, err := newDetector(gw).Emotions(context.Background(), testNow)
	if err != nil {
		t.Fatal(err)
	}
	u := singleUser(t, users, 1)
	if len(u.Alerts) != 1 || u.Alerts[0].Emotion != "angry" {
		t.Fatalf("alerts = %+v, want persistent angry only", u.Alerts)
	}
}
