package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pawsture/wellmon/internal/config"
	"github.com/pawsture/wellmon/internal/cooldown"
	"github.com/pawsture/wellmon/internal/detect"
	"github.com/pawsture/wellmon/internal/model"
	"github.com/pawsture/wellmon/internal/recommend"
	"github.com/pawsture/wellmon/internal/store"
	"github.com/pawsture/wellmon/internal/subscribers"
)

var testNow = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

type fakeGateway struct {
	store.Gateway
	posture  []store.PostureSample
	emotions []store.EmotionSample
	stress   []store.EmotionSample
	recs     []store.Recommendation
	failRecs bool
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
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeGateway) InsertRecommendation(ctx context.Context, rec store.Recommendation) error {
	if f.failRecs {
		return fmt.Errorf("%w: boom", store.ErrTransient)
	}
	f.recs = append(f.recs, rec)
	return nil
}

type sent struct {
	subscriber int64
	text       string
	recID      string
}

type fakeTransport struct {
	messages []sent
	fail     bool
}

func (f *fakeTransport) Send(subscriber int64, text string, recID string) error {
	if f.fail {
		return fmt.Errorf("transport down")
	}
	f.messages = append(f.messages, sent{subscriber, text, recID})
	return nil
}

type harness struct {
	gw        *fakeGateway
	transport *fakeTransport
	cooldowns *cooldown.Table
	subs      *subscribers.Set
	d         *Dispatcher
	now       time.Time
}

func newHarness(t *testing.T, gw *fakeGateway) *harness {
	t.Helper()
	cfg := config.Default()

	subs, err := subscribers.Load(filepath.Join(t.TempDir(), "subs.json"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := subs.Add(100); err != nil {
		t.Fatal(err)
	}

	h := &harness{
		gw:        gw,
		transport: &fakeTransport{},
		cooldowns: cooldown.NewTable(cfg.Cooldowns),
		subs:      subs,
		now:       testNow,
	}
	detector := detect.New(gw, cfg.Thresholds, cfg.Windows)
	selector := recommend.NewSelector(&model.Ref{})
	h.d = New(gw, detector, selector, h.cooldowns, subs, h.transport, cfg)
	h.d.now = func() time.Time { return h.now }
	return h
}

func postureRows(userID, n, zone int, at time.Time) []store.PostureSample {
	out := make([]store.PostureSample, n)
	for i := range out {
		out[i] = store.PostureSample{
			UserID: userID, OverallZone: zone,
			NeckFlexion: -1, NeckLateralBend: -1, ShoulderAlignment: -1, ArmAbduction: -1,
			Timestamp: at,
		}
	}
	return out
}

// Critical posture for a single user: one message with the critical title,
// buttons attached, audit row written, l3 cooldown fired.
func TestCriticalPostureAlert(t *testing.T) {
	gw := &fakeGateway{posture: postureRows(7, 4, 4, testNow)}
	h := newHarness(t, gw)

	h.d.PostureTick(context.Background())

	if len(h.transport.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(h.transport.messages))
	}
	m := h.transport.messages[0]
	if m.subscriber != 100 {
		t.Errorf("subscriber = %d", m.subscriber)
	}
	if !strings.Contains(m.text, "CRITICAL POSTURE ALERT") {
		t.Errorf("title missing:\n%s", m.text)
	}
	if !strings.Contains(m.text, "User 7") {
		t.Errorf("user missing:\n%s", m.text)
	}
	if m.recID == "" {
		t.Error("no buttons on an actionable alert")
	}
	if len(gw.recs) != 1 || gw.recs[0].RiskTag != "critical_posture" {
		t.Errorf("audit rows = %+v", gw.recs)
	}
	if !h.cooldowns.Active(100, 7, cooldown.PostureL3, testNow.Add(time.Second)) {
		t.Error("l3 cooldown not fired")
	}
	// The recommendation is COLD: the model has never trained.
	if gw.recs[0].Source != "COLD" {
		t.Errorf("source = %q, want COLD", gw.recs[0].Source)
	}
}

// Only level-2 findings: informational message without buttons, no audit
// row, l2 cooldown fired.
func TestLevelTwoInformational(t *testing.T) {
	gw := &fakeGateway{posture: postureRows(3, 6, 2, testNow)}
	h := newHarness(t, gw)

	h.d.PostureTick(context.Background())

	if len(h.transport.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(h.transport.messages))
	}
	m := h.transport.messages[0]
	if m.recID != "" {
		t.Error("informational message carries buttons")
	}
	if len(gw.recs) != 0 {
		t.Errorf("audit rows = %+v, want none", gw.recs)
	}
	if !h.cooldowns.Active(100, 3, cooldown.PostureL2, testNow.Add(time.Second)) {
		t.Error("l2 cooldown not fired")
	}
	if h.cooldowns.Active(100, 3, cooldown.PostureL3, testNow.Add(time.Second)) {
		t.Error("l3 cooldown fired for a level-2 alert")
	}
}

// A user with both level-3 and level-2 findings gets exactly one message,
// through the l3 channel.
func TestLevelThreePreemptsLevelTwo(t *testing.T) {
	rows := postureRows(5, 5, 3, testNow) // HIGH (level 3)
	// A sustained zone-2 region that would, alone, be informational.
	extra := postureRows(5, 4, 2, testNow)
	for i := range extra {
		extra[i].ShoulderAlignment = 2
	}
	rows = append(rows, extra...)
	gw := &fakeGateway{posture: rows}
	h := newHarness(t, gw)

	h.d.PostureTick(context.Background())

	if len(h.transport.messages) != 1 {
		t.Fatalf("messages = %d, want exactly 1", len(h.transport.messages))
	}
	if h.transport.messages[0].recID == "" {
		t.Error("preempting message should be the actionable one")
	}
	if h.cooldowns.Active(100, 5, cooldown.PostureL2, testNow.Add(time.Second)) {
		t.Error("l2 fired despite l3 preemption")
	}
}

// Cooldown across ticks: the second tick suppresses for the existing
// subscriber but a newly added subscriber still receives.
func TestCooldownAcrossTicks(t *testing.T) {
	gw := &fakeGateway{posture: postureRows(5, 5, 3, testNow)}
	h := newHarness(t, gw)

	h.d.PostureTick(context.Background())
	if len(h.transport.messages) != 1 {
		t.Fatalf("first tick messages = %d, want 1", len(h.transport.messages))
	}

	// 10s later the same condition persists; subscriber 200 joins between
	// ticks.
	h.now = testNow.Add(10 * time.Second)
	for i := range gw.posture {
		gw.posture[i].Timestamp = h.now
	}
	if _, err := h.subs.Add(200); err != nil {
		t.Fatal(err)
	}

	h.d.PostureTick(context.Background())

	if len(h.transport.messages) != 2 {
		t.Fatalf("total messages = %d, want 2", len(h.transport.messages))
	}
	if h.transport.messages[1].subscriber != 200 {
		t.Errorf("second message went to %d, want the new subscriber 200", h.transport.messages[1].subscriber)
	}
}

// A send failure does not roll the cooldown back.
func TestSendFailureKeepsCooldown(t *testing.T) {
	gw := &fakeGateway{posture: postureRows(7, 4, 4, testNow)}
	h := newHarness(t, gw)
	h.transport.fail = true

	h.d.PostureTick(context.Background())

	if len(h.transport.messages) != 0 {
		t.Fatalf("messages = %d, want 0", len(h.transport.messages))
	}
	if !h.cooldowns.Active(100, 7, cooldown.PostureL3, testNow.Add(time.Second)) {
		t.Error("cooldown rolled back after send failure")
	}
}

// No audit row means no sends and no cooldown usage that tick.
func TestAuditFailureSkipsDelivery(t *testing.T) {
	gw := &fakeGateway{posture: postureRows(7, 4, 4, testNow), failRecs: true}
	h := newHarness(t, gw)

	h.d.PostureTick(context.Background())

	if len(h.transport.messages) != 0 {
		t.Errorf("messages sent without an audit row")
	}
}

func TestEmotionTick(t *testing.T) {
	stress := make([]store.EmotionSample, 4)
	for i := range stress {
		stress[i] = store.EmotionSample{UserID: 9, Emotion: "neutral", StressLevel: "alto", Timestamp: testNow}
	}
	gw := &fakeGateway{stress: stress}
	h := newHarness(t, gw)

	h.d.EmotionTick(context.Background())

	if len(h.transport.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(h.transport.messages))
	}
	if h.transport.messages[0].recID == "" {
		t.Error("emotion alert should carry buttons")
	}
	if len(gw.recs) != 1 || gw.recs[0].RiskTag != "stress_high" {
		t.Errorf("audit rows = %+v", gw.recs)
	}
	if !h.cooldowns.Active(100, 9, cooldown.Emotion, testNow.Add(time.Second)) {
		t.Error("emotion cooldown not fired")
	}
	if h.cooldowns.Active(100, 9, cooldown.PostureL3, testNow.Add(time.Second)) {
		t.Error("posture cooldown fired by an emotion alert")
	}
}

func TestManualNoData(t *testing.T) {
	h := newHarness(t, &fakeGateway{})

	result, err := h.d.Manual(context.Background(), 100, 5)
	if err != nil {
		t.Fatalf("Manual: %v", err)
	}
	if !strings.Contains(result.Text, "No recommendation") {
		t.Errorf("text = %q", result.Text)
	}
	if result.RecID != "" {
		t.Error("no-data reply carries buttons")
	}
}

func TestManualGeneratesAndHonoursCooldown(t *testing.T) {
	gw := &fakeGateway{posture: postureRows(7, 4, 4, testNow)}
	h := newHarness(t, gw)

	result, err := h.d.Manual(context.Background(), 100, 7)
	if err != nil {
		t.Fatalf("Manual: %v", err)
	}
	if result.RecID == "" {
		t.Fatal("manual critical recommendation has no buttons")
	}
	if !strings.Contains(result.Text, "CRITICAL POSTURE ALERT") {
		t.Errorf("text = %q", result.Text)
	}
	if len(gw.recs) != 1 {
		t.Errorf("audit rows = %d, want 1", len(gw.recs))
	}

	// Immediately repeating the command hits the cooldown.
	blocked, err := h.d.Manual(context.Background(), 100, 7)
	if err != nil {
		t.Fatalf("second Manual: %v", err)
	}
	if !strings.Contains(blocked.Text, "cooldown") {
		t.Errorf("blocked text = %q", blocked.Text)
	}
	if blocked.RecID != "" {
		t.Error("blocked reply carries buttons")
	}
}

func TestManualPrefersCriticalPostureOverEmotion(t *testing.T) {
	stress := make([]store.EmotionSample, 6)
	for i := range stress {
		stress[i] = store.EmotionSample{UserID: 7, Emotion: "neutral", StressLevel: "alto", Timestamp: testNow}
	}
	gw := &fakeGateway{
		posture: postureRows(7, 4, 4, testNow),
		stress:  stress,
	}
	h := newHarness(t, gw)

	result, err := h.d.Manual(context.Background(), 100, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(gw.recs) != 1 || gw.recs[0].RiskTag != "critical_posture" {
		t.Errorf("risk tag = %+v, want critical_posture to win", gw.recs)
	}
	if !strings.Contains(result.Text, "CRITICAL") {
		t.Errorf("text = %q", result.Text)
	}
}
