// Package dispatch drives the periodic detect -> classify -> select ->
// render -> send loop and enforces the cooldown rules.
package dispatch

import (
	"context"
	"time"

	"github.com/pawsture/wellmon/internal/config"
	"github.com/pawsture/wellmon/internal/cooldown"
	"github.com/pawsture/wellmon/internal/detect"
	"github.com/pawsture/wellmon/internal/logging"
	"github.com/pawsture/wellmon/internal/recommend"
	"github.com/pawsture/wellmon/internal/render"
	"github.com/pawsture/wellmon/internal/risk"
	"github.com/pawsture/wellmon/internal/store"
	"github.com/pawsture/wellmon/internal/subscribers"
)

// Transport delivers outbound messages. recID, when non-empty, asks the
// transport to attach the accept/postpone/reject buttons for that
// recommendation.
type Transport interface {
	Send(subscriber int64, text string, recID string) error
}

// Result is the outcome of a manual recommendation request.
type Result struct {
	Text  string
	RecID string // non-empty when the message should carry buttons
}

// Dispatcher owns the posture and emotion tick loops.
type Dispatcher struct {
	gw        store.Gateway
	detector  *detect.Detector
	selector  *recommend.Selector
	cooldowns *cooldown.Table
	subs      *subscribers.Set
	transport Transport
	cfg       config.Config

	now func() time.Time
}

func New(gw store.Gateway, detector *detect.Detector, selector *recommend.Selector,
	cooldowns *cooldown.Table, subs *subscribers.Set, transport Transport, cfg config.Config) *Dispatcher {
	return &Dispatcher{
		gw:        gw,
		detector:  detector,
		selector:  selector,
		cooldowns: cooldowns,
		subs:      subs,
		transport: transport,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run starts the two domain loops and blocks until ctx is cancelled. The
// emotion loop is staggered by half a tick so the two domains never query the
// store at the same instant.
func (d *Dispatcher) Run(ctx context.Context) {
	go d.loop(ctx, "posture", 0, d.PostureTick)
	d.loop(ctx, "emotion", d.cfg.TickInterval/2, d.EmotionTick)
}

// loop executes tick serially on the interval. A tick that overruns simply
// delays the next one; ticks of one domain never overlap.
func (d *Dispatcher) loop(ctx context.Context, name string, stagger time.Duration, tick func(context.Context)) {
	if stagger > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(stagger):
		}
	}
	logging.Info(name, "dispatcher started, tick %s", d.cfg.TickInterval)

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, d.cfg.DetectionDeadline())
			tick(tickCtx)
			cancel()
		}
	}
}

// PostureTick runs one posture pass at the current instant.
func (d *Dispatcher) PostureTick(ctx context.Context) {
	now := d.now()
	users, err := d.detector.Posture(ctx, now)
	if err != nil {
		logging.Warn("posture", "detection failed, skipping tick: %v", err)
		return
	}

	for _, u := range users {
		if u.MaxLevel() >= 3 {
			// Level 3 preempts: any level-2 findings for this user are
			// dropped for the whole tick.
			d.deliverActionable(ctx, u.UserID, levelAlerts(u.Alerts, 3), cooldown.PostureL3, now)
		} else {
			d.deliverInformational(u.UserID, u.Alerts, now)
		}
	}
}

// EmotionTick runs one emotion pass at the current instant.
func (d *Dispatcher) EmotionTick(ctx context.Context) {
	now := d.now()
	users, err := d.detector.Emotions(ctx, now)
	if err != nil {
		logging.Warn("emotion", "detection failed, skipping tick: %v", err)
		return
	}

	for _, u := range users {
		d.deliverActionable(ctx, u.UserID, u.Alerts, cooldown.Emotion, now)
	}
}

// deliverActionable generates one recommendation for the user and fans it out
// to every subscriber whose cooldown is clear. The audit row is written before
// any delivery; a send failure does not roll the cooldown back.
func (d *Dispatcher) deliverActionable(ctx context.Context, userID int, alerts []detect.Alert, channel string, now time.Time) {
	clear := d.clearSubscribers(userID, channel, now)
	if len(clear) == 0 {
		return
	}

	tag := risk.Classify(alerts)
	rec, _ := d.selector.Generate(userID, tag, now)
	if err := d.gw.InsertRecommendation(ctx, rec); err != nil {
		logging.Warn(channelDomain(channel), "audit insert for user %d failed: %v", userID, err)
		return
	}

	text := render.Recommendation(userID, alerts, rec)
	for _, sub := range clear {
		d.cooldowns.Fire(sub, userID, channel, now)
		if err := d.transport.Send(sub, text, rec.ID); err != nil {
			logging.Warn(channelDomain(channel), "send to %d failed (cooldown kept): %v", sub, err)
		}
	}
	logging.Info(channelDomain(channel), "alert for user %d (%s, %s) sent to %d subscribers",
		userID, tag, rec.Source, len(clear))
}

// deliverInformational sends the button-less level-2 notice on its own
// channel; no recommendation row is written.
func (d *Dispatcher) deliverInformational(userID int, alerts []detect.Alert, now time.Time) {
	clear := d.clearSubscribers(userID, cooldown.PostureL2, now)
	if len(clear) == 0 {
		return
	}

	text := render.Informational(userID, alerts)
	for _, sub := range clear {
		d.cooldowns.Fire(sub, userID, cooldown.PostureL2, now)
		if err := d.transport.Send(sub, text, ""); err != nil {
			logging.Warn("posture", "informational send to %d failed (cooldown kept): %v", sub, err)
		}
	}
}

// clearSubscribers returns, in insertion order, the subscribers whose
// cooldown on the channel is not active.
func (d *Dispatcher) clearSubscribers(userID int, channel string, now time.Time) []int64 {
	var clear []int64
	for _, sub := range d.subs.All() {
		if !d.cooldowns.Active(sub, userID, channel, now) {
			clear = append(clear, sub)
		}
	}
	return clear
}

// Manual handles the one-off recommendation command for a single user:
// detection is re-run for that user only, critical posture wins the
// arbitration, otherwise the domain with more alerts. The requesting
// subscriber's cooldown is honoured.
func (d *Dispatcher) Manual(ctx context.Context, subscriber int64, userID int) (Result, error) {
	now := d.now()

	postureUsers, err := d.detector.Posture(ctx, now)
	if err != nil {
		return Result{}, err
	}
	emotionUsers, err := d.detector.Emotions(ctx, now)
	if err != nil {
		return Result{}, err
	}
	posture := alertsFor(postureUsers, userID)
	emotion := alertsFor(emotionUsers, userID)

	if len(posture) == 0 && len(emotion) == 0 {
		return Result{Text: render.NoData(userID)}, nil
	}

	alerts := emotion
	channel := cooldown.Emotion
	if hasCritical(posture) || len(posture) >= len(emotion) {
		channel = cooldown.PostureL3
		alerts = levelAlerts(posture, 3)
		if len(alerts) == 0 {
			// Only level-2 posture findings: still useful as a reply, but
			// informational.
			if d.cooldowns.Active(subscriber, userID, cooldown.PostureL2, now) {
				return Result{Text: render.CooldownBlocked(d.cooldowns.Remaining(subscriber, userID, cooldown.PostureL2, now))}, nil
			}
			d.cooldowns.Fire(subscriber, userID, cooldown.PostureL2, now)
			return Result{Text: render.Informational(userID, posture)}, nil
		}
	}

	if d.cooldowns.Active(subscriber, userID, channel, now) {
		return Result{Text: render.CooldownBlocked(d.cooldowns.Remaining(subscriber, userID, channel, now))}, nil
	}

	tag := risk.Classify(alerts)
	rec, _ := d.selector.Generate(userID, tag, now)
	if err := d.gw.InsertRecommendation(ctx, rec); err != nil {
		return Result{}, err
	}
	d.cooldowns.Fire(subscriber, userID, channel, now)
	return Result{Text: render.Recommendation(userID, alerts, rec), RecID: rec.ID}, nil
}

// Broadcast sends a plain text message to every subscriber.
func (d *Dispatcher) Broadcast(text string) {
	for _, sub := range d.subs.All() {
		if err := d.transport.Send(sub, text, ""); err != nil {
			logging.Warn("bot", "broadcast to %d failed: %v", sub, err)
		}
	}
}

func levelAlerts(alerts []detect.Alert, level int) []detect.Alert {
	var out []detect.Alert
	for _, a := range alerts {
		if a.Level >= level {
			out = append(out, a)
		}
	}
	return out
}

func alertsFor(users []detect.UserAlerts, userID int) []detect.Alert {
	for _, u := range users {
		if u.UserID == userID {
			return u.Alerts
		}
	}
	return nil
}

func hasCritical(alerts []detect.Alert) bool {
	for _, a := range alerts {
		if a.Kind == detect.CriticalPosture {
			return true
		}
	}
	return false
}

func channelDomain(channel string) string {
	if channel == cooldown.Emotion {
		return "emotion"
	}
	return "posture"
}
