// Package chronic runs the daily long-window checks for persistent stress
// and recurring posture risk.
package chronic

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pawsture/wellmon/internal/config"
	"github.com/pawsture/wellmon/internal/logging"
	"github.com/pawsture/wellmon/internal/render"
	"github.com/pawsture/wellmon/internal/store"
)

// Notice is one chronic finding ready for delivery.
type Notice struct {
	UserID int
	Kind   string // "stress" or "posture"
	Text   string
}

// Monitor evaluates the chronic rules at most once per local date and never
// repeats a (user, kind) notice within the same date.
type Monitor struct {
	gw         store.Gateway
	thresholds config.Thresholds
	windows    config.Windows

	lastDate string
	fired    map[string]bool
}

func NewMonitor(gw store.Gateway, thresholds config.Thresholds, windows config.Windows) *Monitor {
	return &Monitor{
		gw:         gw,
		thresholds: thresholds,
		windows:    windows,
		fired:      make(map[string]bool),
	}
}

// Check runs the chronic pass if it has not yet run on now's local date.
func (m *Monitor) Check(ctx context.Context, now time.Time) ([]Notice, error) {
	date := now.Format("2006-01-02")
	if date == m.lastDate {
		return nil, nil
	}
	m.lastDate = date
	m.fired = make(map[string]bool)

	users, err := m.activeUsers(ctx, now)
	if err != nil {
		return nil, err
	}

	var notices []Notice
	for _, userID := range users {
		if n, ok := m.checkStress(ctx, userID, now); ok {
			notices = append(notices, n)
		}
		if n, ok := m.checkPosture(ctx, userID, now); ok {
			notices = append(notices, n)
		}
	}
	logging.Info("chronic", "daily pass for %s: %d users, %d notices", date, len(users), len(notices))
	return notices, nil
}

// activeUsers collects the distinct user ids seen in the chronic windows.
func (m *Monitor) activeUsers(ctx context.Context, now time.Time) ([]int, error) {
	seen := map[int]bool{}

	posture, err := m.gw.RecentPosture(ctx, now.Add(-m.windows.ChronicPosture), 0)
	if err != nil {
		return nil, fmt.Errorf("chronic posture scan: %w", err)
	}
	for _, p := range posture {
		seen[p.UserID] = true
	}

	emotions, err := m.gw.RecentEmotions(ctx, now.Add(-m.windows.ChronicStress), nil)
	if err != nil {
		return nil, fmt.Errorf("chronic emotion scan: %w", err)
	}
	for _, e := range emotions {
		seen[e.UserID] = true
	}

	users := make([]int, 0, len(seen))
	for id := range seen {
		users = append(users, id)
	}
	sort.Ints(users)
	return users, nil
}

func (m *Monitor) checkStress(ctx context.Context, userID int, now time.Time) (Notice, bool) {
	if m.fired[firedKey(userID, "stress")] {
		return Notice{}, false
	}
	levels, err := m.gw.StressLevels(ctx, userID, now.Add(-m.windows.ChronicStress))
	if err != nil {
		logging.Warn("chronic", "stress check for user %d failed: %v", userID, err)
		return Notice{}, false
	}
	if len(levels) < m.thresholds.ChronicStressSamples {
		return Notice{}, false
	}
	var sum float64
	for _, v := range levels {
		sum += v
	}
	mean := sum / float64(len(levels))
	if mean < m.thresholds.ChronicStressMean {
		return Notice{}, false
	}
	m.fired[firedKey(userID, "stress")] = true
	return Notice{
		UserID: userID,
		Kind:   "stress",
		Text:   render.ChronicStress(userID, mean, len(levels)),
	}, true
}

func (m *Monitor) checkPosture(ctx context.Context, userID int, now time.Time) (Notice, bool) {
	if m.fired[firedKey(userID, "posture")] {
		return Notice{}, false
	}
	count, err := m.gw.NeckBendAlertCount(ctx, userID, now.Add(-m.windows.ChronicPosture))
	if err != nil {
		logging.Warn("chronic", "posture check for user %d failed: %v", userID, err)
		return Notice{}, false
	}
	if count < m.thresholds.ChronicPostureCount {
		return Notice{}, false
	}
	m.fired[firedKey(userID, "posture")] = true
	return Notice{
		UserID: userID,
		Kind:   "posture",
		Text:   render.ChronicPosture(userID, count),
	}, true
}

func firedKey(userID int, kind string) string {
	return fmt.Sprintf("%d:%s", userID, kind)
}

// Run drives the monitor: an hourly wake-up that fires the pass on the first
// tick of each new local date. Notices go to send.
func (m *Monitor) Run(ctx context.Context, send func(Notice)) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		notices, err := m.Check(ctx, time.Now())
		if err != nil {
			logging.Warn("chronic", "daily pass failed: %v", err)
		}
		for _, n := range notices {
			send(n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
