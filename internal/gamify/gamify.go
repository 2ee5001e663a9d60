// Package gamify maintains the per-user points ledger that rewards engaging
// with recommendations.
package gamify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pawsture/wellmon/internal/logging"
	"github.com/pawsture/wellmon/internal/store"
)

const (
	initialPoints = 10.0
	minPoints     = 0.0
	maxPoints     = 10.0
)

// DeltaFor maps a response verb to its points delta. Unknown verbs earn
// nothing.
func DeltaFor(response string) float64 {
	switch response {
	case "accept":
		return 0.2
	case "postpone":
		return 0
	case "reject":
		return -0.2
	default:
		return 0
	}
}

// Ledger serialises point updates through the gateway. Updates are
// last-writer-wins on the store row; the mutex keeps this process's
// read-modify-write cycles from interleaving.
type Ledger struct {
	mu sync.Mutex
	gw store.Gateway
}

func NewLedger(gw store.Gateway) *Ledger {
	return &Ledger{gw: gw}
}

// AddPoints applies a delta to a user's score and returns the new value.
// A user seen for the first time starts at 10.0 before the delta applies;
// the result is clamped to [0, 10].
func (l *Ledger) AddPoints(ctx context.Context, userID int, delta float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	points := initialPoints
	entry, err := l.gw.GamificationGet(ctx, userID)
	switch {
	case err == nil:
		points = entry.Points
	case errors.Is(err, store.ErrNotFound):
		logging.Info("gamify", "initialising user %d at %.1f points", userID, initialPoints)
	default:
		return 0, fmt.Errorf("read points: %w", err)
	}

	points += delta
	if points > maxPoints {
		points = maxPoints
	}
	if points < minPoints {
		points = minPoints
	}

	err = l.gw.GamificationUpsert(ctx, store.GamificationEntry{
		UserID:      userID,
		Points:      points,
		LastUpdated: time.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("write points: %w", err)
	}
	return points, nil
}

// Leaderboard returns the current ranking, best first.
func (l *Ledger) Leaderboard(ctx context.Context) ([]store.LeaderboardRow, error) {
	return l.gw.Leaderboard(ctx)
}
