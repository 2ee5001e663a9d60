// Package cooldown tracks per-(subscriber, user, channel) last-fire times so
// one sustained condition produces one message per cooldown period.
package cooldown

import (
	"sync"
	"time"

	"github.com/pawsture/wellmon/internal/config"
)

// Logical channels. Each has its own timer per (subscriber, user) pair.
const (
	PostureL3 = "posture_l3"
	PostureL2 = "posture_l2"
	Emotion   = "emotion"
)

type key struct {
	subscriber int64
	user       int
	channel    string
}

// Table is the in-memory cooldown state. Entries are never evicted; the
// population bound keeps the table small.
type Table struct {
	mu        sync.Mutex
	lastFire  map[key]time.Time
	cooldowns config.Cooldowns
}

func NewTable(cooldowns config.Cooldowns) *Table {
	return &Table{
		lastFire:  make(map[key]time.Time),
		cooldowns: cooldowns,
	}
}

func (t *Table) duration(channel string) time.Duration {
	switch channel {
	case PostureL3:
		return t.cooldowns.PostureL3
	case PostureL2:
		return t.cooldowns.PostureL2
	default:
		return t.cooldowns.Emotion
	}
}

// Active reports whether the cooldown for the key is still running at now.
func (t *Table) Active(subscriber int64, user int, channel string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.lastFire[key{subscriber, user, channel}]
	return ok && now.Sub(last) < t.duration(channel)
}

// Remaining returns how long the cooldown has left at now; zero when clear.
func (t *Table) Remaining(subscriber int64, user int, channel string, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.lastFire[key{subscriber, user, channel}]
	if !ok {
		return 0
	}
	if left := t.duration(channel) - now.Sub(last); left > 0 {
		return left
	}
	return 0
}

// Fire records a send at now, starting the cooldown. Fired regardless of
// whether the send afterwards succeeds.
func (t *Table) Fire(subscriber int64, user int, channel string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastFire[key{subscriber, user, channel}] = now
}
