// Package recommend selects the activity to propose for a risk tag,
// personalised through the model when possible.
package recommend

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pawsture/wellmon/internal/catalog"
	"github.com/pawsture/wellmon/internal/logging"
	"github.com/pawsture/wellmon/internal/model"
	"github.com/pawsture/wellmon/internal/store"
)

// Recommendation provenance labels.
const (
	SourceAI    = "AI"
	SourceCold  = "COLD"
	SourceRules = "RULES"
)

// Selector turns (user, risk tag) into a concrete recommendation. A nil model
// reference degrades to deterministic rule-based selection.
type Selector struct {
	ref *model.Ref

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSelector(ref *model.Ref) *Selector {
	return &Selector{ref: ref, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Generate picks an activity for the user and builds the immutable
// recommendation row. Selection policy:
//   - model ready and user known: highest expected reward among the tag's
//     candidates, source AI
//   - model missing entirely: first candidate, source RULES
//   - otherwise: uniform random candidate, source COLD
func (s *Selector) Generate(userID int, riskTag string, now time.Time) (store.Recommendation, catalog.Activity) {
	candidates := catalog.Candidates(riskTag)

	activity, source := s.pick(userID, candidates, now)
	rec := store.Recommendation{
		ID:          s.newID(userID, now),
		RiskTag:     riskTag,
		Type:        activity.Type,
		Name:        activity.Name,
		Description: activity.Description,
		Duration:    activity.Duration,
		Urgency:     urgencyOf(riskTag),
		Source:      source,
		Steps:       activity.Steps,
		CreatedAt:   now,
	}
	logging.Debug("model", "selected %q for user %d tag %s (source %s)", activity.Name, userID, riskTag, source)
	return rec, activity
}

func (s *Selector) pick(userID int, candidates []catalog.Activity, now time.Time) (catalog.Activity, string) {
	if s.ref == nil {
		return candidates[0], SourceRules
	}

	snapshot := s.ref.Load()
	ctx := model.ContextOf(now)
	userKey := strconv.Itoa(userID)

	best := -1
	bestScore := 0.0
	for i, c := range candidates {
		score, ok := snapshot.Score(userKey, ctx, c.Name)
		if !ok {
			continue
		}
		if best == -1 || score > bestScore {
			best, bestScore = i, score
		}
	}
	if best >= 0 {
		return candidates[best], SourceAI
	}

	s.mu.Lock()
	i := s.rng.Intn(len(candidates))
	s.mu.Unlock()
	return candidates[i], SourceCold
}

func urgencyOf(riskTag string) string {
	if riskTag == "critical_posture" {
		return "high"
	}
	return "medium"
}

// newID mints a recommendation id: rec_<user>_<YYYYMMDDHHMMSS>_<4 digits>.
func (s *Selector) newID(userID int, now time.Time) string {
	s.mu.Lock()
	n := s.rng.Intn(10000)
	s.mu.Unlock()
	return fmt.Sprintf("rec_%d_%s_%04d", userID, now.Format("20060102150405"), n)
}

// ParseTriggeredUser extracts the triggered user from a recommendation id.
// ok is false for anything that does not follow the grammar.
func ParseTriggeredUser(id string) (int, bool) {
	parts := strings.Split(id, "_")
	if len(parts) < 2 || parts[0] != "rec" {
		return 0, false
	}
	user, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return user, true
}
