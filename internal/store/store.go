// Package store is the gateway to the shared row store that the vision
// clients write into. Two implementations exist: a PostgREST HTTP client for
// the hosted store and a sqlite-backed store for local deployments and tests.
package store

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy. Callers distinguish these with errors.Is; everything else
// wrapping them keeps the sentinel in the chain.
var (
	// ErrTransient marks I/O and timeout failures worth retrying.
	ErrTransient = errors.New("transient store error")
	// ErrNotFound marks a lookup that matched no row.
	ErrNotFound = errors.New("row not found")
	// ErrShape marks a row or result missing an expected column.
	ErrShape = errors.New("row shape mismatch")
)

// TimeLayout is the second-resolution ISO-8601 form every table uses.
const TimeLayout = "2006-01-02 15:04:05"

// PostureSample is one vision-client posture measurement. Zones are ordinal
// 0-4; a region the client could not measure is -1.
type PostureSample struct {
	UserID            int
	Timestamp         time.Time
	OverallZone       int
	NeckFlexion       int
	NeckLateralBend   int
	ShoulderAlignment int
	ArmAbduction      int
}

// EmotionSample is one vision-client affect measurement. StressLevel is the
// bucketed label ("muy bajo".."muy alto") but some producers write a numeric
// 1-10 string instead; both forms are kept as written.
type EmotionSample struct {
	UserID      int
	Timestamp   time.Time
	Emotion     string
	StressLevel string
	StressScore float64
}

// Recommendation is the audit row written for every generated intervention.
// Immutable once inserted.
type Recommendation struct {
	ID          string
	RiskTag     string
	Type        string
	Name        string
	Description string
	Duration    string
	Urgency     string
	Source      string
	Steps       []string
	CreatedAt   time.Time
}

// Response is one subscriber reaction to a recommendation.
type Response struct {
	RecommendationID string
	UserID           int
	Username         string
	Response         string
	CreatedAt        time.Time
}

// GamificationEntry is the per-user points row.
type GamificationEntry struct {
	UserID      int
	Points      float64
	LastUpdated time.Time
}

// LeaderboardRow is a gamification entry joined with the employee name.
type LeaderboardRow struct {
	Name   string
	Points float64
}

// FeedbackRow is one Response joined with its Recommendation, the unit the
// training loop consumes.
type FeedbackRow struct {
	UserID    int
	Activity  string
	Response  string
	CreatedAt time.Time
}

// Gateway is the typed surface over the row store. Implementations map
// transport failures onto the sentinel errors above and retry transient
// failures internally with bounded backoff.
type Gateway interface {
	// RecentPosture returns posture rows at or after since with
	// overall_zone >= minOverall (0 disables the zone filter), newest first.
	RecentPosture(ctx context.Context, since time.Time, minOverall int) ([]PostureSample, error)

	// RecentEmotions returns emotion rows at or after since, newest first,
	// optionally restricted to the given emotion labels.
	RecentEmotions(ctx context.Context, since time.Time, emotions []string) ([]EmotionSample, error)

	// RecentHighStress returns emotion rows at or after since whose bucketed
	// stress level is "alto".
	RecentHighStress(ctx context.Context, since time.Time) ([]EmotionSample, error)

	// StressLevels returns the numeric stress levels (1-10) recorded for a
	// user at or after since. Bucket-labelled rows are skipped.
	StressLevels(ctx context.Context, userID int, since time.Time) ([]float64, error)

	// NeckBendAlertCount counts posture rows for a user at or after since
	// with neck_lateral_bend zone >= 3.
	NeckBendAlertCount(ctx context.Context, userID int, since time.Time) (int, error)

	InsertRecommendation(ctx context.Context, rec Recommendation) error
	InsertResponse(ctx context.Context, resp Response) error

	// ResponsesSince returns a user's responses at or after since.
	ResponsesSince(ctx context.Context, userID int, since time.Time) ([]Response, error)

	// GamificationGet returns the points row for a user, or ErrNotFound.
	GamificationGet(ctx context.Context, userID int) (GamificationEntry, error)
	// GamificationUpsert writes the points row, creating it when absent.
	GamificationUpsert(ctx context.Context, entry GamificationEntry) error

	// Leaderboard returns every gamification row joined with employee names.
	Leaderboard(ctx context.Context) ([]LeaderboardRow, error)

	// TrainingHistory returns the full Response-Recommendation join.
	TrainingHistory(ctx context.Context) ([]FeedbackRow, error)

	Close() error
}

// NegativeEmotions are the affect labels the detection queries treat as
// negative.
var NegativeEmotions = []string{"sad", "fear", "angry", "disgust"}
