package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pawsture/wellmon/internal/logging"
)

// SQLite is the Gateway implementation over a local sqlite file, used for
// deployments without a hosted row store and for integration tests.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex // serialises writes; sqlite allows one writer
}

// OpenSQLite opens (creating if needed) the sqlite store at path.
// ":memory:" is accepted for tests.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Info("store", "sqlite store ready at %s", path)
	return s, nil
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS posture (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			id_usuario INTEGER NOT NULL,
			overall_zone INTEGER NOT NULL,
			neck_flexion_zone INTEGER DEFAULT -1,
			neck_lateral_bend_zone INTEGER DEFAULT -1,
			shoulder_alignment_zone INTEGER DEFAULT -1,
			arm_abduction_zone INTEGER DEFAULT -1,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posture_ts ON posture(timestamp)`,
		`CREATE TABLE IF NOT EXISTS emotions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			person_id INTEGER NOT NULL,
			emotion TEXT NOT NULL,
			stress_level TEXT,
			stress_score REAL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_emotions_ts ON emotions(created_at)`,
		`CREATE TABLE IF NOT EXISTS recommendations (
			id TEXT PRIMARY KEY,
			risk_tag TEXT,
			recommendation_type TEXT,
			name TEXT,
			description TEXT,
			duration TEXT,
			urgency TEXT,
			source TEXT,
			steps TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS recommendation_responses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recommendation_id TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			username TEXT,
			response TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS gamification (
			user_id INTEGER PRIMARY KEY,
			points REAL NOT NULL,
			last_updated TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS Employees (
			id INTEGER PRIMARY KEY,
			Name TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) RecentPosture(ctx context.Context, since time.Time, minOverall int) ([]PostureSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id_usuario, overall_zone, neck_flexion_zone, neck_lateral_bend_zone,
		       shoulder_alignment_zone, arm_abduction_zone, timestamp
		FROM posture
		WHERE timestamp >= ? AND overall_zone >= ?
		ORDER BY timestamp DESC`,
		since.Format(TimeLayout), minOverall)
	if err != nil {
		return nil, fmt.Errorf("%w: query posture: %v", ErrTransient, err)
	}
	defer rows.Close()

	var out []PostureSample
	for rows.Next() {
		var p PostureSample
		var ts string
		if err := rows.Scan(&p.UserID, &p.OverallZone, &p.NeckFlexion, &p.NeckLateralBend,
			&p.ShoulderAlignment, &p.ArmAbduction, &ts); err != nil {
			logging.Debug("store", "skipping malformed posture row: %v", err)
			continue
		}
		t, err := time.Parse(TimeLayout, ts)
		if err != nil {
			continue
		}
		p.Timestamp = t
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) RecentEmotions(ctx context.Context, since time.Time, emotions []string) ([]EmotionSample, error) {
	query := `
		SELECT person_id, emotion, COALESCE(stress_level, ''), stress_score, created_at
		FROM emotions WHERE created_at >= ?`
	args := []any{since.Format(TimeLayout)}
	if len(emotions) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(emotions)), ",")
		query += " AND emotion IN (" + placeholders + ")"
		for _, e := range emotions {
			args = append(args, e)
		}
	}
	query += " ORDER BY created_at DESC"
	return s.emotionQuery(ctx, query, args...)
}

func (s *SQLite) RecentHighStress(ctx context.Context, since time.Time) ([]EmotionSample, error) {
	return s.emotionQuery(ctx, `
		SELECT person_id, emotion, COALESCE(stress_level, ''), stress_score, created_at
		FROM emotions WHERE created_at >= ? AND stress_level = 'alto'
		ORDER BY created_at DESC`,
		since.Format(TimeLayout))
}

func (s *SQLite) emotionQuery(ctx context.Context, query string, args ...any) ([]EmotionSample, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query emotions: %v", ErrTransient, err)
	}
	defer rows.Close()

	var out []EmotionSample
	for rows.Next() {
		var e EmotionSample
		var ts string
		if err := rows.Scan(&e.UserID, &e.Emotion, &e.StressLevel, &e.StressScore, &ts); err != nil {
			logging.Debug("store", "skipping malformed emotion row: %v", err)
			continue
		}
		t, err := time.Parse(TimeLayout, ts)
		if err != nil {
			continue
		}
		e.Timestamp = t
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) StressLevels(ctx context.Context, userID int, since time.Time) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(stress_level, '') FROM emotions
		WHERE person_id = ? AND created_at >= ?`,
		userID, since.Format(TimeLayout))
	if err != nil {
		return nil, fmt.Errorf("%w: query stress levels: %v", ErrTransient, err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			continue
		}
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(raw), "%g", &f); err == nil {
			out = append(out, f)
		}
	}
	return out, rows.Err()
}

func (s *SQLite) NeckBendAlertCount(ctx context.Context, userID int, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM posture
		WHERE id_usuario = ? AND timestamp >= ? AND neck_lateral_bend_zone >= 3`,
		userID, since.Format(TimeLayout)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count neck bend: %v", ErrTransient, err)
	}
	return n, nil
}

func (s *SQLite) InsertRecommendation(ctx context.Context, rec Recommendation) error {
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO recommendations
		(id, risk_tag, recommendation_type, name, description, duration, urgency, source, steps, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RiskTag, rec.Type, rec.Name, rec.Description, rec.Duration,
		rec.Urgency, rec.Source, string(steps), rec.CreatedAt.Format(TimeLayout))
	if err != nil {
		return fmt.Errorf("insert recommendation: %w", err)
	}
	return nil
}

func (s *SQLite) InsertResponse(ctx context.Context, resp Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recommendation_responses
		(recommendation_id, user_id, username, response, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		resp.RecommendationID, resp.UserID, resp.Username, resp.Response,
		resp.CreatedAt.Format(TimeLayout))
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

func (s *SQLite) ResponsesSince(ctx context.Context, userID int, since time.Time) ([]Response, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT recommendation_id, user_id, COALESCE(username, ''), response, created_at
		FROM recommendation_responses
		WHERE user_id = ? AND created_at >= ?`,
		userID, since.Format(TimeLayout))
	if err != nil {
		return nil, fmt.Errorf("%w: query responses: %v", ErrTransient, err)
	}
	defer rows.Close()

	var out []Response
	for rows.Next() {
		var r Response
		var ts string
		if err := rows.Scan(&r.RecommendationID, &r.UserID, &r.Username, &r.Response, &ts); err != nil {
			continue
		}
		if t, err := time.Parse(TimeLayout, ts); err == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) GamificationGet(ctx context.Context, userID int) (GamificationEntry, error) {
	var entry GamificationEntry
	var ts string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, points, last_updated FROM gamification WHERE user_id = ?`,
		userID).Scan(&entry.UserID, &entry.Points, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return GamificationEntry{}, fmt.Errorf("%w: gamification user %d", ErrNotFound, userID)
	}
	if err != nil {
		return GamificationEntry{}, fmt.Errorf("%w: query gamification: %v", ErrTransient, err)
	}
	if t, err := time.Parse(TimeLayout, ts); err == nil {
		entry.LastUpdated = t
	}
	return entry, nil
}

func (s *SQLite) GamificationUpsert(ctx context.Context, entry GamificationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gamification (user_id, points, last_updated) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET points = excluded.points, last_updated = excluded.last_updated`,
		entry.UserID, entry.Points, entry.LastUpdated.Format(TimeLayout))
	if err != nil {
		return fmt.Errorf("upsert gamification: %w", err)
	}
	return nil
}

func (s *SQLite) Leaderboard(ctx context.Context) ([]LeaderboardRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.user_id, g.points, COALESCE(e.Name, '')
		FROM gamification g LEFT JOIN Employees e ON e.id = g.user_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: query leaderboard: %v", ErrTransient, err)
	}
	defer rows.Close()

	var out []LeaderboardRow
	for rows.Next() {
		var userID int
		var points float64
		var name string
		if err := rows.Scan(&userID, &points, &name); err != nil {
			continue
		}
		if name == "" {
			name = fmt.Sprintf("User %d", userID)
		}
		out = append(out, LeaderboardRow{Name: name, Points: points})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Points > out[j].Points })
	return out, rows.Err()
}

func (s *SQLite) TrainingHistory(ctx context.Context) ([]FeedbackRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.user_id, rec.name, r.response, r.created_at
		FROM recommendation_responses r
		JOIN recommendations rec ON rec.id = r.recommendation_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: query training history: %v", ErrTransient, err)
	}
	defer rows.Close()

	var out []FeedbackRow
	for rows.Next() {
		var f FeedbackRow
		var ts string
		if err := rows.Scan(&f.UserID, &f.Activity, &f.Response, &ts); err != nil {
			continue
		}
		if t, err := time.Parse(TimeLayout, ts); err == nil {
			f.CreatedAt = t
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- seed helpers used by local deployments and tests ---

func (s *SQLite) InsertPosture(ctx context.Context, p PostureSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posture
		(id_usuario, overall_zone, neck_flexion_zone, neck_lateral_bend_zone,
		 shoulder_alignment_zone, arm_abduction_zone, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.OverallZone, p.NeckFlexion, p.NeckLateralBend,
		p.ShoulderAlignment, p.ArmAbduction, p.Timestamp.Format(TimeLayout))
	if err != nil {
		return fmt.Errorf("insert posture: %w", err)
	}
	return nil
}

func (s *SQLite) InsertEmotion(ctx context.Context, e EmotionSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO emotions (person_id, emotion, stress_level, stress_score, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.UserID, e.Emotion, e.StressLevel, e.StressScore, e.Timestamp.Format(TimeLayout))
	if err != nil {
		return fmt.Errorf("insert emotion: %w", err)
	}
	return nil
}

func (s *SQLite) InsertEmployee(ctx context.Context, id int, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO Employees (id, Name) VALUES (?, ?)`, id, name)
	if err != nil {
		return fmt.Errorf("insert employee: %w", err)
	}
	return nil
}
