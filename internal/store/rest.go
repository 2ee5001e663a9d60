package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pawsture/wellmon/internal/logging"
)

const (
	restPathPrefix = "/rest/v1/"

	maxAttempts = 3
	baseBackoff = 200 * time.Millisecond
)

// REST talks to a PostgREST-style row service (the hosted store the vision
// clients write into).
type REST struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	wait       func(context.Context, time.Duration)
}

// NewREST creates a gateway for the row service at baseURL.
func NewREST(baseURL, apiKey string) *REST {
	return &REST{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		wait: func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		},
	}
}

func (r *REST) Close() error { return nil }

// request makes an authenticated request against a table endpoint and
// returns the raw body. Transient failures are retried with jittered backoff.
func (r *REST) request(ctx context.Context, method, table string, query url.Values, body any) ([]byte, error) {
	return r.requestPrefer(ctx, method, table, query, body, "")
}

// requestPrefer is request with a PostgREST Prefer header, which some writes
// need (upserts require resolution=merge-duplicates).
func (r *REST) requestPrefer(ctx context.Context, method, table string, query url.Values, body any, prefer string) ([]byte, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		payload = data
	}

	endpoint := r.baseURL + restPathPrefix + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt-1) * baseBackoff
			backoff += time.Duration(rand.Int63n(int64(baseBackoff)))
			r.wait(ctx, backoff)
			if ctx.Err() != nil {
				break
			}
		}

		respBody, err := r.do(ctx, method, endpoint, payload, prefer)
		if err == nil {
			return respBody, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
		logging.Debug("store", "attempt %d/%d against %s failed: %v", attempt, maxAttempts, table, err)
	}
	return nil, lastErr
}

func (r *REST) do(ctx context.Context, method, endpoint string, payload []byte, prefer string) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("apikey", r.apiKey)
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, endpoint)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", ErrTransient, resp.StatusCode, logging.Truncate(string(respBody), 120))
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("store API error (%d): %s", resp.StatusCode, logging.Truncate(string(respBody), 120))
	}

	return respBody, nil
}

func isTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// rows decodes a JSON array response into loose maps. A non-array body is a
// shape mismatch; unknown columns inside rows are simply carried along.
func rows(body []byte) ([]map[string]any, error) {
	var out []map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: expected JSON array: %v", ErrShape, err)
	}
	return out, nil
}

// --- field helpers: tolerate schema evolution, flag missing columns ---

func intField(row map[string]any, key string) (int, error) {
	v, ok := row[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("%w: missing column %q", ErrShape, key)
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%w: column %q: %v", ErrShape, key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%w: column %q has type %T", ErrShape, key, v)
	}
}

// optionalZone reads a region zone column; absent or null means the region
// was not measured and maps to the -1 sentinel.
func optionalZone(row map[string]any, key string) int {
	if v, ok := row[key]; ok && v != nil {
		if n, ok := v.(float64); ok {
			return int(n)
		}
	}
	return -1
}

func stringField(row map[string]any, key string) (string, error) {
	v, ok := row[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: missing column %q", ErrShape, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: column %q has type %T", ErrShape, key, v)
	}
	return s, nil
}

func floatField(row map[string]any, key string) float64 {
	if v, ok := row[key]; ok && v != nil {
		switch n := v.(type) {
		case float64:
			return n
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func timeField(row map[string]any, key string) (time.Time, error) {
	s, err := stringField(row, key)
	if err != nil {
		return time.Time{}, err
	}
	for _, layout := range []string{TimeLayout, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: column %q: unparseable time %q", ErrShape, key, s)
}

// --- Gateway implementation ---

func (r *REST) RecentPosture(ctx context.Context, since time.Time, minOverall int) ([]PostureSample, error) {
	q := url.Values{}
	q.Set("select", "id_usuario,overall_zone,neck_flexion_zone,shoulder_alignment_zone,neck_lateral_bend_zone,arm_abduction_zone,timestamp")
	if minOverall > 0 {
		q.Set("overall_zone", "gte."+strconv.Itoa(minOverall))
	}
	q.Set("timestamp", "gte."+since.Format(TimeLayout))
	q.Set("order", "timestamp.desc")

	body, err := r.request(ctx, http.MethodGet, "posture", q, nil)
	if err != nil {
		return nil, err
	}
	raw, err := rows(body)
	if err != nil {
		return nil, err
	}

	var out []PostureSample
	for _, row := range raw {
		s, err := decodePostureRow(row)
		if err != nil {
			logging.Debug("store", "skipping malformed posture row: %v", err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func decodePostureRow(row map[string]any) (PostureSample, error) {
	userID, err := intField(row, "id_usuario")
	if err != nil {
		return PostureSample{}, err
	}
	zone, err := intField(row, "overall_zone")
	if err != nil {
		return PostureSample{}, err
	}
	ts, err := timeField(row, "timestamp")
	if err != nil {
		return PostureSample{}, err
	}
	return PostureSample{
		UserID:            userID,
		Timestamp:         ts,
		OverallZone:       zone,
		NeckFlexion:       optionalZone(row, "neck_flexion_zone"),
		NeckLateralBend:   optionalZone(row, "neck_lateral_bend_zone"),
		ShoulderAlignment: optionalZone(row, "shoulder_alignment_zone"),
		ArmAbduction:      optionalZone(row, "arm_abduction_zone"),
	}, nil
}

func (r *REST) RecentEmotions(ctx context.Context, since time.Time, emotions []string) ([]EmotionSample, error) {
	q := url.Values{}
	q.Set("select", "person_id,emotion,stress_level,stress_score,created_at")
	if len(emotions) > 0 {
		quoted := make([]string, len(emotions))
		for i, e := range emotions {
			quoted[i] = `"` + e + `"`
		}
		q.Set("emotion", "in.("+strings.Join(quoted, ",")+")")
	}
	q.Set("created_at", "gte."+since.Format(TimeLayout))
	q.Set("order", "created_at.desc")

	return r.emotionQuery(ctx, q)
}

func (r *REST) RecentHighStress(ctx context.Context, since time.Time) ([]EmotionSample, error) {
	q := url.Values{}
	q.Set("select", "person_id,emotion,stress_level,stress_score,created_at")
	q.Set("stress_level", "eq.alto")
	q.Set("created_at", "gte."+since.Format(TimeLayout))
	q.Set("order", "created_at.desc")

	return r.emotionQuery(ctx, q)
}

func (r *REST) emotionQuery(ctx context.Context, q url.Values) ([]EmotionSample, error) {
	body, err := r.request(ctx, http.MethodGet, "emotions", q, nil)
	if err != nil {
		return nil, err
	}
	raw, err := rows(body)
	if err != nil {
		return nil, err
	}

	var out []EmotionSample
	for _, row := range raw {
		s, err := decodeEmotionRow(row)
		if err != nil {
			logging.Debug("store", "skipping malformed emotion row: %v", err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func decodeEmotionRow(row map[string]any) (EmotionSample, error) {
	userID, err := intField(row, "person_id")
	if err != nil {
		return EmotionSample{}, err
	}
	emotion, err := stringField(row, "emotion")
	if err != nil {
		return EmotionSample{}, err
	}
	ts, err := timeField(row, "created_at")
	if err != nil {
		return EmotionSample{}, err
	}
	level := ""
	if v, ok := row["stress_level"]; ok && v != nil {
		switch s := v.(type) {
		case string:
			level = s
		case float64:
			level = strconv.Itoa(int(s))
		}
	}
	return EmotionSample{
		UserID:      userID,
		Timestamp:   ts,
		Emotion:     emotion,
		StressLevel: level,
		StressScore: floatField(row, "stress_score"),
	}, nil
}

func (r *REST) StressLevels(ctx context.Context, userID int, since time.Time) ([]float64, error) {
	q := url.Values{}
	q.Set("select", "stress_level")
	q.Set("person_id", "eq."+strconv.Itoa(userID))
	q.Set("created_at", "gte."+since.Format(TimeLayout))

	body, err := r.request(ctx, http.MethodGet, "emotions", q, nil)
	if err != nil {
		return nil, err
	}
	raw, err := rows(body)
	if err != nil {
		return nil, err
	}

	// Producers disagree on this column: some write the bucket label, some a
	// numeric 1-10. The chronic check only averages the numeric form.
	var out []float64
	for _, row := range raw {
		v, ok := row["stress_level"]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			out = append(out, n)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

func (r *REST) NeckBendAlertCount(ctx context.Context, userID int, since time.Time) (int, error) {
	q := url.Values{}
	q.Set("select", "neck_lateral_bend_zone")
	q.Set("id_usuario", "eq."+strconv.Itoa(userID))
	q.Set("timestamp", "gte."+since.Format(TimeLayout))
	q.Set("neck_lateral_bend_zone", "gte.3")

	body, err := r.request(ctx, http.MethodGet, "posture", q, nil)
	if err != nil {
		return 0, err
	}
	raw, err := rows(body)
	if err != nil {
		return 0, err
	}
	return len(raw), nil
}

func (r *REST) InsertRecommendation(ctx context.Context, rec Recommendation) error {
	payload := map[string]any{
		"id":                  rec.ID,
		"risk_tag":            rec.RiskTag,
		"recommendation_type": rec.Type,
		"name":                rec.Name,
		"description":         rec.Description,
		"duration":            rec.Duration,
		"urgency":             rec.Urgency,
		"source":              rec.Source,
		"steps":               rec.Steps,
		"created_at":          rec.CreatedAt.Format(TimeLayout),
	}
	_, err := r.request(ctx, http.MethodPost, "recommendations", nil, payload)
	if err != nil {
		return fmt.Errorf("insert recommendation: %w", err)
	}
	return nil
}

func (r *REST) InsertResponse(ctx context.Context, resp Response) error {
	payload := map[string]any{
		"recommendation_id": resp.RecommendationID,
		"user_id":           resp.UserID,
		"username":          resp.Username,
		"response":          resp.Response,
		"created_at":        resp.CreatedAt.Format(TimeLayout),
	}
	_, err := r.request(ctx, http.MethodPost, "recommendation_responses", nil, payload)
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

func (r *REST) ResponsesSince(ctx context.Context, userID int, since time.Time) ([]Response, error) {
	q := url.Values{}
	q.Set("select", "recommendation_id,user_id,username,response,created_at")
	q.Set("user_id", "eq."+strconv.Itoa(userID))
	q.Set("created_at", "gte."+since.Format(TimeLayout))

	body, err := r.request(ctx, http.MethodGet, "recommendation_responses", q, nil)
	if err != nil {
		return nil, err
	}
	raw, err := rows(body)
	if err != nil {
		return nil, err
	}

	var out []Response
	for _, row := range raw {
		resp, err := decodeResponseRow(row)
		if err != nil {
			logging.Debug("store", "skipping malformed response row: %v", err)
			continue
		}
		out = append(out, resp)
	}
	return out, nil
}

func decodeResponseRow(row map[string]any) (Response, error) {
	recID, err := stringField(row, "recommendation_id")
	if err != nil {
		return Response{}, err
	}
	userID, err := intField(row, "user_id")
	if err != nil {
		return Response{}, err
	}
	verb, err := stringField(row, "response")
	if err != nil {
		return Response{}, err
	}
	ts, err := timeField(row, "created_at")
	if err != nil {
		return Response{}, err
	}
	username := ""
	if v, ok := row["username"].(string); ok {
		username = v
	}
	return Response{
		RecommendationID: recID,
		UserID:           userID,
		Username:         username,
		Response:         verb,
		CreatedAt:        ts,
	}, nil
}

func (r *REST) GamificationGet(ctx context.Context, userID int) (GamificationEntry, error) {
	q := url.Values{}
	q.Set("select", "user_id,points,last_updated")
	q.Set("user_id", "eq."+strconv.Itoa(userID))

	body, err := r.request(ctx, http.MethodGet, "gamification", q, nil)
	if err != nil {
		return GamificationEntry{}, err
	}
	raw, err := rows(body)
	if err != nil {
		return GamificationEntry{}, err
	}
	if len(raw) == 0 {
		return GamificationEntry{}, fmt.Errorf("%w: gamification user %d", ErrNotFound, userID)
	}

	row := raw[0]
	entry := GamificationEntry{UserID: userID, Points: floatField(row, "points")}
	if ts, err := timeField(row, "last_updated"); err == nil {
		entry.LastUpdated = ts
	}
	return entry, nil
}

func (r *REST) GamificationUpsert(ctx context.Context, entry GamificationEntry) error {
	payload := map[string]any{
		"user_id":      entry.UserID,
		"points":       entry.Points,
		"last_updated": entry.LastUpdated.Format(TimeLayout),
	}
	q := url.Values{}
	q.Set("on_conflict", "user_id")
	_, err := r.requestPrefer(ctx, http.MethodPost, "gamification", q, payload, "resolution=merge-duplicates")
	if err != nil {
		return fmt.Errorf("upsert gamification: %w", err)
	}
	return nil
}

func (r *REST) Leaderboard(ctx context.Context) ([]LeaderboardRow, error) {
	body, err := r.request(ctx, http.MethodGet, "gamification", url.Values{"select": {"user_id,points"}}, nil)
	if err != nil {
		return nil, err
	}
	gamifRows, err := rows(body)
	if err != nil {
		return nil, err
	}

	empBody, err := r.request(ctx, http.MethodGet, "Employees", url.Values{"select": {"id,Name"}}, nil)
	if err != nil {
		return nil, err
	}
	empRows, err := rows(empBody)
	if err != nil {
		return nil, err
	}

	names := make(map[int]string, len(empRows))
	for _, row := range empRows {
		id, err := intField(row, "id")
		if err != nil {
			continue
		}
		if name, ok := row["Name"].(string); ok {
			names[id] = name
		}
	}

	var out []LeaderboardRow
	for _, row := range gamifRows {
		userID, err := intField(row, "user_id")
		if err != nil {
			continue
		}
		name, ok := names[userID]
		if !ok {
			name = fmt.Sprintf("User %d", userID)
		}
		out = append(out, LeaderboardRow{Name: name, Points: floatField(row, "points")})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Points > out[j].Points })
	return out, nil
}

func (r *REST) TrainingHistory(ctx context.Context) ([]FeedbackRow, error) {
	respBody, err := r.request(ctx, http.MethodGet, "recommendation_responses",
		url.Values{"select": {"recommendation_id,user_id,response,created_at"}}, nil)
	if err != nil {
		return nil, err
	}
	respRows, err := rows(respBody)
	if err != nil {
		return nil, err
	}

	recBody, err := r.request(ctx, http.MethodGet, "recommendations",
		url.Values{"select": {"id,name"}}, nil)
	if err != nil {
		return nil, err
	}
	recRows, err := rows(recBody)
	if err != nil {
		return nil, err
	}

	activityByID := make(map[string]string, len(recRows))
	for _, row := range recRows {
		id, err := stringField(row, "id")
		if err != nil {
			continue
		}
		if name, ok := row["name"].(string); ok {
			activityByID[id] = name
		}
	}

	var out []FeedbackRow
	for _, row := range respRows {
		resp, err := decodeResponseRow(row)
		if err != nil {
			continue
		}
		activity, ok := activityByID[resp.RecommendationID]
		if !ok {
			continue
		}
		out = append(out, FeedbackRow{
			UserID:    resp.UserID,
			Activity:  activity,
			Response:  resp.Response,
			CreatedAt: resp.CreatedAt,
		})
	}
	return out, nil
}
