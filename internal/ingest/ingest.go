// Package ingest records subscriber reactions to recommendations and applies
// the gamification consequences.
package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pawsture/wellmon/internal/gamify"
	"github.com/pawsture/wellmon/internal/logging"
	"github.com/pawsture/wellmon/internal/recommend"
	"github.com/pawsture/wellmon/internal/store"
)

// fallbackUserID receives feedback whose recommendation id cannot be parsed.
// Kept for compatibility with historical rows; MalformedIDs tracks how often
// it happens.
const fallbackUserID = 1

// Handler processes inbound response callbacks.
type Handler struct {
	gw     store.Gateway
	ledger *gamify.Ledger

	malformedIDs atomic.Int64
}

func NewHandler(gw store.Gateway, ledger *gamify.Ledger) *Handler {
	return &Handler{gw: gw, ledger: ledger}
}

// MalformedIDs reports how many responses arrived with an unparseable
// recommendation id since startup.
func (h *Handler) MalformedIDs() int64 {
	return h.malformedIDs.Load()
}

// Confirmation texts per verb, appended to the message after a click.
var confirmations = map[string]string{
	"accept":   "✅ Great! Points added — enjoy the break.",
	"postpone": "⏰ Noted, I'll keep it in mind. Don't postpone it forever!",
	"reject":   "👍 Understood, thanks for the feedback.",
}

// HandleResponse records one button click. The returned text is appended to
// the original message. A store write failure returns an error and credits
// nothing so the UI can offer a retry; duplicate responses are accepted and
// each credits gamification again.
func (h *Handler) HandleResponse(ctx context.Context, recID string, verb string, username string, now time.Time) (string, error) {
	confirmation, ok := confirmations[verb]
	if !ok {
		logging.Warn("ingest", "unknown response verb %q for %s", verb, recID)
		return "👍 Thanks for the feedback.", nil
	}

	userID, parsed := recommend.ParseTriggeredUser(recID)
	if !parsed {
		userID = fallbackUserID
		h.malformedIDs.Add(1)
		logging.Warn("ingest", "malformed recommendation id %q, attributing to user %d", recID, fallbackUserID)
	}

	err := h.gw.InsertResponse(ctx, store.Response{
		RecommendationID: recID,
		UserID:           userID,
		Username:         username,
		Response:         verb,
		CreatedAt:        now,
	})
	if err != nil {
		return "", fmt.Errorf("record response: %w", err)
	}

	delta := gamify.DeltaFor(verb)
	points, err := h.ledger.AddPoints(ctx, userID, delta)
	if err != nil {
		// The response row is already in; losing the credit is visible in
		// the logs and recoverable by replay.
		logging.Warn("ingest", "gamification update failed for user %d: %v", userID, err)
		return confirmation, nil
	}
	logging.Info("ingest", "user %d responded %s to %s (%.1f pts)", userID, verb, recID, points)
	return confirmation, nil
}

// Stats30d returns a user's accept/postpone/reject counts over the last 30
// days.
func (h *Handler) Stats30d(ctx context.Context, userID int, now time.Time) (accepts, postpones, rejects int, err error) {
	responses, err := h.gw.ResponsesSince(ctx, userID, now.AddDate(0, 0, -30))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("read responses: %w", err)
	}
	for _, r := range responses {
		switch r.Response {
		case "accept":
			accepts++
		case "postpone":
			postpones++
		case "reject":
			rejects++
		}
	}
	return accepts, postpones, rejects, nil
}
