// Package render builds every subscriber-facing message. All user-controlled
// strings pass through Escape before interpolation.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/pawsture/wellmon/internal/config"
	"github.com/pawsture/wellmon/internal/detect"
	"github.com/pawsture/wellmon/internal/model"
	"github.com/pawsture/wellmon/internal/store"
)

const maxIssueBullets = 3

var markupReplacer = strings.NewReplacer(
	"*", "\\*",
	"_", "\\_",
	"`", "\\`",
	"~", "\\~",
	"|", "\\|",
	">", "\\>",
)

// Escape neutralises markup characters in user-controlled text.
func Escape(s string) string {
	return markupReplacer.Replace(s)
}

func title(riskTag string) string {
	switch riskTag {
	case "critical_posture":
		return "🔴 CRITICAL POSTURE ALERT"
	case "stress_high":
		return "🧘 STRESS ALERT"
	case "negative_emotion":
		return "💙 WELL-BEING ALERT"
	default:
		return "🟠 POSTURE ALERT"
	}
}

func urgencyIcon(urgency string) string {
	if urgency == "high" {
		return "⚠️"
	}
	return "ℹ️"
}

// Recommendation renders the full actionable alert: title, issue bullets and
// the proposed activity with enumerated steps.
func Recommendation(userID int, alerts []detect.Alert, rec store.Recommendation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", urgencyIcon(rec.Urgency), title(rec.RiskTag))
	fmt.Fprintf(&b, "User %d\n\n", userID)

	fmt.Fprintf(&b, "Detected:\n")
	for i, a := range alerts {
		if i == maxIssueBullets {
			break
		}
		fmt.Fprintf(&b, "• %s\n", Escape(a.Label))
	}

	fmt.Fprintf(&b, "\n**%s** (%s)\n%s\n\n", Escape(rec.Name), rec.Duration, Escape(rec.Description))
	for i, step := range rec.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, Escape(step))
	}
	fmt.Fprintf(&b, "\nDid this help? Let me know below.")
	return b.String()
}

// Informational renders the button-less level-2 posture notice.
func Informational(userID int, alerts []detect.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🟡 Posture heads-up for user %d\n\n", userID)
	for i, a := range alerts {
		if i == maxIssueBullets {
			break
		}
		fmt.Fprintf(&b, "• %s\n", Escape(a.Label))
	}
	fmt.Fprintf(&b, "\nNothing urgent yet — a small adjustment now avoids an alert later.")
	return b.String()
}

// ChronicStress is the daily chronic-stress notice.
func ChronicStress(userID int, mean float64, samples int) string {
	return fmt.Sprintf(
		"🫶 Sustained stress notice for user %d\n\n"+
			"Average stress over the last 7 days is %.1f/10 across %d readings. "+
			"That level held this long deserves attention: consider shorter work blocks, "+
			"a daily walk, and if it persists, a chat with someone you trust.",
		userID, mean, samples)
}

// ChronicPosture is the daily torticollis-risk notice.
func ChronicPosture(userID int, count int) string {
	return fmt.Sprintf(
		"🦴 Recurring neck posture notice for user %d\n\n"+
			"The last 14 days show %d readings with pronounced lateral neck bend. "+
			"Sustained tilt at this rate is a torticollis risk — check your screen "+
			"placement and try the neck release exercises regularly.",
		userID, count)
}

// CooldownBlocked is the reply to a command refused by an active cooldown.
func CooldownBlocked(remaining time.Duration) string {
	return fmt.Sprintf("⏳ An alert for this user is on cooldown. Try again in %d s.", int(remaining.Seconds()+0.5))
}

// NoData is the degraded reply when detection finds nothing actionable.
func NoData(userID int) string {
	return fmt.Sprintf("✅ No recommendation for user %d at this time — recent readings look fine.", userID)
}

// Welcome confirms a subscription.
func Welcome() string {
	return "👋 You're subscribed to well-being alerts.\n\n" +
		"You'll receive posture and emotion alerts for monitored users as they happen.\n" +
		"Commands: !status, !posture_status, !emotion_status, !recommendation <user>, " +
		"!stats <user>, !leaderboard, !config, !model_status"
}

// DomainStatus summarises one detection pass for the status commands.
func DomainStatus(domain string, users []detect.UserAlerts) string {
	if len(users) == 0 {
		return fmt.Sprintf("✅ %s: no active alerts in the current window.", domain)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s alerts:\n", domain)
	for _, u := range users {
		fmt.Fprintf(&b, "\nUser %d:\n", u.UserID)
		for _, a := range u.Alerts {
			fmt.Fprintf(&b, "• %s\n", Escape(a.Label))
		}
	}
	return b.String()
}

// Stats renders the last-30-day response counts for one user.
func Stats(userID, accepts, postpones, rejects int) string {
	total := accepts + postpones + rejects
	if total == 0 {
		return fmt.Sprintf("No responses recorded for user %d in the last 30 days.", userID)
	}
	rate := float64(accepts) / float64(total) * 100
	return fmt.Sprintf(
		"📊 Last 30 days for user %d\n\n"+
			"✅ Accepted: %d\n⏰ Postponed: %d\n❌ Declined: %d\n\n"+
			"Acceptance rate: %.0f%%",
		userID, accepts, postpones, rejects, rate)
}

// Leaderboard renders the gamification ranking.
func Leaderboard(rows []store.LeaderboardRow) string {
	if len(rows) == 0 {
		return "No gamification entries yet."
	}
	medals := []string{"🥇", "🥈", "🥉"}
	var b strings.Builder
	b.WriteString("🏆 Well-being leaderboard\n\n")
	for i, row := range rows {
		prefix := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			prefix = medals[i]
		}
		fmt.Fprintf(&b, "%s %s — %.1f pts\n", prefix, Escape(row.Name), row.Points)
	}
	return b.String()
}

// Settings dumps the active thresholds, windows and cooldowns plus process
// stats when available.
func Settings(cfg config.Config, cpuPercent float64, rssMB float64) string {
	var b strings.Builder
	b.WriteString("⚙️ Current configuration\n\n")
	fmt.Fprintf(&b, "Posture window: %s (region %s), emotion window: %s\n",
		cfg.Windows.Posture, cfg.Windows.PostureRegion, cfg.Windows.Emotion)
	fmt.Fprintf(&b, "Thresholds: critical %d, high %d, medium %d, region %d\n",
		cfg.Thresholds.PostureCritical, cfg.Thresholds.PostureHigh,
		cfg.Thresholds.PostureMedium, cfg.Thresholds.PostureRegion)
	fmt.Fprintf(&b, "Emotion: negative %d, same %d, stress %d\n",
		cfg.Thresholds.EmotionNegative, cfg.Thresholds.EmotionSame, cfg.Thresholds.StressHigh)
	fmt.Fprintf(&b, "Cooldowns: posture %s / %s, emotion %s\n",
		cfg.Cooldowns.PostureL3, cfg.Cooldowns.PostureL2, cfg.Cooldowns.Emotion)
	fmt.Fprintf(&b, "Tick: %s, retrain: %s\n", cfg.TickInterval, cfg.TrainInterval)
	if cpuPercent > 0 || rssMB > 0 {
		fmt.Fprintf(&b, "\nProcess: %.1f%% CPU, %.0f MB RSS", cpuPercent, rssMB)
	}
	return b.String()
}

// ModelStatus reports model readiness and index sizes.
func ModelStatus(s *model.Snapshot, malformedIDs int64) string {
	var b strings.Builder
	b.WriteString("🧠 Model status\n\n")
	if s == nil || !s.Ready {
		b.WriteString("State: not ready (serving rule-based/cold recommendations)\n")
	} else {
		fmt.Fprintf(&b, "State: ready (trained %s, %d feedback rows)\n",
			s.TrainedAt.Format("2006-01-02 15:04"), s.Rows)
		fmt.Fprintf(&b, "Users indexed: %d\nActivities indexed: %d\n",
			len(s.UserIndex), len(s.Activities))
	}
	if malformedIDs > 0 {
		fmt.Fprintf(&b, "Malformed recommendation ids seen: %d\n", malformedIDs)
	}
	return b.String()
}
