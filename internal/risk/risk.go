// Package risk reduces an alert list to the single risk tag that keys the
// recommendation catalog.
package risk

import (
	"strings"

	"github.com/pawsture/wellmon/internal/detect"
)

// Risk tags, highest priority first. Tags key the catalog.
const (
	CriticalPosture   = "critical_posture"
	GeneralPosture    = "general_posture"
	NeckFlexion       = "neck_flexion"
	ShoulderAlignment = "shoulder_alignment"
	StressHigh        = "stress_high"
	NegativeEmotion   = "negative_emotion"
)

// rules are checked in declaration order; the first match wins. Matching is
// substring-based on the alert label so region and emotion alerts fold into
// their families without extra plumbing.
var rules = []struct {
	tag   string
	terms []string
}{
	{CriticalPosture, []string{"critical"}},
	{GeneralPosture, []string{"high posture"}},
	{NeckFlexion, []string{"neck"}},
	{ShoulderAlignment, []string{"shoulder"}},
	{StressHigh, []string{"stress"}},
	{NegativeEmotion, []string{"sad", "fear", "angry", "disgust", "negative"}},
}

// Classify maps an alert list to a risk tag. Pure: same alerts, same tag.
func Classify(alerts []detect.Alert) string {
	for _, rule := range rules {
		for _, a := range alerts {
			label := strings.ToLower(a.Label)
			for _, term := range rule.terms {
				if strings.Contains(label, term) {
					return rule.tag
				}
			}
		}
	}
	return GeneralPosture
}
