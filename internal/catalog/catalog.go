// Package catalog holds the frozen mapping from risk tags to candidate
// intervention activities.
package catalog

import "github.com/pawsture/wellmon/internal/risk"

// Activity is one intervention a recommendation can propose.
type Activity struct {
	Name        string
	Type        string // breathing, active_break, posture_correction, urgent_break
	Duration    string
	Description string
	Steps       []string
}

var byTag = map[string][]Activity{
	risk.CriticalPosture: {
		{
			Name:        "Immediate standing reset",
			Type:        "urgent_break",
			Duration:    "3 minutes",
			Description: "Your posture has been in the critical zone. Stand up now and reset before discomfort sets in.",
			Steps: []string{
				"Stand up and step away from the desk",
				"Roll your shoulders back 10 times",
				"Walk for at least one minute",
				"Sit back down with your screen at eye level",
			},
		},
		{
			Name:        "Spine decompression stretch",
			Type:        "urgent_break",
			Duration:    "4 minutes",
			Description: "A short sequence to release the load on your spine after sustained bad posture.",
			Steps: []string{
				"Stand and reach both arms overhead",
				"Hold a gentle side bend 15 seconds per side",
				"Do a slow forward fold, knees soft",
				"Return upright vertebra by vertebra",
			},
		},
		{
			Name:        "Wall posture reset",
			Type:        "posture_correction",
			Duration:    "2 minutes",
			Description: "Use a wall to recalibrate a neutral spine position.",
			Steps: []string{
				"Stand with heels, hips and shoulders against a wall",
				"Press the back of your head lightly to the wall",
				"Hold 30 seconds, breathing slowly",
				"Step away keeping the same alignment",
			},
		},
	},
	risk.GeneralPosture: {
		{
			Name:        "Desk posture check",
			Type:        "posture_correction",
			Duration:    "2 minutes",
			Description: "Quick adjustment of chair, screen and shoulders back to neutral.",
			Steps: []string{
				"Plant both feet flat on the floor",
				"Raise the screen so the top is at eye level",
				"Pull your shoulders back and down",
				"Tuck the chin slightly",
			},
		},
		{
			Name:        "Two-minute movement break",
			Type:        "active_break",
			Duration:    "2 minutes",
			Description: "Short walk to interrupt a long sitting streak.",
			Steps: []string{
				"Stand up and stretch your arms overhead",
				"Walk to the farthest point of the room and back",
				"Do 10 gentle torso rotations",
			},
		},
		{
			Name:        "Shoulder blade squeezes",
			Type:        "posture_correction",
			Duration:    "90 seconds",
			Description: "Activates the upper back muscles that keep you upright.",
			Steps: []string{
				"Sit tall at the edge of the chair",
				"Squeeze the shoulder blades together for 5 seconds",
				"Release slowly",
				"Repeat 10 times",
			},
		},
	},
	risk.NeckFlexion: {
		{
			Name:        "Chin tucks",
			Type:        "posture_correction",
			Duration:    "2 minutes",
			Description: "Counteracts forward head posture from looking down at the screen.",
			Steps: []string{
				"Sit tall and look straight ahead",
				"Draw the chin straight back, making a double chin",
				"Hold 5 seconds, release",
				"Repeat 10 times",
			},
		},
		{
			Name:        "Neck release stretch",
			Type:        "active_break",
			Duration:    "3 minutes",
			Description: "Gentle lateral and rotational stretches for a stiff neck.",
			Steps: []string{
				"Tilt your right ear toward your right shoulder, hold 20 seconds",
				"Repeat on the left side",
				"Slowly turn the head to each side, holding 10 seconds",
				"Finish with slow neck circles in both directions",
			},
		},
	},
	risk.ShoulderAlignment: {
		{
			Name:        "Doorway chest opener",
			Type:        "active_break",
			Duration:    "2 minutes",
			Description: "Opens the chest and pulls rounded shoulders back into line.",
			Steps: []string{
				"Stand in a doorway with forearms on the frame",
				"Step one foot forward until you feel a chest stretch",
				"Hold 30 seconds, breathing slowly",
				"Repeat twice",
			},
		},
		{
			Name:        "Shoulder rolls",
			Type:        "posture_correction",
			Duration:    "1 minute",
			Description: "Resets shoulder position after hunching over the keyboard.",
			Steps: []string{
				"Roll both shoulders up, back and down, 10 slow circles",
				"Reverse direction for 10 more",
				"Finish by letting the arms hang relaxed",
			},
		},
	},
	risk.StressHigh: {
		{
			Name:        "Box breathing",
			Type:        "breathing",
			Duration:    "4 minutes",
			Description: "A paced breathing pattern that lowers acute stress quickly.",
			Steps: []string{
				"Inhale through the nose for 4 counts",
				"Hold for 4 counts",
				"Exhale through the mouth for 4 counts",
				"Hold empty for 4 counts, repeat for 4 minutes",
			},
		},
		{
			Name:        "Grounding pause",
			Type:        "breathing",
			Duration:    "3 minutes",
			Description: "A short sensory check-in that interrupts a stress spiral.",
			Steps: []string{
				"Name 5 things you can see",
				"Name 4 things you can touch",
				"Name 3 things you can hear",
				"Take 5 slow breaths before returning to work",
			},
		},
		{
			Name:        "Walk and reset",
			Type:        "active_break",
			Duration:    "5 minutes",
			Description: "Light movement away from the desk to discharge tension.",
			Steps: []string{
				"Leave your desk and walk at an easy pace",
				"Keep your gaze up, not on a phone",
				"Breathe in for 3 steps, out for 3 steps",
			},
		},
	},
	risk.NegativeEmotion: {
		{
			Name:        "Three-breath pause",
			Type:        "breathing",
			Duration:    "2 minutes",
			Description: "A minimal pause to create distance from a difficult moment.",
			Steps: []string{
				"Sit back and close your eyes if comfortable",
				"Take three breaths, exhaling longer than you inhale",
				"Notice one thing that is going fine today",
			},
		},
		{
			Name:        "Change of scenery",
			Type:        "active_break",
			Duration:    "5 minutes",
			Description: "Stepping out of the current environment helps reset mood.",
			Steps: []string{
				"Step away from your workstation",
				"Get water or tea, or step outside briefly",
				"Return only when you feel ready",
			},
		},
	},
}

// Candidates returns the activity list for a risk tag. Unknown tags fall back
// to the general posture list; the result is never empty.
func Candidates(tag string) []Activity {
	if list, ok := byTag[tag]; ok {
		return list
	}
	return byTag[risk.GeneralPosture]
}

// Activities returns every catalog activity name in a stable order. This is
// the activity axis of the training tensor.
func Activities() []string {
	tags := []string{
		risk.CriticalPosture, risk.GeneralPosture, risk.NeckFlexion,
		risk.ShoulderAlignment, risk.StressHigh, risk.NegativeEmotion,
	}
	var names []string
	seen := map[string]bool{}
	for _, tag := range tags {
		for _, a := range byTag[tag] {
			if !seen[a.Name] {
				seen[a.Name] = true
				names = append(names, a.Name)
			}
		}
	}
	return names
}
