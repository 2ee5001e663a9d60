// Package detect runs the windowed aggregation queries that turn raw posture
// and emotion rows into per-user alerts.
package detect

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pawsture/wellmon/internal/config"
	"github.com/pawsture/wellmon/internal/store"
)

// Kind identifies the detection rule an alert came from.
type Kind int

const (
	CriticalPosture Kind = iota
	HighPosture
	MediumPosture
	RegionPosture
	PersistentEmotion
	MultipleNegative
	PersistentHighStress
)

// Alert is one triggered detection rule for one user. Level 3 alerts carry a
// recommendation; level 2 alerts are informational only.
type Alert struct {
	Kind    Kind
	Level   int    // 2 or 3
	Label   string // human label, also drives risk classification
	Region  string // set for RegionPosture
	Emotion string // set for PersistentEmotion
	Count   int
}

// UserAlerts groups the alerts detected for a single user in one pass.
type UserAlerts struct {
	UserID int
	Alerts []Alert
}

// MaxLevel returns the highest alert level in the group.
func (u UserAlerts) MaxLevel() int {
	max := 0
	for _, a := range u.Alerts {
		if a.Level > max {
			max = a.Level
		}
	}
	return max
}

// Detector evaluates the acute detection rules against the row store.
type Detector struct {
	gw         store.Gateway
	thresholds config.Thresholds
	windows    config.Windows
}

func New(gw store.Gateway, thresholds config.Thresholds, windows config.Windows) *Detector {
	return &Detector{gw: gw, thresholds: thresholds, windows: windows}
}

var postureRegions = []struct {
	name string
	zone func(store.PostureSample) int
}{
	{"neck_flexion", func(p store.PostureSample) int { return p.NeckFlexion }},
	{"neck_lateral_bend", func(p store.PostureSample) int { return p.NeckLateralBend }},
	{"shoulder_alignment", func(p store.PostureSample) int { return p.ShoulderAlignment }},
	{"arm_abduction", func(p store.PostureSample) int { return p.ArmAbduction }},
}

// Posture runs the acute posture rules at the given instant. Users are
// returned in ascending id order.
func (d *Detector) Posture(ctx context.Context, now time.Time) ([]UserAlerts, error) {
	alerts := map[int][]Alert{}

	overall, err := d.gw.RecentPosture(ctx, now.Add(-d.windows.Posture), 2)
	if err != nil {
		return nil, fmt.Errorf("posture window: %w", err)
	}
	byUser := map[int][]store.PostureSample{}
	for _, p := range overall {
		byUser[p.UserID] = append(byUser[p.UserID], p)
	}

	for userID, group := range byUser {
		var zone2, zone3, zone4 int
		for _, p := range group {
			if p.OverallZone >= 2 {
				zone2++
			}
			if p.OverallZone >= 3 {
				zone3++
			}
			if p.OverallZone >= 4 {
				zone4++
			}
		}
		switch {
		case zone4 >= d.thresholds.PostureCritical:
			alerts[userID] = append(alerts[userID], Alert{
				Kind:  CriticalPosture,
				Level: 3,
				Label: fmt.Sprintf("critical posture: %d readings at zone 4", zone4),
				Count: zone4,
			})
		case zone3 >= d.thresholds.PostureHigh:
			alerts[userID] = append(alerts[userID], Alert{
				Kind:  HighPosture,
				Level: 3,
				Label: fmt.Sprintf("high posture risk: %d readings at zone 3+", zone3),
				Count: zone3,
			})
		case zone2 >= d.thresholds.PostureMedium:
			alerts[userID] = append(alerts[userID], Alert{
				Kind:  MediumPosture,
				Level: 2,
				Label: fmt.Sprintf("sustained moderate posture: %d readings at zone 2+", zone2),
				Count: zone2,
			})
		}
	}

	// Per-region pass over the wider window. A region sustained at zone 2 is
	// informational; at zone 3+ it is actionable.
	regionRows, err := d.gw.RecentPosture(ctx, now.Add(-d.windows.PostureRegion), 0)
	if err != nil {
		return nil, fmt.Errorf("posture region window: %w", err)
	}
	regionByUser := map[int][]store.PostureSample{}
	for _, p := range regionRows {
		regionByUser[p.UserID] = append(regionByUser[p.UserID], p)
	}

	for userID, group := range regionByUser {
		for _, region := range postureRegions {
			var atTwo, atThree int
			for _, p := range group {
				switch z := region.zone(p); {
				case z >= 3:
					atThree++
				case z == 2:
					atTwo++
				}
			}
			if atThree >= d.thresholds.PostureRegion {
				alerts[userID] = append(alerts[userID], Alert{
					Kind:   RegionPosture,
					Level:  3,
					Label:  fmt.Sprintf("%s at zone 3+: %d readings", region.name, atThree),
					Region: region.name,
					Count:  atThree,
				})
			} else if atTwo >= d.thresholds.PostureRegion {
				alerts[userID] = append(alerts[userID], Alert{
					Kind:   RegionPosture,
					Level:  2,
					Label:  fmt.Sprintf("%s at zone 2: %d readings", region.name, atTwo),
					Region: region.name,
					Count:  atTwo,
				})
			}
		}
	}

	return collect(alerts), nil
}

// Emotions runs the acute emotion rules at the given instant. Users are
// returned in ascending id order.
func (d *Detector) Emotions(ctx context.Context, now time.Time) ([]UserAlerts, error) {
	alerts := map[int][]Alert{}
	since := now.Add(-d.windows.Emotion)

	negative, err := d.gw.RecentEmotions(ctx, since, store.NegativeEmotions)
	if err != nil {
		return nil, fmt.Errorf("emotion window: %w", err)
	}
	byUser := map[int][]store.EmotionSample{}
	for _, e := range negative {
		byUser[e.UserID] = append(byUser[e.UserID], e)
	}

	for userID, group := range byUser {
		if len(group) < d.thresholds.EmotionNegative {
			continue
		}
		perEmotion := map[string]int{}
		for _, e := range group {
			perEmotion[e.Emotion]++
		}

		emitted := false
		for _, emotion := range store.NegativeEmotions {
			if n := perEmotion[emotion]; n >= d.thresholds.EmotionSame {
				alerts[userID] = append(alerts[userID], Alert{
					Kind:    PersistentEmotion,
					Level:   3,
					Label:   fmt.Sprintf("persistent %s: %d readings", emotion, n),
					Emotion: emotion,
					Count:   n,
				})
				emitted = true
			}
		}
		if !emitted && len(group) >= d.thresholds.EmotionNegative+3 {
			alerts[userID] = append(alerts[userID], Alert{
				Kind:  MultipleNegative,
				Level: 3,
				Label: fmt.Sprintf("multiple negative emotions: %d readings", len(group)),
				Count: len(group),
			})
		}
	}

	highStress, err := d.gw.RecentHighStress(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("stress window: %w", err)
	}
	stressByUser := map[int]int{}
	for _, e := range highStress {
		stressByUser[e.UserID]++
	}
	for userID, n := range stressByUser {
		if n >= d.thresholds.StressHigh {
			alerts[userID] = append(alerts[userID], Alert{
				Kind:  PersistentHighStress,
				Level: 3,
				Label: fmt.Sprintf("persistent high stress: %d readings", n),
				Count: n,
			})
		}
	}

	return collect(alerts), nil
}

func collect(alerts map[int][]Alert) []UserAlerts {
	out := make([]UserAlerts, 0, len(alerts))
	for userID, list := range alerts {
		out = append(out, UserAlerts{UserID: userID, Alerts: list})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
