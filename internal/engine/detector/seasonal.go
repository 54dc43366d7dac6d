package detector

import (
	"context"
	"time"

	"github.com/sixdouglas/suncalc"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// SeasonalDetector finds activity tied to the solar calendar rather than the
// clock: lights that follow sunset as it drifts through the year, or devices
// concentrated in one season. Sun times come from the configured coordinates,
// which matters at high latitudes where sunset moves hours across the year.
type SeasonalDetector struct {
	Latitude  float64
	Longitude float64
	// MinActivations is the minimum number of activations before a solar or
	// seasonal concentration is judged.
	MinActivations int
	// AnchorWindow is how close to sunrise/sunset an activation must land to
	// count as anchored to it.
	AnchorWindow time.Duration
	// ConcentrationThreshold is the fraction of activations that must share
	// an anchor or a season.
	ConcentrationThreshold float64
}

// NewSeasonalDetector creates a seasonal detector for the given coordinates.
func NewSeasonalDetector(lat, lon float64, minActivations int) *SeasonalDetector {
	return &SeasonalDetector{
		Latitude:               lat,
		Longitude:              lon,
		MinActivations:         minActivations,
		AnchorWindow:           45 * time.Minute,
		ConcentrationThreshold: 0.6,
	}
}

func (d *SeasonalDetector) ID() string { return "seasonal" }
func (d *SeasonalDetector) Type() types.PatternType { return types.PatternSeasonal }

type seasonalEvidence struct {
	total      int
	nearSunset int
	nearDawn   int
	bySeason   map[string]int
	first      time.Time
	last       time.Time
}

// Detect classifies each activation against the day's sun times and the
// season, then reports entities with a dominant anchor.
func (d *SeasonalDetector) Detect(ctx context.Context, events []types.Event, devices []types.Device) ([]*types.Pattern, error) {
	evidence := make(map[string]*seasonalEvidence)

	for _, e := range activations(events) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		acc, ok := evidence[e.EntityID]
		if !ok {
			acc = &seasonalEvidence{bySeason: make(map[string]int), first: e.Timestamp}
			evidence[e.EntityID] = acc
		}

		times := suncalc.GetTimes(e.Timestamp, d.Latitude, d.Longitude)
		if near(e.Timestamp, times[suncalc.Sunset].Value, d.AnchorWindow) {
			acc.nearSunset++
		}
		if near(e.Timestamp, times[suncalc.Sunrise].Value, d.AnchorWindow) {
			acc.nearDawn++
		}
		acc.bySeason[season(e.Timestamp)]++

		acc.total++
		if e.Timestamp.After(acc.last) {
			acc.last = e.Timestamp
		}
	}

	var patterns []*types.Pattern

	for entity, acc := range evidence {
		if acc.total < d.MinActivations {
			continue
		}

		anchor, count := d.dominantAnchor(acc)
		if anchor == "" {
			continue
		}

		patterns = append(patterns, newPattern(
			types.PatternSeasonal,
			[]string{entity},
			float64(count)/float64(acc.total),
			count,
			acc.first,
			acc.last,
			map[string]interface{}{
				"anchor":                anchor,
				"anchor_window_minutes": d.AnchorWindow.Minutes(),
			},
		))
	}

	return patterns, nil
}

// dominantAnchor picks the strongest concentration among sunset, sunrise, and
// the four seasons, if any clears the threshold. Sun anchors win ties since
// they are the more actionable automation trigger.
func (d *SeasonalDetector) dominantAnchor(acc *seasonalEvidence) (string, int) {
	threshold := int(float64(acc.total) * d.ConcentrationThreshold)
	if threshold < 1 {
		threshold = 1
	}

	if acc.nearSunset >= threshold {
		return "sunset", acc.nearSunset
	}
	if acc.nearDawn >= threshold {
		return "sunrise", acc.nearDawn
	}

	best, bestCount := "", 0
	for s, c := range acc.bySeason {
		if c > bestCount {
			best, bestCount = s, c
		}
	}
	if bestCount >= threshold {
		return "season:" + best, bestCount
	}

	return "", 0
}

func near(t, anchor time.Time, window time.Duration) bool {
	if anchor.IsZero() {
		return false
	}
	diff := t.Sub(anchor)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}

func season(t time.Time) string {
	switch t.Month() {
	case time.December, time.January, time.February:
		return "winter"
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	default:
		return "autumn"
	}
}
