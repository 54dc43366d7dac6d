package detector

import (
	"context"
	"time"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// DayTypeDetector finds entities whose activations skew heavily toward
// weekdays or weekends, evidence that the behavior is tied to the work
// rhythm rather than the clock alone.
type DayTypeDetector struct {
	// MinActivations is the minimum total activations before skew is judged.
	MinActivations int
	// SkewThreshold is the fraction of activations that must fall on one day
	// type. 0.75 means three out of four.
	SkewThreshold float64
}

// NewDayTypeDetector creates a day-type detector.
func NewDayTypeDetector(minActivations int) *DayTypeDetector {
	return &DayTypeDetector{MinActivations: minActivations, SkewThreshold: 0.75}
}

func (d *DayTypeDetector) ID() string { return "day_type" }
func (d *DayTypeDetector) Type() types.PatternType { return types.PatternDayType }

type dayTypeEvidence struct {
	weekday int
	weekend int
	first   time.Time
	last    time.Time
}

// Detect tallies activations per entity by day type and reports skewed ones.
func (d *DayTypeDetector) Detect(ctx context.Context, events []types.Event, devices []types.Device) ([]*types.Pattern, error) {
	evidence := make(map[string]*dayTypeEvidence)

	for _, e := range activations(events) {
		acc, ok := evidence[e.EntityID]
		if !ok {
			acc = &dayTypeEvidence{first: e.Timestamp}
			evidence[e.EntityID] = acc
		}
		if isWeekend(e.Timestamp) {
			acc.weekend++
		} else {
			acc.weekday++
		}
		if e.Timestamp.After(acc.last) {
			acc.last = e.Timestamp
		}
	}

	var patterns []*types.Pattern

	for entity, acc := range evidence {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		total := acc.weekday + acc.weekend
		if total < d.MinActivations {
			continue
		}

		dayType := "weekday"
		dominant := acc.weekday
		if acc.weekend > acc.weekday {
			dayType = "weekend"
			dominant = acc.weekend
		}

		skew := float64(dominant) / float64(total)
		if skew < d.SkewThreshold {
			continue
		}

		patterns = append(patterns, newPattern(
			types.PatternDayType,
			[]string{entity},
			skew,
			dominant,
			acc.first,
			acc.last,
			map[string]interface{}{
				"day_type":          dayType,
				"weekday_count":     acc.weekday,
				"weekend_count":     acc.weekend,
			},
		))
	}

	return patterns, nil
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
