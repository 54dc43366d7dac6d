package detector

import (
	"context"
	"math"
	"time"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// DurationDetector finds entities with consistent active durations: a heater
// that always runs about 20 minutes, a hallway light that is on for about a
// minute. Consistency is measured by the coefficient of variation of the
// observed on-durations.
type DurationDetector struct {
	// MinSamples is the minimum number of complete on/off cycles.
	MinSamples int
	// MaxVariation is the largest coefficient of variation still considered
	// a consistent duration.
	MaxVariation float64
}

// NewDurationDetector creates a duration detector.
func NewDurationDetector(minSamples int) *DurationDetector {
	return &DurationDetector{MinSamples: minSamples, MaxVariation: 0.5}
}

func (d *DurationDetector) ID() string { return "duration" }
func (d *DurationDetector) Type() types.PatternType { return types.PatternDuration }

type durationSample struct {
	seconds float64
	endedAt time.Time
}

// Detect pairs each activation with the entity's next transition to compute
// on-durations, then reports entities whose durations cluster tightly.
func (d *DurationDetector) Detect(ctx context.Context, events []types.Event, devices []types.Device) ([]*types.Pattern, error) {
	trans := transitions(events)

	byEntity := make(map[string][]types.Event)
	for _, e := range trans {
		byEntity[e.EntityID] = append(byEntity[e.EntityID], e)
	}

	var patterns []*types.Pattern

	for entity, stream := range byEntity {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var samples []durationSample
		var first time.Time

		for i := 0; i < len(stream)-1; i++ {
			if !isActivation(stream[i]) || isActivation(stream[i+1]) {
				continue
			}
			span := stream[i+1].Timestamp.Sub(stream[i].Timestamp)
			if span <= 0 {
				continue
			}
			if first.IsZero() {
				first = stream[i].Timestamp
			}
			samples = append(samples, durationSample{
				seconds: span.Seconds(),
				endedAt: stream[i+1].Timestamp,
			})
		}

		if len(samples) < d.MinSamples {
			continue
		}

		mean, cv := meanAndVariation(samples)
		if cv > d.MaxVariation {
			continue
		}

		patterns = append(patterns, newPattern(
			types.PatternDuration,
			[]string{entity},
			1-cv,
			len(samples),
			first,
			samples[len(samples)-1].endedAt,
			map[string]interface{}{
				"mean_duration_seconds": mean,
				"variation":             cv,
			},
		))
	}

	return patterns, nil
}

func meanAndVariation(samples []durationSample) (mean, cv float64) {
	for _, s := range samples {
		mean += s.seconds
	}
	mean /= float64(len(samples))
	if mean == 0 {
		return 0, 0
	}

	var variance float64
	for _, s := range samples {
		diff := s.seconds - mean
		variance += diff * diff
	}
	variance /= float64(len(samples))

	return mean, math.Sqrt(variance) / mean
}
