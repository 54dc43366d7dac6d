package detector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// A bathroom fan that always runs close to ten minutes.
func TestDurationDetector_ConsistentOnTime(t *testing.T) {
	d := NewDurationDetector(3)

	base := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	var events []types.Event
	for day := 0; day < 4; day++ {
		at := base.AddDate(0, 0, day)
		events = append(events,
			on("fan.bathroom", at),
			off("fan.bathroom", at.Add(10*time.Minute).Add(jitter(30))),
		)
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	p := patterns[0]
	assert.Equal(t, []string{"fan.bathroom"}, p.Entities)
	assert.Equal(t, 4, p.OccurrenceCount)
	assert.Greater(t, p.RawConfidence, 0.9, "small jitter keeps variation low")
	assert.InDelta(t, 600, p.Metadata["mean_duration_seconds"].(float64), 35)
}

// Wildly varying on-times never become a duration pattern.
func TestDurationDetector_InconsistentDurationsDropped(t *testing.T) {
	d := NewDurationDetector(3)

	base := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	spans := []time.Duration{2 * time.Minute, 40 * time.Minute, 3 * time.Hour}
	var events []types.Event
	for i, span := range spans {
		at := base.AddDate(0, 0, i)
		events = append(events, on("light.garage", at), off("light.garage", at.Add(span)))
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

func TestDurationDetector_BelowSampleFloor(t *testing.T) {
	d := NewDurationDetector(3)

	base := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	events := []types.Event{
		on("fan.bathroom", base),
		off("fan.bathroom", base.Add(10*time.Minute)),
		on("fan.bathroom", base.AddDate(0, 0, 1)),
		off("fan.bathroom", base.AddDate(0, 0, 1).Add(10*time.Minute)),
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

func TestMeanAndVariation(t *testing.T) {
	samples := []durationSample{{seconds: 600}, {seconds: 600}, {seconds: 600}}
	mean, cv := meanAndVariation(samples)
	assert.Equal(t, 600.0, mean)
	assert.Equal(t, 0.0, cv)
}
