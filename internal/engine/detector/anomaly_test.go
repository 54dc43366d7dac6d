package detector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// A door lock that cycles every morning and once, oddly, at 3 AM.
func TestAnomalyDetector_RareHour(t *testing.T) {
	d := NewAnomalyDetector(20)

	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	var events []types.Event
	for day := 0; day < 24; day++ {
		at := base.AddDate(0, 0, day).Add(jitter(300))
		events = append(events, on("lock.front_door", at))
	}
	events = append(events, on("lock.front_door", time.Date(2026, 3, 20, 3, 12, 0, 0, time.UTC)))

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	p := patterns[0]
	assert.Equal(t, []string{"lock.front_door"}, p.Entities)
	assert.Equal(t, 3, p.Metadata["hour"])
	assert.Equal(t, 1, p.OccurrenceCount, "one observation in the rare bucket")
	assert.InDelta(t, 0.2, p.RawConfidence, 1e-9, "1/25 share against the 0.05 rare cutoff")
}

func TestAnomalyDetector_BelowBaselineDropped(t *testing.T) {
	d := NewAnomalyDetector(20)

	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	var events []types.Event
	for day := 0; day < 5; day++ {
		events = append(events, on("lock.front_door", base.AddDate(0, 0, day)))
	}
	events = append(events, on("lock.front_door", time.Date(2026, 3, 4, 3, 0, 0, 0, time.UTC)))

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	assert.Empty(t, patterns, "too little history to call anything rare")
}

// Uniform activity has no hour rare enough to flag.
func TestAnomalyDetector_NoRareBucket(t *testing.T) {
	d := NewAnomalyDetector(20)

	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	var events []types.Event
	for day := 0; day < 5; day++ {
		for _, hour := range []int{7, 12, 18, 22} {
			events = append(events, on("light.hallway", base.AddDate(0, 0, day).Add(time.Duration(hour)*time.Hour)))
		}
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	assert.Empty(t, patterns, "every bucket holds a quarter of the activity")
}

// Even with several rare hours, the detector reports one pattern per entity so
// the merge key stays stable between runs.
func TestAnomalyDetector_OnePatternPerEntity(t *testing.T) {
	d := NewAnomalyDetector(20)

	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	var events []types.Event
	for day := 0; day < 40; day++ {
		events = append(events, on("lock.front_door", base.AddDate(0, 0, day)))
	}
	events = append(events,
		on("lock.front_door", time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)),
		on("lock.front_door", time.Date(2026, 3, 15, 23, 30, 0, 0, time.UTC)),
	)

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	assert.Len(t, patterns, 1)
}
