package detector

import (
	"context"
	"testing"
	"time"

	"github.com/sixdouglas/suncalc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

const (
	helsinkiLat = 60.17
	helsinkiLon = 24.94
)

// Lights following sunset as it drifts from mid-afternoon in January to late
// evening in May.
func TestSeasonalDetector_SunsetAnchor(t *testing.T) {
	d := NewSeasonalDetector(helsinkiLat, helsinkiLon, 3)

	dates := []time.Time{
		time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 15, 12, 0, 0, 0, time.UTC),
	}

	var events []types.Event
	for _, date := range dates {
		sunset := suncalc.GetTimes(date, helsinkiLat, helsinkiLon)[suncalc.Sunset].Value
		events = append(events, on("light.living_room", sunset.Add(10*time.Minute)))
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	p := patterns[0]
	assert.Equal(t, "sunset", p.Metadata["anchor"])
	assert.Equal(t, 1.0, p.RawConfidence, "every activation is sunset-anchored")
	assert.Equal(t, 3, p.OccurrenceCount)
}

// Usage concentrated in one season without a solar anchor.
func TestSeasonalDetector_SeasonConcentration(t *testing.T) {
	d := NewSeasonalDetector(helsinkiLat, helsinkiLon, 3)

	var events []types.Event
	for day := 0; day < 4; day++ {
		// Noon in a Helsinki July is hours from both sunrise and sunset.
		events = append(events, on("fan.bedroom", time.Date(2026, 7, 1+day*7, 12, 0, 0, 0, time.UTC)))
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "season:summer", patterns[0].Metadata["anchor"])
}

// Activations scattered across the whole year have no dominant anchor.
func TestSeasonalDetector_NoConcentrationDropped(t *testing.T) {
	d := NewSeasonalDetector(helsinkiLat, helsinkiLon, 3)

	var events []types.Event
	for month := time.January; month <= time.December; month += 3 {
		events = append(events, on("switch.heater", time.Date(2026, month, 10, 12, 0, 0, 0, time.UTC)))
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	assert.Empty(t, patterns, "25% per season never clears the concentration threshold")
}

func TestSeasonalDetector_BelowActivationFloor(t *testing.T) {
	d := NewSeasonalDetector(helsinkiLat, helsinkiLon, 5)

	events := []types.Event{
		on("light.living_room", time.Date(2026, 1, 15, 16, 0, 0, 0, time.UTC)),
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

func TestSeason(t *testing.T) {
	assert.Equal(t, "winter", season(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "spring", season(time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "summer", season(time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "autumn", season(time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC)))
}
