package detector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// March 2nd 2026 is a Monday.
var monday = time.Date(2026, 3, 2, 6, 45, 0, 0, time.UTC)

func TestDayTypeDetector_WeekdaySkew(t *testing.T) {
	d := NewDayTypeDetector(4)

	// Monday through Friday, plus one Saturday outlier.
	var events []types.Event
	for day := 0; day < 5; day++ {
		events = append(events, on("switch.coffee_maker", monday.AddDate(0, 0, day)))
	}
	events = append(events, on("switch.coffee_maker", monday.AddDate(0, 0, 5)))

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	p := patterns[0]
	assert.Equal(t, "weekday", p.Metadata["day_type"])
	assert.Equal(t, 5, p.Metadata["weekday_count"])
	assert.Equal(t, 1, p.Metadata["weekend_count"])
	assert.InDelta(t, 5.0/6.0, p.RawConfidence, 1e-9)
	assert.Equal(t, 5, p.OccurrenceCount, "count reflects the dominant day type")
}

func TestDayTypeDetector_WeekendSkew(t *testing.T) {
	d := NewDayTypeDetector(4)

	var events []types.Event
	// Two weekends: Saturday and Sunday each week.
	for week := 0; week < 2; week++ {
		saturday := monday.AddDate(0, 0, 5+7*week)
		events = append(events,
			on("media_player.projector", saturday),
			on("media_player.projector", saturday.AddDate(0, 0, 1)),
		)
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "weekend", patterns[0].Metadata["day_type"])
	assert.Equal(t, 1.0, patterns[0].RawConfidence)
}

// An even spread across day types is not a pattern.
func TestDayTypeDetector_BalancedUsageDropped(t *testing.T) {
	d := NewDayTypeDetector(4)

	var events []types.Event
	for day := 0; day < 7; day++ {
		events = append(events, on("light.hallway", monday.AddDate(0, 0, day)))
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	assert.Empty(t, patterns, "5/7 weekday share is below the skew threshold")
}

func TestDayTypeDetector_BelowActivationFloor(t *testing.T) {
	d := NewDayTypeDetector(4)

	events := []types.Event{
		on("switch.coffee_maker", monday),
		on("switch.coffee_maker", monday.AddDate(0, 0, 1)),
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

func TestIsWeekend(t *testing.T) {
	assert.False(t, isWeekend(monday))
	assert.True(t, isWeekend(monday.AddDate(0, 0, 5)))
	assert.True(t, isWeekend(monday.AddDate(0, 0, 6)))
}
