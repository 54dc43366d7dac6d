package detector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// The same TV-and-lights group recurs across two separate evenings.
func TestSessionDetector_RecurringGroup(t *testing.T) {
	d := NewSessionDetector(30*time.Minute, 2)

	evening := func(at time.Time) []types.Event {
		return []types.Event{
			on("media_player.tv", at),
			on("light.living_room", at.Add(2*time.Minute)),
			off("light.living_room", at.Add(20*time.Minute)),
			off("media_player.tv", at.Add(25*time.Minute)),
		}
	}

	base := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	var events []types.Event
	events = append(events, evening(base)...)
	events = append(events, evening(base.AddDate(0, 0, 1))...)

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	p := patterns[0]
	assert.Equal(t, []string{"light.living_room", "media_player.tv"}, p.Entities)
	assert.Equal(t, 2, p.OccurrenceCount)
	assert.Equal(t, 0.5, p.RawConfidence, "2/(2+2)")
}

func TestSessionDetector_SingleSessionDropped(t *testing.T) {
	d := NewSessionDetector(30*time.Minute, 2)

	base := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	events := []types.Event{
		on("media_player.tv", base),
		on("light.living_room", base.Add(2*time.Minute)),
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

// Group membership is capped to the most active entities so one busy session
// cannot define an unrepeatable giant set.
func TestSessionDetector_GroupCapped(t *testing.T) {
	d := NewSessionDetector(30*time.Minute, 2)

	session := func(at time.Time) []types.Event {
		events := []types.Event{
			on("media_player.tv", at),
			off("media_player.tv", at.Add(1*time.Minute)),
			on("media_player.tv", at.Add(2*time.Minute)),
			on("light.living_room", at.Add(3*time.Minute)),
			off("light.living_room", at.Add(4*time.Minute)),
			on("light.living_room", at.Add(5*time.Minute)),
			on("light.hallway", at.Add(6*time.Minute)),
			off("light.hallway", at.Add(7*time.Minute)),
			on("fan.ceiling", at.Add(8*time.Minute)),
			off("fan.ceiling", at.Add(9*time.Minute)),
			// One-off visitors with a single transition each.
			on("switch.misc_a", at.Add(10*time.Minute)),
			on("switch.misc_b", at.Add(11*time.Minute)),
		}
		return events
	}

	base := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	var events []types.Event
	events = append(events, session(base)...)
	events = append(events, session(base.AddDate(0, 0, 1))...)

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	p := patterns[0]
	assert.Len(t, p.Entities, 4)
	assert.NotContains(t, p.Entities, "switch.misc_a")
	assert.NotContains(t, p.Entities, "switch.misc_b")
}

func TestSplitSessions(t *testing.T) {
	base := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	events := []types.Event{
		on("a", base),
		on("b", base.Add(5*time.Minute)),
		on("a", base.Add(2*time.Hour)),
		on("b", base.Add(2*time.Hour).Add(time.Minute)),
	}

	sessions := splitSessions(events, 30*time.Minute)
	require.Len(t, sessions, 2)
	assert.Len(t, sessions[0], 2)
	assert.Len(t, sessions[1], 2)
}
