package detector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// Order flips between occurrences; the pair still counts as one co-occurrence
// pattern with sorted entities.
func TestContextualDetector_OrderIrrelevant(t *testing.T) {
	d := NewContextualDetector(30*time.Second, 3)

	base := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	events := []types.Event{
		on("switch.coffee_maker", base),
		on("light.kitchen", base.Add(5*time.Second)),

		on("light.kitchen", base.AddDate(0, 0, 1)),
		on("switch.coffee_maker", base.AddDate(0, 0, 1).Add(8*time.Second)),

		on("switch.coffee_maker", base.AddDate(0, 0, 2)),
		on("light.kitchen", base.AddDate(0, 0, 2).Add(3*time.Second)),
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	p := patterns[0]
	assert.Equal(t, []string{"light.kitchen", "switch.coffee_maker"}, p.Entities)
	assert.Equal(t, 3, p.OccurrenceCount)
	assert.Equal(t, 1.0, p.RawConfidence, "every occurrence of either side is joint")
}

// One side fires on its own too; confidence is judged against the rarer side.
func TestContextualDetector_ConfidenceUsesRarerSide(t *testing.T) {
	d := NewContextualDetector(30*time.Second, 3)

	base := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	var events []types.Event
	for day := 0; day < 3; day++ {
		at := base.AddDate(0, 0, day)
		events = append(events,
			on("light.kitchen", at),
			on("switch.coffee_maker", at.Add(5*time.Second)),
			// The kitchen light also fires alone later in the day.
			on("light.kitchen", at.Add(6*time.Hour)),
		)
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	// Coffee maker is the rarer side with 3 transitions, all joint.
	assert.Equal(t, 1.0, patterns[0].RawConfidence)
	assert.Equal(t, 3, patterns[0].OccurrenceCount)
}

func TestContextualDetector_BelowSupportDropped(t *testing.T) {
	d := NewContextualDetector(30*time.Second, 3)

	base := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	events := []types.Event{
		on("a", base),
		on("b", base.Add(5*time.Second)),
		on("a", base.AddDate(0, 0, 1)),
		on("b", base.AddDate(0, 0, 1).Add(5*time.Second)),
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

// A burst of one entity next to a single partner event counts once per anchor,
// not once per burst member pairing.
func TestContextualDetector_DedupPerAnchor(t *testing.T) {
	d := NewContextualDetector(time.Minute, 1)

	base := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	events := []types.Event{
		on("a", base),
		on("b", base.Add(5*time.Second)),
		off("b", base.Add(10*time.Second)),
		on("b", base.Add(15*time.Second)),
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 1, patterns[0].Metadata["joint_count"], "three b transitions near one a anchor count once")
}
