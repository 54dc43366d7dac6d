package detector

import (
	"context"
	"sort"
	"time"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// ContextualDetector finds unordered co-occurrence: two entities whose state
// changes land inside the same short window often enough that one implies the
// other, regardless of which moves first.
type ContextualDetector struct {
	// Window is the co-occurrence window.
	Window time.Duration
	// MinSupport is the minimum number of joint occurrences.
	MinSupport int
}

// NewContextualDetector creates a contextual detector.
func NewContextualDetector(window time.Duration, minSupport int) *ContextualDetector {
	return &ContextualDetector{Window: window, MinSupport: minSupport}
}

func (d *ContextualDetector) ID() string { return "contextual" }
func (d *ContextualDetector) Type() types.PatternType { return types.PatternContextual }

type coEvidence struct {
	a, b  string
	joint int
	first time.Time
	last  time.Time
}

// Detect counts unordered entity pairs transitioning within the window.
// Confidence is the joint count over the rarer entity's individual count, so
// a pair where one side almost always brings the other scores high even when
// the other side is busy on its own.
func (d *ContextualDetector) Detect(ctx context.Context, events []types.Event, devices []types.Device) ([]*types.Pattern, error) {
	trans := transitions(events)

	individual := make(map[string]int)
	for _, e := range trans {
		individual[e.EntityID]++
	}

	evidence := make(map[string]*coEvidence)

	for i, a := range trans {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// One joint occurrence per partner per anchor event.
		seen := map[string]bool{}
		for j := i + 1; j < len(trans); j++ {
			b := trans[j]
			if b.Timestamp.Sub(a.Timestamp) > d.Window {
				break
			}
			if b.EntityID == a.EntityID || seen[b.EntityID] {
				continue
			}
			seen[b.EntityID] = true

			lo, hi := a.EntityID, b.EntityID
			if lo > hi {
				lo, hi = hi, lo
			}
			key := lo + "," + hi

			acc, ok := evidence[key]
			if !ok {
				acc = &coEvidence{a: lo, b: hi, first: a.Timestamp}
				evidence[key] = acc
			}
			acc.joint++
			if b.Timestamp.After(acc.last) {
				acc.last = b.Timestamp
			}
		}
	}

	var patterns []*types.Pattern
	for _, acc := range evidence {
		if acc.joint < d.MinSupport {
			continue
		}

		rarer := individual[acc.a]
		if individual[acc.b] < rarer {
			rarer = individual[acc.b]
		}
		if rarer == 0 {
			continue
		}

		entities := []string{acc.a, acc.b}
		sort.Strings(entities)

		patterns = append(patterns, newPattern(
			types.PatternContextual,
			entities,
			float64(acc.joint)/float64(rarer),
			acc.joint,
			acc.first,
			acc.last,
			map[string]interface{}{
				"window_seconds": d.Window.Seconds(),
				"joint_count":    acc.joint,
			},
		))
	}

	return patterns, nil
}
