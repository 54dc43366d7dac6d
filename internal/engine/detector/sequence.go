package detector

import (
	"context"
	"strings"
	"time"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// SequenceDetector finds fixed-order multi-step sequences: the same three
// entities transitioning in the same order, repeatedly, each full run fitting
// inside the window.
type SequenceDetector struct {
	// Window bounds the span of one sequence occurrence, first to last step.
	Window time.Duration
	// MinSupport is the minimum number of occurrences before a sequence
	// becomes a pattern.
	MinSupport int
}

// NewSequenceDetector creates a sequence detector.
func NewSequenceDetector(window time.Duration, minSupport int) *SequenceDetector {
	return &SequenceDetector{Window: window, MinSupport: minSupport}
}

func (d *SequenceDetector) ID() string { return "sequence" }
func (d *SequenceDetector) Type() types.PatternType { return types.PatternSequence }

type sequenceEvidence struct {
	entities []string
	count    int
	first    time.Time
	last     time.Time
}

// Detect slides over the transition stream collecting ordered entity triples.
func (d *SequenceDetector) Detect(ctx context.Context, events []types.Event, devices []types.Device) ([]*types.Pattern, error) {
	trans := transitions(events)
	evidence := make(map[string]*sequenceEvidence)

	for i := range trans {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		seq := d.tripleAt(trans, i)
		if seq == nil {
			continue
		}

		key := strings.Join(seq.entities, ">")
		acc, ok := evidence[key]
		if !ok {
			acc = &sequenceEvidence{entities: seq.entities, first: seq.first, last: seq.last}
			evidence[key] = acc
		}
		acc.count++
		if seq.last.After(acc.last) {
			acc.last = seq.last
		}
	}

	var patterns []*types.Pattern
	for _, acc := range evidence {
		if acc.count < d.MinSupport {
			continue
		}
		patterns = append(patterns, newPattern(
			types.PatternSequence,
			acc.entities,
			support(acc.count),
			acc.count,
			acc.first,
			acc.last,
			map[string]interface{}{
				"window_seconds": d.Window.Seconds(),
				"steps":          len(acc.entities),
			},
		))
	}

	return patterns, nil
}

// tripleAt extracts the ordered sequence of the first three distinct entities
// transitioning within the window starting at index i, or nil if there are
// fewer than three.
func (d *SequenceDetector) tripleAt(trans []types.Event, i int) *sequenceEvidence {
	start := trans[i]
	entities := []string{start.EntityID}
	last := start.Timestamp

	for j := i + 1; j < len(trans) && len(entities) < 3; j++ {
		e := trans[j]
		if e.Timestamp.Sub(start.Timestamp) > d.Window {
			break
		}
		if containsString(entities, e.EntityID) {
			continue
		}
		entities = append(entities, e.EntityID)
		last = e.Timestamp
	}

	if len(entities) < 3 {
		return nil
	}

	return &sequenceEvidence{entities: entities, count: 0, first: start.Timestamp, last: last}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
