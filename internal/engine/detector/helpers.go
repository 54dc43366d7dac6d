package detector

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// activeStates are the states treated as "the device turned on" when a
// detector cares about activations rather than arbitrary transitions.
var activeStates = map[string]bool{
	"on":        true,
	"active":    true,
	"open":      true,
	"playing":   true,
	"detected":  true,
	"home":      true,
	"unlocked":  true,
	"triggered": true,
}

func isActivation(e types.Event) bool {
	return e.IsTransition() && activeStates[strings.ToLower(e.State)]
}

// transitions filters the stream down to real state changes.
func transitions(events []types.Event) []types.Event {
	out := make([]types.Event, 0, len(events))
	for _, e := range events {
		if e.IsTransition() {
			out = append(out, e)
		}
	}
	return out
}

// activations filters the stream down to turn-on style transitions.
func activations(events []types.Event) []types.Event {
	out := make([]types.Event, 0, len(events))
	for _, e := range events {
		if isActivation(e) {
			out = append(out, e)
		}
	}
	return out
}

// splitSessions partitions a time-ordered event slice into bursts separated by
// idle gaps of at least gap.
func splitSessions(events []types.Event, gap time.Duration) [][]types.Event {
	var sessions [][]types.Event
	var current []types.Event

	for _, e := range events {
		if len(current) > 0 && e.Timestamp.Sub(current[len(current)-1].Timestamp) >= gap {
			sessions = append(sessions, current)
			current = nil
		}
		current = append(current, e)
	}
	if len(current) > 0 {
		sessions = append(sessions, current)
	}

	return sessions
}

// areaOf maps entity ids to their area using device metadata.
func areaOf(devices []types.Device) map[string]string {
	areas := make(map[string]string, len(devices))
	for _, d := range devices {
		areas[d.EntityID] = d.Area
	}
	return areas
}

// newPattern builds a candidate with the bookkeeping fields every detector
// fills the same way. first/last come from the observed occurrences.
func newPattern(pt types.PatternType, entities []string, confidence float64, count int, first, last time.Time, metadata map[string]interface{}) *types.Pattern {
	now := time.Now()
	return &types.Pattern{
		ID:                   uuid.New(),
		PatternType:          pt,
		Entities:             entities,
		RawConfidence:        clamp01(confidence),
		CalibratedConfidence: clamp01(confidence),
		OccurrenceCount:      count,
		FirstSeen:            first,
		LastSeen:             last,
		Metadata:             metadata,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// support converts an occurrence count into a confidence that rises toward 1
// as evidence accumulates. count/(count+k) with k=2 gives 0.6 at three
// occurrences and 0.83 at ten.
func support(count int) float64 {
	return float64(count) / float64(count+2)
}
