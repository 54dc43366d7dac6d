package detector

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// SessionDetector splits the event stream into activity bursts separated by
// idle gaps and finds entity groups that keep showing up in the same session.
type SessionDetector struct {
	// Gap is the idle duration that closes a session.
	Gap time.Duration
	// MinSessions is the minimum number of sessions a group must recur in.
	MinSessions int
	// MaxGroupSize bounds the reported entity group.
	MaxGroupSize int
}

// NewSessionDetector creates a session detector.
func NewSessionDetector(gap time.Duration, minSessions int) *SessionDetector {
	return &SessionDetector{Gap: gap, MinSessions: minSessions, MaxGroupSize: 4}
}

func (d *SessionDetector) ID() string { return "session" }
func (d *SessionDetector) Type() types.PatternType { return types.PatternSession }

type sessionEvidence struct {
	entities []string
	count    int
	first    time.Time
	last     time.Time
}

// Detect keys each session by its participating entity set (capped to the
// most active members) and reports sets recurring across enough sessions.
func (d *SessionDetector) Detect(ctx context.Context, events []types.Event, devices []types.Device) ([]*types.Pattern, error) {
	sessions := splitSessions(transitions(events), d.Gap)
	evidence := make(map[string]*sessionEvidence)

	for _, session := range sessions {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		entities := d.sessionGroup(session)
		if len(entities) < 2 {
			continue
		}

		key := strings.Join(entities, ",")
		acc, ok := evidence[key]
		if !ok {
			acc = &sessionEvidence{entities: entities, first: session[0].Timestamp}
			evidence[key] = acc
		}
		acc.count++
		end := session[len(session)-1].Timestamp
		if end.After(acc.last) {
			acc.last = end
		}
	}

	var patterns []*types.Pattern
	for _, acc := range evidence {
		if acc.count < d.MinSessions {
			continue
		}
		patterns = append(patterns, newPattern(
			types.PatternSession,
			acc.entities,
			support(acc.count),
			acc.count,
			acc.first,
			acc.last,
			map[string]interface{}{
				"gap_minutes": d.Gap.Minutes(),
				"sessions":    acc.count,
			},
		))
	}

	return patterns, nil
}

// sessionGroup returns the session's most active entities, sorted, capped to
// MaxGroupSize so one busy evening does not define an unmatchable giant set.
func (d *SessionDetector) sessionGroup(session []types.Event) []string {
	counts := make(map[string]int)
	for _, e := range session {
		counts[e.EntityID]++
	}

	entities := make([]string, 0, len(counts))
	for entity := range counts {
		entities = append(entities, entity)
	}
	sort.Slice(entities, func(i, j int) bool {
		if counts[entities[i]] != counts[entities[j]] {
			return counts[entities[i]] > counts[entities[j]]
		}
		return entities[i] < entities[j]
	})

	if len(entities) > d.MaxGroupSize {
		entities = entities[:d.MaxGroupSize]
	}
	sort.Strings(entities)
	return entities
}
