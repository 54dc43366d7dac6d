package synergy

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// Analyzer mines trigger->action device pairs from event history using
// temporal co-occurrence. A pair qualifies once it has been observed at least
// MinOccurrences times across the analysis window.
type Analyzer struct {
	// Window is how long after a trigger transition an action transition
	// still counts as correlated.
	Window time.Duration
	// MinOccurrences is the qualification threshold for a pair.
	MinOccurrences int
	// SaturationCount is the occurrence count at which confidence reaches 1.0.
	SaturationCount int
	// ImpactHalfLife controls the recency decay half of the impact score.
	ImpactHalfLife time.Duration

	logger *slog.Logger
}

// NewAnalyzer creates a pairwise analyzer with the given parameters.
func NewAnalyzer(window time.Duration, minOccurrences, saturationCount int, impactHalfLife time.Duration, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		Window:          window,
		MinOccurrences:  minOccurrences,
		SaturationCount: saturationCount,
		ImpactHalfLife:  impactHalfLife,
		logger:          logger.With("component", "pairwise_analyzer"),
	}
}

// pairAccumulator collects co-occurrence evidence for one trigger->action pair
// while scanning the event stream.
type pairAccumulator struct {
	trigger      string
	action       string
	count        int
	lastObserved time.Time
}

// FindPairs scans the event stream and returns every qualifying depth-2
// synergy. areaByEntity maps entity ids to area ids; a pair gets an area only
// when trigger and action agree on one. Ties between equally frequent actions
// for the same trigger are all retained, ranking is the scorer's job.
func (a *Analyzer) FindPairs(events []types.Event, areaByEntity map[string]string, now time.Time) []*types.Synergy {
	transitions := make([]types.Event, 0, len(events))
	for _, e := range events {
		if e.IsTransition() {
			transitions = append(transitions, e)
		}
	}

	accums := make(map[string]*pairAccumulator)

	for i, trigger := range transitions {
		// Each action entity counts at most once per trigger transition, so a
		// chatty sensor cannot inflate a single co-occurrence.
		seen := make(map[string]bool)

		for j := i + 1; j < len(transitions); j++ {
			action := transitions[j]
			if action.Timestamp.Sub(trigger.Timestamp) > a.Window {
				break
			}
			if action.EntityID == trigger.EntityID || seen[action.EntityID] {
				continue
			}
			seen[action.EntityID] = true

			key := trigger.EntityID + ">" + action.EntityID
			acc, ok := accums[key]
			if !ok {
				acc = &pairAccumulator{trigger: trigger.EntityID, action: action.EntityID}
				accums[key] = acc
			}
			acc.count++
			if action.Timestamp.After(acc.lastObserved) {
				acc.lastObserved = action.Timestamp
			}
		}
	}

	var pairs []*types.Synergy
	for _, acc := range accums {
		if acc.count < a.MinOccurrences {
			continue
		}

		pair := &types.Synergy{
			ID:              uuid.New(),
			ChainDevices:    []string{acc.trigger, acc.action},
			Depth:           2,
			Confidence:      a.confidence(acc.count),
			ImpactScore:     a.impact(acc.count, acc.lastObserved, now),
			Area:            sharedArea(areaByEntity, acc.trigger, acc.action),
			Rationale:       fmt.Sprintf("%s follows %s within %s (%d times)", acc.action, acc.trigger, a.Window, acc.count),
			OccurrenceCount: acc.count,
			LastObserved:    acc.lastObserved,
			CreatedAt:       now,
		}
		pairs = append(pairs, pair)
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Confidence != pairs[j].Confidence {
			return pairs[i].Confidence > pairs[j].Confidence
		}
		return pairs[i].ChainKey() < pairs[j].ChainKey()
	})

	a.logger.Debug("Pairwise analysis complete",
		"transitions", len(transitions),
		"candidates", len(accums),
		"qualified", len(pairs))

	return pairs
}

// confidence normalizes the occurrence count against the saturation count.
func (a *Analyzer) confidence(count int) float64 {
	if a.SaturationCount <= 0 {
		return 1
	}
	c := float64(count) / float64(a.SaturationCount)
	if c > 1 {
		return 1
	}
	return c
}

// impact blends normalized frequency with exponential recency decay, so a pair
// observed often but not recently ranks below a fresh one of equal frequency.
func (a *Analyzer) impact(count int, lastObserved, now time.Time) float64 {
	freq := a.confidence(count)

	recency := 1.0
	if a.ImpactHalfLife > 0 && now.After(lastObserved) {
		age := now.Sub(lastObserved)
		recency = math.Pow(0.5, age.Hours()/a.ImpactHalfLife.Hours())
	}

	return (freq + recency) / 2
}

func sharedArea(areaByEntity map[string]string, trigger, action string) string {
	if areaByEntity == nil {
		return ""
	}
	ta := areaByEntity[trigger]
	if ta != "" && ta == areaByEntity[action] {
		return ta
	}
	return ""
}
