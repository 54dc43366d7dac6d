package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Synergy is a directed chain of 2-4 devices whose state transitions tend to
// follow one another. Depth-2 chains come from the pairwise analyzer; deeper
// chains from the multi-hop extractor. Synergies are never mutated in place:
// each run re-derives them and upserts by ChainKey.
type Synergy struct {
	ID           uuid.UUID `json:"id"`
	ChainDevices []string  `json:"chain_devices"`
	Depth        int       `json:"depth"`
	ImpactScore  float64   `json:"impact_score"`
	Confidence   float64   `json:"confidence"`
	Area         string    `json:"area,omitempty"`
	Rationale    string    `json:"rationale"`
	// OccurrenceCount is only meaningful for depth-2 pairs, where it counts
	// observed trigger->action co-occurrences.
	OccurrenceCount int       `json:"occurrence_count"`
	LastObserved    time.Time `json:"last_observed"`
	CreatedAt       time.Time `json:"created_at"`
}

// TriggerEntity is the first device in the chain.
func (s *Synergy) TriggerEntity() string {
	if len(s.ChainDevices) == 0 {
		return ""
	}
	return s.ChainDevices[0]
}

// ActionEntity is the final device in the chain.
func (s *Synergy) ActionEntity() string {
	if len(s.ChainDevices) == 0 {
		return ""
	}
	return s.ChainDevices[len(s.ChainDevices)-1]
}

// ChainKey is the ordered dedup key for a chain across runs. Direction
// matters, so this is the ordered tuple, not a canonicalized set.
func (s *Synergy) ChainKey() string {
	return strings.Join(s.ChainDevices, ">")
}

// Validate enforces the structural invariants on a chain.
func (s *Synergy) Validate() error {
	if len(s.ChainDevices) < 2 || len(s.ChainDevices) > 4 {
		return fmt.Errorf("chain length %d outside [2,4]", len(s.ChainDevices))
	}
	if s.Depth != len(s.ChainDevices) {
		return fmt.Errorf("depth %d != chain length %d", s.Depth, len(s.ChainDevices))
	}
	seen := make(map[string]bool, len(s.ChainDevices))
	for _, d := range s.ChainDevices {
		if seen[d] {
			return fmt.Errorf("duplicate device %s in chain", d)
		}
		seen[d] = true
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence %f outside [0,1]", s.Confidence)
	}
	return nil
}

// Contains reports whether the chain already includes the given device.
func (s *Synergy) Contains(entityID string) bool {
	for _, d := range s.ChainDevices {
		if d == entityID {
			return true
		}
	}
	return false
}
