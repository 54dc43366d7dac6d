package types

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Event is one state transition recorded by the ingestion pipeline.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	EntityID      string    `json:"entity_id"`
	Domain        string    `json:"domain"`
	State         string    `json:"state"`
	PreviousState string    `json:"previous_state"`
}

// IsTransition reports whether the event actually changed state. The event
// store also records periodic state refreshes with identical states.
func (e *Event) IsTransition() bool {
	return e.State != e.PreviousState
}

// Device is a controllable or sensing entity known to the hub.
type Device struct {
	EntityID     string   `json:"entity_id"`
	Name         string   `json:"name"`
	Domain       string   `json:"domain"`
	Area         string   `json:"area"`
	Capabilities []string `json:"capabilities"`
}

// Area is a physical room or zone.
type Area struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DeviceEmbedding is a cached semantic vector for one device, derived from its
// descriptive metadata. SourceTextHash invalidates the entry when the
// underlying descriptor text changes.
type DeviceEmbedding struct {
	EntityID       string          `json:"entity_id"`
	Vector         pgvector.Vector `json:"vector"`
	SourceTextHash string          `json:"source_text_hash"`
	ComputedAt     time.Time       `json:"computed_at"`
}
