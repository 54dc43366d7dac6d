package types

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PatternType identifies which ensemble detector produced a pattern.
type PatternType string

const (
	PatternSequence   PatternType = "sequence"
	PatternContextual PatternType = "contextual"
	PatternRoomBased  PatternType = "room_based"
	PatternSession    PatternType = "session"
	PatternDuration   PatternType = "duration"
	PatternDayType    PatternType = "day_type"
	PatternSeasonal   PatternType = "seasonal"
	PatternAnomaly    PatternType = "anomaly"
)

// AllPatternTypes lists every detector kind in registration order.
func AllPatternTypes() []PatternType {
	return []PatternType{
		PatternSequence,
		PatternContextual,
		PatternRoomBased,
		PatternSession,
		PatternDuration,
		PatternDayType,
		PatternSeasonal,
		PatternAnomaly,
	}
}

// OrderSensitive reports whether entity order is part of a pattern's identity.
// Contextual and room-based patterns describe co-occurrence, not sequence, so
// their entity sets are canonicalized before matching.
func (pt PatternType) OrderSensitive() bool {
	switch pt {
	case PatternContextual, PatternRoomBased:
		return false
	default:
		return true
	}
}

// Pattern is a recurring behavior detected by one ensemble detector.
type Pattern struct {
	ID                   uuid.UUID              `json:"id"`
	PatternType          PatternType            `json:"pattern_type"`
	Entities             []string               `json:"entities"`
	RawConfidence        float64                `json:"raw_confidence"`
	CalibratedConfidence float64                `json:"calibrated_confidence"`
	UtilityScore         float64                `json:"utility_score"`
	OccurrenceCount      int                    `json:"occurrence_count"`
	FirstSeen            time.Time              `json:"first_seen"`
	LastSeen             time.Time              `json:"last_seen"`
	Deprecated           bool                   `json:"deprecated"`
	DeprecatedAt         *time.Time             `json:"deprecated_at,omitempty"`
	NeedsReview          bool                   `json:"needs_review"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

// EntityKey returns the canonical merge key for the pattern's entities.
// Order-sensitive pattern types keep the entity order, the rest sort it, so
// the same contextual co-occurrence matches regardless of detection order.
func (p *Pattern) EntityKey() string {
	if p.PatternType.OrderSensitive() {
		return strings.Join(p.Entities, ",")
	}
	sorted := make([]string, len(p.Entities))
	copy(sorted, p.Entities)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// Outcome is a user decision on a suggestion derived from a pattern.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// LabeledOutcome is a calibration training sample.
type LabeledOutcome struct {
	PatternID     uuid.UUID   `json:"pattern_id"`
	PatternType   PatternType `json:"pattern_type"`
	RawConfidence float64     `json:"raw_confidence"`
	Outcome       Outcome     `json:"outcome"`
	RecordedAt    time.Time   `json:"recorded_at"`
}

// DetectorWatermark tracks how far a detector has processed the event stream.
type DetectorWatermark struct {
	DetectorID             string    `json:"detector_id"`
	LastProcessedTimestamp time.Time `json:"last_processed_timestamp"`
	LastRunStats           RunStats  `json:"last_run_stats"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// RunStats summarizes a single detector run for health reporting.
type RunStats struct {
	Succeeded       bool          `json:"succeeded"`
	EventsProcessed int           `json:"events_processed"`
	PatternsYielded int           `json:"patterns_yielded"`
	Duration        time.Duration `json:"duration"`
	Error           string        `json:"error,omitempty"`
	RanAt           time.Time     `json:"ran_at"`
}

// CalibrationModel is a trained monotonic mapping from raw confidence to
// calibrated probability. Immutable once stored; retrains insert a new version.
type CalibrationModel struct {
	ModelID              string      `json:"model_id"`
	PatternType          PatternType `json:"pattern_type"` // empty for the global model
	Version              int         `json:"version"`
	Thresholds           []float64   `json:"thresholds"`   // raw confidence breakpoints, ascending
	Calibrated           []float64   `json:"calibrated"`   // calibrated value per breakpoint, non-decreasing
	TrainedOnSampleCount int         `json:"trained_on_sample_count"`
	TrainedAt            time.Time   `json:"trained_at"`
}
