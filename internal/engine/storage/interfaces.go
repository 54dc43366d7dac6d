package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// PatternFilter narrows ActivePatterns queries. Zero values mean "no filter".
type PatternFilter struct {
	PatternType       types.PatternType
	MinConfidence     float64
	Area              string
	IncludeDeprecated bool
}

// SynergyFilter narrows Synergies queries. Zero values mean "no filter".
type SynergyFilter struct {
	MinConfidence float64
	Depth         int
}

// RunCommit is the atomic unit a detector run produces: pattern inserts and
// updates plus the watermark advance, committed together or not at all.
type RunCommit struct {
	DetectorID string
	Watermark  time.Time
	Stats      types.RunStats
	Inserts    []*types.Pattern
	Updates    []*types.Pattern
}

// PatternStore persists Pattern records and detector watermarks.
type PatternStore interface {
	// PatternsByType returns all non-deprecated patterns of one type,
	// used by the incremental merge.
	PatternsByType(ctx context.Context, pt types.PatternType) ([]*types.Pattern, error)

	// ActivePatterns returns patterns matching the filter, ordered by
	// utility score descending.
	ActivePatterns(ctx context.Context, filter PatternFilter) ([]*types.Pattern, error)

	// Pattern returns a single pattern by ID.
	Pattern(ctx context.Context, id uuid.UUID) (*types.Pattern, error)

	// CommitRun applies a detector run atomically: all inserts/updates plus
	// the watermark advance in one transaction.
	CommitRun(ctx context.Context, commit RunCommit) error

	// RecordRunFailure records failed run stats without touching the watermark.
	RecordRunFailure(ctx context.Context, detectorID string, stats types.RunStats) error

	// Watermark returns the detector's watermark, or nil if none exists yet.
	Watermark(ctx context.Context, detectorID string) (*types.DetectorWatermark, error)

	// Watermarks returns all detector watermarks.
	Watermarks(ctx context.Context) ([]*types.DetectorWatermark, error)

	// ResetWatermark removes a detector's watermark, forcing a full rescan.
	ResetWatermark(ctx context.Context, detectorID string) error

	// MarkDeprecated flags a pattern as deprecated at the given time.
	MarkDeprecated(ctx context.Context, id uuid.UUID, at time.Time) error

	// MarkNeedsReview flags a pattern for human inspection.
	MarkNeedsReview(ctx context.Context, id uuid.UUID) error

	// DeletePattern permanently removes a pattern.
	DeletePattern(ctx context.Context, id uuid.UUID) error

	// UpdateScores rewrites calibrated confidence and utility score, used by
	// the scheduled recalibration pass.
	UpdateScores(ctx context.Context, id uuid.UUID, calibrated, utility float64) error
}

// SynergyStore persists Synergy chains. Chains are superseded by re-derivation,
// keyed by the ordered chain tuple.
type SynergyStore interface {
	// UpsertSynergies replaces chains by chain key.
	UpsertSynergies(ctx context.Context, synergies []*types.Synergy) error

	// Synergies returns chains matching the filter, ordered by confidence.
	Synergies(ctx context.Context, filter SynergyFilter) ([]*types.Synergy, error)

	// SynergiesByDepth returns all chains of exactly the given depth.
	SynergiesByDepth(ctx context.Context, depth int) ([]*types.Synergy, error)
}

// CalibrationStore persists versioned calibration models. Models are immutable;
// retrains insert a new version and the previous one stays loadable.
type CalibrationStore interface {
	// SaveModel stores a new model version (version assigned by the store).
	SaveModel(ctx context.Context, model *types.CalibrationModel) error

	// LatestModel returns the newest model for the ID, or nil if none.
	LatestModel(ctx context.Context, modelID string) (*types.CalibrationModel, error)

	// PreviousModel returns the newest model older than the given version,
	// or nil if none.
	PreviousModel(ctx context.Context, modelID string, beforeVersion int) (*types.CalibrationModel, error)
}

// FeedbackStore persists labeled suggestion outcomes for calibration training.
type FeedbackStore interface {
	// AddOutcome appends one labeled outcome.
	AddOutcome(ctx context.Context, outcome *types.LabeledOutcome) error

	// OutcomesByType returns all outcomes for one pattern type.
	OutcomesByType(ctx context.Context, pt types.PatternType) ([]*types.LabeledOutcome, error)

	// AllOutcomes returns every labeled outcome.
	AllOutcomes(ctx context.Context) ([]*types.LabeledOutcome, error)

	// ApprovalRate returns approvals/total for a pattern type, and the total
	// sample count. Used by the utility scorer's satisfaction proxy.
	ApprovalRate(ctx context.Context, pt types.PatternType) (float64, int, error)
}

// EventSource reads the event history owned by the ingestion pipeline.
type EventSource interface {
	// EventsBetween returns events in [start, end) ordered by timestamp.
	// entityIDs narrows the query when non-empty.
	EventsBetween(ctx context.Context, entityIDs []string, start, end time.Time) ([]types.Event, error)
}

// DeviceSource reads device and area metadata owned by the hub sync.
type DeviceSource interface {
	Devices(ctx context.Context) ([]types.Device, error)
	Areas(ctx context.Context) ([]types.Area, error)
}

// EmbeddingStore persists computed device embeddings (pgvector) so similarity
// queries can also run SQL-side.
type EmbeddingStore interface {
	UpsertEmbedding(ctx context.Context, emb *types.DeviceEmbedding) error
	Embedding(ctx context.Context, entityID string) (*types.DeviceEmbedding, error)
	DeleteEmbedding(ctx context.Context, entityID string) error
}
