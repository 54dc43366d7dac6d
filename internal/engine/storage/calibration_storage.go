package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// CalibrationStorage persists versioned calibration models and the labeled
// feedback outcomes they are trained on.
type CalibrationStorage struct {
	db *sql.DB
}

// NewCalibrationStorage creates a new calibration storage instance.
func NewCalibrationStorage(db *sql.DB) *CalibrationStorage {
	return &CalibrationStorage{db: db}
}

// modelMapping is the serialized monotonic function stored in JSONB.
type modelMapping struct {
	Thresholds []float64 `json:"thresholds"`
	Calibrated []float64 `json:"calibrated"`
}

// SaveModel stores a new model version. Versions are assigned by the store so
// concurrent retrains cannot collide; previous versions remain loadable.
func (s *CalibrationStorage) SaveModel(ctx context.Context, model *types.CalibrationModel) error {
	mappingJSON, err := json.Marshal(modelMapping{
		Thresholds: model.Thresholds,
		Calibrated: model.Calibrated,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	if model.TrainedAt.IsZero() {
		model.TrainedAt = time.Now()
	}

	query := `
		INSERT INTO calibration_models (
			model_id, pattern_type, version, mapping, trained_on_sample_count, trained_at
		) VALUES (
			$1, $2,
			COALESCE((SELECT MAX(version) FROM calibration_models WHERE model_id = $1), 0) + 1,
			$3, $4, $5
		)
		RETURNING version
	`

	err = s.db.QueryRowContext(ctx, query,
		model.ModelID,
		model.PatternType,
		mappingJSON,
		model.TrainedOnSampleCount,
		model.TrainedAt,
	).Scan(&model.Version)
	if err != nil {
		return fmt.Errorf("failed to insert calibration model: %w", err)
	}

	return nil
}

// LatestModel returns the newest model for the ID, or nil if none exists.
func (s *CalibrationStorage) LatestModel(ctx context.Context, modelID string) (*types.CalibrationModel, error) {
	query := `
		SELECT model_id, pattern_type, version, mapping, trained_on_sample_count, trained_at
		FROM calibration_models
		WHERE model_id = $1
		ORDER BY version DESC
		LIMIT 1
	`

	return s.scanModel(s.db.QueryRowContext(ctx, query, modelID))
}

// PreviousModel returns the newest model older than the given version.
func (s *CalibrationStorage) PreviousModel(ctx context.Context, modelID string, beforeVersion int) (*types.CalibrationModel, error) {
	query := `
		SELECT model_id, pattern_type, version, mapping, trained_on_sample_count, trained_at
		FROM calibration_models
		WHERE model_id = $1 AND version < $2
		ORDER BY version DESC
		LIMIT 1
	`

	return s.scanModel(s.db.QueryRowContext(ctx, query, modelID, beforeVersion))
}

func (s *CalibrationStorage) scanModel(row *sql.Row) (*types.CalibrationModel, error) {
	var model types.CalibrationModel
	var mappingJSON []byte

	err := row.Scan(
		&model.ModelID,
		&model.PatternType,
		&model.Version,
		&mappingJSON,
		&model.TrainedOnSampleCount,
		&model.TrainedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration model: %w", err)
	}

	var mapping modelMapping
	if err := json.Unmarshal(mappingJSON, &mapping); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mapping: %w", err)
	}
	model.Thresholds = mapping.Thresholds
	model.Calibrated = mapping.Calibrated

	return &model, nil
}

// FeedbackStorage persists labeled suggestion outcomes.
type FeedbackStorage struct {
	db *sql.DB
}

// NewFeedbackStorage creates a new feedback storage instance.
func NewFeedbackStorage(db *sql.DB) *FeedbackStorage {
	return &FeedbackStorage{db: db}
}

// AddOutcome appends one labeled outcome.
func (s *FeedbackStorage) AddOutcome(ctx context.Context, outcome *types.LabeledOutcome) error {
	if outcome.RecordedAt.IsZero() {
		outcome.RecordedAt = time.Now()
	}

	query := `
		INSERT INTO pattern_feedback (pattern_id, pattern_type, raw_confidence, outcome, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.db.ExecContext(ctx, query,
		outcome.PatternID,
		outcome.PatternType,
		outcome.RawConfidence,
		outcome.Outcome,
		outcome.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}

	return nil
}

// OutcomesByType returns all outcomes for one pattern type.
func (s *FeedbackStorage) OutcomesByType(ctx context.Context, pt types.PatternType) ([]*types.LabeledOutcome, error) {
	query := `
		SELECT pattern_id, pattern_type, raw_confidence, outcome, recorded_at
		FROM pattern_feedback
		WHERE pattern_type = $1
		ORDER BY recorded_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, pt)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	return collectOutcomes(rows)
}

// AllOutcomes returns every labeled outcome.
func (s *FeedbackStorage) AllOutcomes(ctx context.Context) ([]*types.LabeledOutcome, error) {
	query := `
		SELECT pattern_id, pattern_type, raw_confidence, outcome, recorded_at
		FROM pattern_feedback
		ORDER BY recorded_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	return collectOutcomes(rows)
}

// ApprovalRate returns approvals/total and the sample count for one type.
func (s *FeedbackStorage) ApprovalRate(ctx context.Context, pt types.PatternType) (float64, int, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE outcome = 'approved'),
			COUNT(*)
		FROM pattern_feedback
		WHERE pattern_type = $1
	`

	var approved, total int
	if err := s.db.QueryRowContext(ctx, query, pt).Scan(&approved, &total); err != nil {
		return 0, 0, fmt.Errorf("failed to query approval rate: %w", err)
	}

	if total == 0 {
		return 0, 0, nil
	}

	return float64(approved) / float64(total), total, nil
}

func collectOutcomes(rows *sql.Rows) ([]*types.LabeledOutcome, error) {
	var outcomes []*types.LabeledOutcome

	for rows.Next() {
		var o types.LabeledOutcome
		if err := rows.Scan(&o.PatternID, &o.PatternType, &o.RawConfidence, &o.Outcome, &o.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback row: %w", err)
		}
		outcomes = append(outcomes, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feedback rows: %w", err)
	}

	return outcomes, nil
}
