package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// PatternStorage provides persistent storage for detected patterns and
// detector watermarks using PostgreSQL.
type PatternStorage struct {
	db *sql.DB
}

// NewPatternStorage creates a new pattern storage instance.
func NewPatternStorage(db *sql.DB) *PatternStorage {
	return &PatternStorage{db: db}
}

const patternColumns = `
	id, pattern_type, entities, raw_confidence, calibrated_confidence,
	utility_score, occurrence_count, first_seen, last_seen,
	deprecated, deprecated_at, needs_review, metadata, created_at, updated_at`

func scanPattern(scan func(...interface{}) error) (*types.Pattern, error) {
	var p types.Pattern
	var metadataJSON []byte

	err := scan(
		&p.ID,
		&p.PatternType,
		pq.Array(&p.Entities),
		&p.RawConfidence,
		&p.CalibratedConfidence,
		&p.UtilityScore,
		&p.OccurrenceCount,
		&p.FirstSeen,
		&p.LastSeen,
		&p.Deprecated,
		&p.DeprecatedAt,
		&p.NeedsReview,
		&metadataJSON,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &p, nil
}

// PatternsByType returns all non-deprecated patterns of one type.
func (s *PatternStorage) PatternsByType(ctx context.Context, pt types.PatternType) ([]*types.Pattern, error) {
	query := `
		SELECT ` + patternColumns + `
		FROM patterns
		WHERE pattern_type = $1 AND deprecated = false
		ORDER BY last_seen DESC
	`

	rows, err := s.db.QueryContext(ctx, query, pt)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	return collectPatterns(rows)
}

// ActivePatterns returns patterns matching the filter, ordered by utility score.
func (s *PatternStorage) ActivePatterns(ctx context.Context, filter PatternFilter) ([]*types.Pattern, error) {
	query := `
		SELECT ` + patternColumns + `
		FROM patterns
		WHERE calibrated_confidence >= $1`

	args := []interface{}{filter.MinConfidence}
	argIndex := 2

	if !filter.IncludeDeprecated {
		query += ` AND deprecated = false`
	}
	if filter.PatternType != "" {
		query += fmt.Sprintf(` AND pattern_type = $%d`, argIndex)
		args = append(args, filter.PatternType)
		argIndex++
	}
	if filter.Area != "" {
		// Area filtering relies on the detector stamping the area into metadata.
		query += fmt.Sprintf(` AND metadata->>'area' = $%d`, argIndex)
		args = append(args, filter.Area)
		argIndex++
	}

	query += ` ORDER BY utility_score DESC, calibrated_confidence DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query active patterns: %w", err)
	}
	defer rows.Close()

	return collectPatterns(rows)
}

// Pattern retrieves a single pattern by ID.
func (s *PatternStorage) Pattern(ctx context.Context, id uuid.UUID) (*types.Pattern, error) {
	query := `
		SELECT ` + patternColumns + `
		FROM patterns
		WHERE id = $1
	`

	p, err := scanPattern(s.db.QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pattern not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query pattern: %w", err)
	}

	return p, nil
}

func collectPatterns(rows *sql.Rows) ([]*types.Pattern, error) {
	var patterns []*types.Pattern

	for rows.Next() {
		p, err := scanPattern(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pattern row: %w", err)
		}
		patterns = append(patterns, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pattern rows: %w", err)
	}

	return patterns, nil
}

// CommitRun applies a detector run atomically: inserts, updates and the
// watermark advance happen in one transaction, so a partial failure leaves
// both the patterns and the watermark untouched.
func (s *PatternStorage) CommitRun(ctx context.Context, commit RunCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()

	for _, p := range commit.Inserts {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now

		metadataJSON, err := marshalMetadata(p.Metadata)
		if err != nil {
			return err
		}

		query := `
			INSERT INTO patterns (
				id, pattern_type, entities, entity_key, raw_confidence,
				calibrated_confidence, utility_score, occurrence_count,
				first_seen, last_seen, deprecated, deprecated_at, needs_review,
				metadata, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`

		_, err = tx.ExecContext(ctx, query,
			p.ID,
			p.PatternType,
			pq.Array(p.Entities),
			p.EntityKey(),
			p.RawConfidence,
			p.CalibratedConfidence,
			p.UtilityScore,
			p.OccurrenceCount,
			p.FirstSeen,
			p.LastSeen,
			p.Deprecated,
			p.DeprecatedAt,
			p.NeedsReview,
			metadataJSON,
			p.CreatedAt,
			p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert pattern: %w", err)
		}
	}

	for _, p := range commit.Updates {
		metadataJSON, err := marshalMetadata(p.Metadata)
		if err != nil {
			return err
		}

		query := `
			UPDATE patterns
			SET raw_confidence = $2,
				calibrated_confidence = $3,
				utility_score = $4,
				occurrence_count = $5,
				last_seen = $6,
				metadata = $7,
				updated_at = $8
			WHERE id = $1
		`

		result, err := tx.ExecContext(ctx, query,
			p.ID,
			p.RawConfidence,
			p.CalibratedConfidence,
			p.UtilityScore,
			p.OccurrenceCount,
			p.LastSeen,
			metadataJSON,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to update pattern: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("pattern not found during merge: %s", p.ID)
		}
	}

	if err := upsertWatermarkTx(ctx, tx, commit.DetectorID, commit.Watermark, commit.Stats); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	return nil
}

func marshalMetadata(metadata map[string]interface{}) ([]byte, error) {
	// JSONB columns should always hold valid JSON, use {} for nil/empty
	if len(metadata) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return b, nil
}

func upsertWatermarkTx(ctx context.Context, tx *sql.Tx, detectorID string, mark time.Time, stats types.RunStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal run stats: %w", err)
	}

	// The watermark never moves backwards: GREATEST guards against a stale
	// run committing after a newer one.
	query := `
		INSERT INTO detector_watermarks (detector_id, last_processed_timestamp, last_run_stats, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (detector_id)
		DO UPDATE SET
			last_processed_timestamp = GREATEST(detector_watermarks.last_processed_timestamp, EXCLUDED.last_processed_timestamp),
			last_run_stats = EXCLUDED.last_run_stats,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := tx.ExecContext(ctx, query, detectorID, mark, statsJSON, time.Now()); err != nil {
		return fmt.Errorf("failed to upsert watermark: %w", err)
	}

	return nil
}

// RecordRunFailure stores failed run stats without advancing the watermark.
func (s *PatternStorage) RecordRunFailure(ctx context.Context, detectorID string, stats types.RunStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal run stats: %w", err)
	}

	query := `
		INSERT INTO detector_watermarks (detector_id, last_processed_timestamp, last_run_stats, updated_at)
		VALUES ($1, to_timestamp(0), $2, $3)
		ON CONFLICT (detector_id)
		DO UPDATE SET
			last_run_stats = EXCLUDED.last_run_stats,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, detectorID, statsJSON, time.Now()); err != nil {
		return fmt.Errorf("failed to record run failure: %w", err)
	}

	return nil
}

// Watermark returns the detector's watermark, or nil if none exists.
func (s *PatternStorage) Watermark(ctx context.Context, detectorID string) (*types.DetectorWatermark, error) {
	query := `
		SELECT detector_id, last_processed_timestamp, last_run_stats, updated_at
		FROM detector_watermarks
		WHERE detector_id = $1
	`

	wm, err := scanWatermark(s.db.QueryRowContext(ctx, query, detectorID).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query watermark: %w", err)
	}

	return wm, nil
}

// Watermarks returns all detector watermarks.
func (s *PatternStorage) Watermarks(ctx context.Context) ([]*types.DetectorWatermark, error) {
	query := `
		SELECT detector_id, last_processed_timestamp, last_run_stats, updated_at
		FROM detector_watermarks
		ORDER BY detector_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query watermarks: %w", err)
	}
	defer rows.Close()

	var marks []*types.DetectorWatermark
	for rows.Next() {
		wm, err := scanWatermark(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watermark row: %w", err)
		}
		marks = append(marks, wm)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watermark rows: %w", err)
	}

	return marks, nil
}

func scanWatermark(scan func(...interface{}) error) (*types.DetectorWatermark, error) {
	var wm types.DetectorWatermark
	var statsJSON []byte

	if err := scan(&wm.DetectorID, &wm.LastProcessedTimestamp, &statsJSON, &wm.UpdatedAt); err != nil {
		return nil, err
	}

	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &wm.LastRunStats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run stats: %w", err)
		}
	}

	return &wm, nil
}

// ResetWatermark removes a detector's watermark, forcing a full rescan.
func (s *PatternStorage) ResetWatermark(ctx context.Context, detectorID string) error {
	query := `DELETE FROM detector_watermarks WHERE detector_id = $1`

	if _, err := s.db.ExecContext(ctx, query, detectorID); err != nil {
		return fmt.Errorf("failed to reset watermark: %w", err)
	}

	return nil
}

// MarkDeprecated flags a pattern as deprecated.
func (s *PatternStorage) MarkDeprecated(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE patterns
		SET deprecated = true,
			deprecated_at = $2,
			updated_at = $3
		WHERE id = $1 AND deprecated = false
	`

	if _, err := s.db.ExecContext(ctx, query, id, at, time.Now()); err != nil {
		return fmt.Errorf("failed to deprecate pattern: %w", err)
	}

	return nil
}

// MarkNeedsReview flags a pattern for human inspection.
func (s *PatternStorage) MarkNeedsReview(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE patterns
		SET needs_review = true,
			updated_at = $2
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, id, time.Now()); err != nil {
		return fmt.Errorf("failed to flag pattern for review: %w", err)
	}

	return nil
}

// DeletePattern permanently removes a pattern.
func (s *PatternStorage) DeletePattern(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM patterns WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete pattern: %w", err)
	}

	return nil
}

// UpdateScores rewrites calibrated confidence and utility score.
func (s *PatternStorage) UpdateScores(ctx context.Context, id uuid.UUID, calibrated, utility float64) error {
	query := `
		UPDATE patterns
		SET calibrated_confidence = $2,
			utility_score = $3,
			updated_at = $4
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, id, calibrated, utility, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update scores: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("pattern not found: %s", id)
	}

	return nil
}
