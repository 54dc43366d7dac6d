package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// SynergyStorage provides persistent storage for device synergy chains.
type SynergyStorage struct {
	db *sql.DB
}

// NewSynergyStorage creates a new synergy storage instance.
func NewSynergyStorage(db *sql.DB) *SynergyStorage {
	return &SynergyStorage{db: db}
}

// UpsertSynergies replaces chains by their ordered chain key. Chains are never
// mutated in place: each derivation run supersedes the previous record.
func (s *SynergyStorage) UpsertSynergies(ctx context.Context, synergies []*types.Synergy) error {
	if len(synergies) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()

	query := `
		INSERT INTO synergies (
			id, chain_key, chain_devices, depth, trigger_entity, action_entity,
			impact_score, confidence, area, rationale, occurrence_count,
			last_observed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (chain_key)
		DO UPDATE SET
			impact_score = EXCLUDED.impact_score,
			confidence = EXCLUDED.confidence,
			area = EXCLUDED.area,
			rationale = EXCLUDED.rationale,
			occurrence_count = EXCLUDED.occurrence_count,
			last_observed = EXCLUDED.last_observed
	`

	for _, syn := range synergies {
		if err := syn.Validate(); err != nil {
			return fmt.Errorf("refusing to store invalid chain %s: %w", syn.ChainKey(), err)
		}
		if syn.ID == uuid.Nil {
			syn.ID = uuid.New()
		}
		if syn.CreatedAt.IsZero() {
			syn.CreatedAt = now
		}

		var area sql.NullString
		if syn.Area != "" {
			area = sql.NullString{String: syn.Area, Valid: true}
		}

		_, err := tx.ExecContext(ctx, query,
			syn.ID,
			syn.ChainKey(),
			pq.Array(syn.ChainDevices),
			syn.Depth,
			syn.TriggerEntity(),
			syn.ActionEntity(),
			syn.ImpactScore,
			syn.Confidence,
			area,
			syn.Rationale,
			syn.OccurrenceCount,
			syn.LastObserved,
			syn.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert synergy %s: %w", syn.ChainKey(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit synergies: %w", err)
	}

	return nil
}

// Synergies returns chains matching the filter, most confident first.
func (s *SynergyStorage) Synergies(ctx context.Context, filter SynergyFilter) ([]*types.Synergy, error) {
	query := `
		SELECT id, chain_devices, depth, impact_score, confidence, area,
		       rationale, occurrence_count, last_observed, created_at
		FROM synergies
		WHERE confidence >= $1`

	args := []interface{}{filter.MinConfidence}

	if filter.Depth != 0 {
		query += ` AND depth = $2`
		args = append(args, filter.Depth)
	}

	query += ` ORDER BY confidence DESC, impact_score DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query synergies: %w", err)
	}
	defer rows.Close()

	return collectSynergies(rows)
}

// SynergiesByDepth returns all chains of exactly the given depth.
func (s *SynergyStorage) SynergiesByDepth(ctx context.Context, depth int) ([]*types.Synergy, error) {
	return s.Synergies(ctx, SynergyFilter{Depth: depth})
}

func collectSynergies(rows *sql.Rows) ([]*types.Synergy, error) {
	var synergies []*types.Synergy

	for rows.Next() {
		var syn types.Synergy
		var area sql.NullString

		err := rows.Scan(
			&syn.ID,
			pq.Array(&syn.ChainDevices),
			&syn.Depth,
			&syn.ImpactScore,
			&syn.Confidence,
			&area,
			&syn.Rationale,
			&syn.OccurrenceCount,
			&syn.LastObserved,
			&syn.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan synergy row: %w", err)
		}

		if area.Valid {
			syn.Area = area.String
		}

		synergies = append(synergies, &syn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating synergy rows: %w", err)
	}

	return synergies, nil
}
