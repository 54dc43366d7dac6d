package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// CatalogStorage reads the event history and device/area metadata owned by the
// ingestion pipeline, and persists computed device embeddings. The engine only
// ever reads events/devices; writes here are limited to the embeddings table.
type CatalogStorage struct {
	db *sql.DB
}

// NewCatalogStorage creates a new catalog storage instance.
func NewCatalogStorage(db *sql.DB) *CatalogStorage {
	return &CatalogStorage{db: db}
}

// EventsBetween returns events in [start, end) ordered by timestamp.
func (s *CatalogStorage) EventsBetween(ctx context.Context, entityIDs []string, start, end time.Time) ([]types.Event, error) {
	query := `
		SELECT timestamp, entity_id, domain, state, previous_state
		FROM events
		WHERE timestamp >= $1 AND timestamp < $2`

	args := []interface{}{start, end}

	if len(entityIDs) > 0 {
		query += ` AND entity_id = ANY($3)`
		args = append(args, pq.Array(entityIDs))
	}

	query += ` ORDER BY timestamp ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var e types.Event
		if err := rows.Scan(&e.Timestamp, &e.EntityID, &e.Domain, &e.State, &e.PreviousState); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	return events, nil
}

// Devices returns all known devices.
func (s *CatalogStorage) Devices(ctx context.Context) ([]types.Device, error) {
	query := `
		SELECT entity_id, name, domain, area, capabilities
		FROM devices
		ORDER BY entity_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []types.Device
	for rows.Next() {
		var d types.Device
		if err := rows.Scan(&d.EntityID, &d.Name, &d.Domain, &d.Area, pq.Array(&d.Capabilities)); err != nil {
			return nil, fmt.Errorf("failed to scan device row: %w", err)
		}
		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device rows: %w", err)
	}

	return devices, nil
}

// Areas returns all known areas.
func (s *CatalogStorage) Areas(ctx context.Context) ([]types.Area, error) {
	query := `SELECT id, name FROM areas ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query areas: %w", err)
	}
	defer rows.Close()

	var areas []types.Area
	for rows.Next() {
		var a types.Area
		if err := rows.Scan(&a.ID, &a.Name); err != nil {
			return nil, fmt.Errorf("failed to scan area row: %w", err)
		}
		areas = append(areas, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating area rows: %w", err)
	}

	return areas, nil
}

// UpsertEmbedding stores a computed device embedding.
func (s *CatalogStorage) UpsertEmbedding(ctx context.Context, emb *types.DeviceEmbedding) error {
	if emb.ComputedAt.IsZero() {
		emb.ComputedAt = time.Now()
	}

	query := `
		INSERT INTO device_embeddings (entity_id, vector, source_text_hash, computed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_id)
		DO UPDATE SET
			vector = EXCLUDED.vector,
			source_text_hash = EXCLUDED.source_text_hash,
			computed_at = EXCLUDED.computed_at
	`

	_, err := s.db.ExecContext(ctx, query, emb.EntityID, emb.Vector, emb.SourceTextHash, emb.ComputedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}

	return nil
}

// Embedding retrieves a stored embedding, or nil if none exists.
func (s *CatalogStorage) Embedding(ctx context.Context, entityID string) (*types.DeviceEmbedding, error) {
	query := `
		SELECT entity_id, vector, source_text_hash, computed_at
		FROM device_embeddings
		WHERE entity_id = $1
	`

	var emb types.DeviceEmbedding
	err := s.db.QueryRowContext(ctx, query, entityID).Scan(
		&emb.EntityID,
		&emb.Vector,
		&emb.SourceTextHash,
		&emb.ComputedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query embedding: %w", err)
	}

	return &emb, nil
}

// DeleteEmbedding removes a stored embedding.
func (s *CatalogStorage) DeleteEmbedding(ctx context.Context, entityID string) error {
	query := `DELETE FROM device_embeddings WHERE entity_id = $1`

	if _, err := s.db.ExecContext(ctx, query, entityID); err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}

	return nil
}
