package update

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aurelia-home/synergy-engine/internal/engine/detector"
	"github.com/aurelia-home/synergy-engine/internal/engine/storage"
	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// Calibrator maps raw detector confidence to a calibrated probability.
type Calibrator interface {
	Calibrate(pt types.PatternType, raw float64) float64
}

// Scorer assigns a utility score to a pattern.
type Scorer interface {
	Score(ctx context.Context, p *types.Pattern) float64
}

// RunResult summarizes one detector run.
type RunResult struct {
	DetectorID string
	Stats      types.RunStats
	Inserted   int
	Updated    int
	Watermark  time.Time
}

// Manager drives incremental detector runs: read the watermark, fetch only
// the events past it, invoke the detector, merge the candidates against
// stored patterns, and commit the whole run atomically. The watermark only
// advances when the commit succeeds.
type Manager struct {
	patterns   storage.PatternStore
	events     storage.EventSource
	devices    storage.DeviceSource
	registry   *detector.Registry
	calibrator Calibrator
	scorer     Scorer

	// Event fetch retry policy for transient collaborator failures.
	retryAttempts int
	retryBackoff  time.Duration

	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates an incremental update manager.
func NewManager(
	patterns storage.PatternStore,
	events storage.EventSource,
	devices storage.DeviceSource,
	registry *detector.Registry,
	calibrator Calibrator,
	scorer Scorer,
	retryAttempts int,
	retryBackoff time.Duration,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		patterns:      patterns,
		events:        events,
		devices:       devices,
		registry:      registry,
		calibrator:    calibrator,
		scorer:        scorer,
		retryAttempts: retryAttempts,
		retryBackoff:  retryBackoff,
		logger:        logger.With("component", "update_manager"),
		now:           time.Now,
	}
}

// RunIncremental executes one detector against the events past its watermark.
// A missing watermark means a full rescan from epoch. Failures are recorded in
// the watermark stats without advancing the watermark itself.
func (m *Manager) RunIncremental(ctx context.Context, detectorID string) (*RunResult, error) {
	d := m.registry.ByID(detectorID)
	if d == nil {
		return nil, fmt.Errorf("unknown detector %s", detectorID)
	}

	started := m.now()

	since := time.Unix(0, 0)
	wm, err := m.patterns.Watermark(ctx, detectorID)
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark for %s: %w", detectorID, err)
	}
	if wm != nil {
		// The fetch window is inclusive of its start and the watermark is the
		// last processed timestamp, so resume just past it.
		since = wm.LastProcessedTimestamp.Add(time.Nanosecond)
	} else {
		m.logger.Info("No watermark, running full rescan", "detector", detectorID)
	}

	end := started

	events, err := m.fetchEvents(ctx, since, end)
	if err != nil {
		return m.failRun(ctx, detectorID, started, 0, fmt.Errorf("event fetch failed: %w", err))
	}

	devices, err := m.devices.Devices(ctx)
	if err != nil {
		return m.failRun(ctx, detectorID, started, len(events), fmt.Errorf("device fetch failed: %w", err))
	}

	candidates, err := m.registry.SafeDetect(ctx, d, events, devices)
	if err != nil {
		return m.failRun(ctx, detectorID, started, len(events), err)
	}

	existing, err := m.patterns.PatternsByType(ctx, d.Type())
	if err != nil {
		return m.failRun(ctx, detectorID, started, len(events), fmt.Errorf("pattern load failed: %w", err))
	}

	inserts, updates := m.merge(ctx, existing, candidates)

	watermark := since
	if len(events) > 0 {
		watermark = events[len(events)-1].Timestamp
	}

	stats := types.RunStats{
		Succeeded:       true,
		EventsProcessed: len(events),
		PatternsYielded: len(candidates),
		Duration:        m.now().Sub(started),
		RanAt:           started,
	}

	commit := storage.RunCommit{
		DetectorID: detectorID,
		Watermark:  watermark,
		Stats:      stats,
		Inserts:    inserts,
		Updates:    updates,
	}
	if err := m.patterns.CommitRun(ctx, commit); err != nil {
		return m.failRun(ctx, detectorID, started, len(events), fmt.Errorf("commit failed: %w", err))
	}

	m.logger.Info("Incremental run complete",
		"detector", detectorID,
		"events", len(events),
		"candidates", len(candidates),
		"inserted", len(inserts),
		"updated", len(updates),
		"duration", stats.Duration)

	return &RunResult{
		DetectorID: detectorID,
		Stats:      stats,
		Inserted:   len(inserts),
		Updated:    len(updates),
		Watermark:  watermark,
	}, nil
}

// RequestFullRescan drops the detector's watermark so its next run covers the
// whole event history, used after schema or config changes.
func (m *Manager) RequestFullRescan(ctx context.Context, detectorID string) error {
	if m.registry.ByID(detectorID) == nil {
		return fmt.Errorf("unknown detector %s", detectorID)
	}
	if err := m.patterns.ResetWatermark(ctx, detectorID); err != nil {
		return fmt.Errorf("failed to reset watermark for %s: %w", detectorID, err)
	}
	m.logger.Info("Watermark reset, next run is a full rescan", "detector", detectorID)
	return nil
}

// merge splits candidates into updates of existing patterns and fresh inserts.
// The merge key is pattern type plus the canonical entity key, so contextual
// co-occurrence matches regardless of detection order while sequences stay
// order-sensitive.
func (m *Manager) merge(ctx context.Context, existing, candidates []*types.Pattern) (inserts, updates []*types.Pattern) {
	byKey := make(map[string]*types.Pattern, len(existing))
	for _, p := range existing {
		byKey[p.EntityKey()] = p
	}

	now := m.now()

	for _, c := range candidates {
		if prior, ok := byKey[c.EntityKey()]; ok {
			merged := *prior
			merged.OccurrenceCount += c.OccurrenceCount
			if c.LastSeen.After(merged.LastSeen) {
				merged.LastSeen = c.LastSeen
			}
			merged.RawConfidence = c.RawConfidence
			merged.CalibratedConfidence = m.calibrator.Calibrate(merged.PatternType, merged.RawConfidence)
			merged.UtilityScore = m.scorer.Score(ctx, &merged)
			merged.Metadata = c.Metadata
			merged.UpdatedAt = now
			updates = append(updates, &merged)
			continue
		}

		fresh := *c
		if fresh.OccurrenceCount < 1 {
			fresh.OccurrenceCount = 1
		}
		fresh.CalibratedConfidence = m.calibrator.Calibrate(fresh.PatternType, fresh.RawConfidence)
		fresh.UtilityScore = m.scorer.Score(ctx, &fresh)
		fresh.CreatedAt = now
		fresh.UpdatedAt = now
		inserts = append(inserts, &fresh)
	}

	return inserts, updates
}

// fetchEvents wraps the event source with bounded retries and doubling
// backoff. Exhausted retries abort the run, the watermark stays put and the
// next cycle covers the same window again.
func (m *Manager) fetchEvents(ctx context.Context, since, end time.Time) ([]types.Event, error) {
	var lastErr error
	backoff := m.retryBackoff

	for attempt := 1; attempt <= m.retryAttempts; attempt++ {
		events, err := m.events.EventsBetween(ctx, nil, since, end)
		if err == nil {
			return events, nil
		}
		lastErr = err

		if attempt < m.retryAttempts {
			m.logger.Warn("Event fetch failed, retrying",
				"attempt", attempt,
				"backoff", backoff,
				"error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return nil, fmt.Errorf("after %d attempts: %w", m.retryAttempts, lastErr)
}

// failRun records the failure in the detector's watermark stats and returns a
// result describing it. The watermark timestamp is untouched.
func (m *Manager) failRun(ctx context.Context, detectorID string, started time.Time, eventCount int, runErr error) (*RunResult, error) {
	stats := types.RunStats{
		Succeeded:       false,
		EventsProcessed: eventCount,
		Duration:        m.now().Sub(started),
		Error:           runErr.Error(),
		RanAt:           started,
	}

	if err := m.patterns.RecordRunFailure(ctx, detectorID, stats); err != nil {
		m.logger.Error("Failed to record run failure", "detector", detectorID, "error", err)
	}

	m.logger.Error("Incremental run failed", "detector", detectorID, "error", runErr)

	return &RunResult{DetectorID: detectorID, Stats: stats}, runErr
}
