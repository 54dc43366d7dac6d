package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aurelia-home/synergy-engine/internal/engine/storage"
	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// LifecycleReport summarizes one sweep for operational reporting.
type LifecycleReport struct {
	Active           int       `json:"active"`
	Deprecated       int       `json:"deprecated"`
	Deleted          int       `json:"deleted"`
	FlaggedForReview int       `json:"flagged_for_review"`
	SweptAt          time.Time `json:"swept_at"`
}

// Sweeper retires patterns that stopped recurring. Stale patterns are
// deprecated unless their confidence is above average, in which case they are
// flagged for human review instead; long-deprecated patterns are deleted.
// Sweeps are idempotent: a second pass over unchanged state is a no-op.
type Sweeper struct {
	patterns    storage.PatternStore
	staleAfter  time.Duration
	deleteAfter time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu         sync.RWMutex
	lastReport *LifecycleReport
}

// NewSweeper creates a lifecycle sweeper.
func NewSweeper(patterns storage.PatternStore, staleAfter, deleteAfter time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		patterns:    patterns,
		staleAfter:  staleAfter,
		deleteAfter: deleteAfter,
		logger:      logger.With("component", "lifecycle_sweeper"),
		now:         time.Now,
	}
}

// Sweep runs one lifecycle pass over the full pattern store.
func (s *Sweeper) Sweep(ctx context.Context) (*LifecycleReport, error) {
	all, err := s.patterns.ActivePatterns(ctx, storage.PatternFilter{IncludeDeprecated: true})
	if err != nil {
		return nil, fmt.Errorf("failed to load patterns for sweep: %w", err)
	}

	now := s.now()
	avgConfidence := averageActiveConfidence(all)

	report := &LifecycleReport{SweptAt: now}

	for _, p := range all {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		switch {
		case p.Deprecated:
			if p.DeprecatedAt != nil && now.Sub(*p.DeprecatedAt) > s.deleteAfter {
				if err := s.patterns.DeletePattern(ctx, p.ID); err != nil {
					return nil, fmt.Errorf("failed to delete pattern %s: %w", p.ID, err)
				}
				report.Deleted++
				s.logger.Info("Deleted long-deprecated pattern",
					"pattern_id", p.ID,
					"pattern_type", p.PatternType,
					"deprecated_at", p.DeprecatedAt)
			} else {
				report.Deprecated++
			}

		case now.Sub(p.LastSeen) > s.staleAfter:
			if p.CalibratedConfidence > avgConfidence {
				// Confident but unobserved, a human should decide.
				if !p.NeedsReview {
					if err := s.patterns.MarkNeedsReview(ctx, p.ID); err != nil {
						return nil, fmt.Errorf("failed to flag pattern %s: %w", p.ID, err)
					}
					s.logger.Info("Flagged stale high-confidence pattern for review",
						"pattern_id", p.ID,
						"pattern_type", p.PatternType,
						"last_seen", p.LastSeen)
				}
				report.FlaggedForReview++
				report.Active++
			} else {
				if err := s.patterns.MarkDeprecated(ctx, p.ID, now); err != nil {
					return nil, fmt.Errorf("failed to deprecate pattern %s: %w", p.ID, err)
				}
				report.Deprecated++
				s.logger.Info("Deprecated stale pattern",
					"pattern_id", p.ID,
					"pattern_type", p.PatternType,
					"last_seen", p.LastSeen)
			}

		default:
			report.Active++
		}
	}

	s.mu.Lock()
	s.lastReport = report
	s.mu.Unlock()

	s.logger.Info("Lifecycle sweep complete",
		"active", report.Active,
		"deprecated", report.Deprecated,
		"deleted", report.Deleted,
		"flagged", report.FlaggedForReview)

	return report, nil
}

// LastReport returns the most recent sweep report, or nil before any sweep.
func (s *Sweeper) LastReport() *LifecycleReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReport
}

// averageActiveConfidence is the mean calibrated confidence over active
// patterns, the bar for the needs_review flag.
func averageActiveConfidence(patterns []*types.Pattern) float64 {
	var sum float64
	var count int
	for _, p := range patterns {
		if p.Deprecated {
			continue
		}
		sum += p.CalibratedConfidence
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
