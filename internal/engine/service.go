package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aurelia-home/synergy-engine/internal/engine/lifecycle"
	"github.com/aurelia-home/synergy-engine/internal/engine/storage"
	"github.com/aurelia-home/synergy-engine/internal/engine/types"
	"github.com/aurelia-home/synergy-engine/pkg/redis"
)

// DetectorHealth is the per-detector operational view exposed to tooling.
type DetectorHealth struct {
	DetectorID  string         `json:"detector_id"`
	SuccessRate float64        `json:"success_rate"`
	FailureRate float64        `json:"failure_rate"`
	Unhealthy   bool           `json:"unhealthy"`
	RunsTracked int            `json:"runs_tracked"`
	LastRun     types.RunStats `json:"last_run"`
}

// Service is the surface consumed by the downstream suggestion generator and
// operational tooling: pattern/synergy queries, feedback recording, and
// health reporting. Health snapshots are mirrored into Redis so dashboards
// can read them without touching the engine.
type Service struct {
	patterns  storage.PatternStore
	synergies storage.SynergyStore
	feedback  storage.FeedbackStore
	sweeper   *lifecycle.Sweeper
	redis     redis.Client
	logger    *slog.Logger

	// Rolling failure rate window per detector.
	failureThreshold float64
	windowRuns       int

	mu      sync.RWMutex
	history map[string][]types.RunStats
}

// NewService creates the collaborator service.
func NewService(
	patterns storage.PatternStore,
	synergies storage.SynergyStore,
	feedback storage.FeedbackStore,
	sweeper *lifecycle.Sweeper,
	redisClient redis.Client,
	failureThreshold float64,
	windowRuns int,
	logger *slog.Logger,
) *Service {
	return &Service{
		patterns:         patterns,
		synergies:        synergies,
		feedback:         feedback,
		sweeper:          sweeper,
		redis:            redisClient,
		logger:           logger.With("component", "service"),
		failureThreshold: failureThreshold,
		windowRuns:       windowRuns,
		history:          make(map[string][]types.RunStats),
	}
}

// ActivePatterns returns patterns matching the filter, deprecated ones only
// when the filter asks for them.
func (s *Service) ActivePatterns(ctx context.Context, filter storage.PatternFilter) ([]*types.Pattern, error) {
	return s.patterns.ActivePatterns(ctx, filter)
}

// Synergies returns chains matching the filter, ordered by confidence.
func (s *Service) Synergies(ctx context.Context, filter storage.SynergyFilter) ([]*types.Synergy, error) {
	return s.synergies.Synergies(ctx, filter)
}

// RecordFeedback appends a labeled outcome for a pattern, the raw material of
// the next calibration retrain.
func (s *Service) RecordFeedback(ctx context.Context, patternID uuid.UUID, outcome types.Outcome) error {
	if outcome != types.OutcomeApproved && outcome != types.OutcomeRejected {
		return fmt.Errorf("invalid outcome %q", outcome)
	}

	p, err := s.patterns.Pattern(ctx, patternID)
	if err != nil {
		return fmt.Errorf("failed to load pattern %s: %w", patternID, err)
	}
	if p == nil {
		return fmt.Errorf("pattern %s not found", patternID)
	}

	labeled := &types.LabeledOutcome{
		PatternID:     patternID,
		PatternType:   p.PatternType,
		RawConfidence: p.RawConfidence,
		Outcome:       outcome,
		RecordedAt:    time.Now(),
	}
	if err := s.feedback.AddOutcome(ctx, labeled); err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}

	s.logger.Info("Feedback recorded",
		"pattern_id", patternID,
		"pattern_type", p.PatternType,
		"outcome", outcome)

	return nil
}

// RecordRun appends one run to the detector's rolling window and mirrors the
// health snapshot into Redis.
func (s *Service) RecordRun(ctx context.Context, detectorID string, stats types.RunStats) {
	s.mu.Lock()
	runs := append(s.history[detectorID], stats)
	if len(runs) > s.windowRuns {
		runs = runs[len(runs)-s.windowRuns:]
	}
	s.history[detectorID] = runs
	s.mu.Unlock()

	health := s.healthFor(detectorID, runs)
	s.mirror(ctx, redis.DetectorHealthKey(detectorID), health)
}

// DetectorHealth reports the rolling failure rate per detector. Detectors
// without in-process history fall back to their persisted watermark stats, so
// a restart does not report an empty fleet.
func (s *Service) DetectorHealth(ctx context.Context) (map[string]DetectorHealth, error) {
	out := make(map[string]DetectorHealth)

	s.mu.RLock()
	for id, runs := range s.history {
		out[id] = s.healthFor(id, runs)
	}
	s.mu.RUnlock()

	watermarks, err := s.patterns.Watermarks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load watermarks: %w", err)
	}
	for _, wm := range watermarks {
		if _, tracked := out[wm.DetectorID]; tracked {
			continue
		}
		out[wm.DetectorID] = s.healthFor(wm.DetectorID, []types.RunStats{wm.LastRunStats})
	}

	return out, nil
}

// LifecycleStats returns the last sweep report, or nil before any sweep.
func (s *Service) LifecycleStats() *lifecycle.LifecycleReport {
	return s.sweeper.LastReport()
}

// RecordSweep mirrors the sweep report into Redis.
func (s *Service) RecordSweep(ctx context.Context, report *lifecycle.LifecycleReport) {
	s.mirror(ctx, redis.LifecycleStatsKey(), report)
}

func (s *Service) healthFor(detectorID string, runs []types.RunStats) DetectorHealth {
	failed := 0
	for _, r := range runs {
		if !r.Succeeded {
			failed++
		}
	}

	health := DetectorHealth{
		DetectorID:  detectorID,
		RunsTracked: len(runs),
	}
	if len(runs) > 0 {
		health.FailureRate = float64(failed) / float64(len(runs))
		health.SuccessRate = 1 - health.FailureRate
		health.LastRun = runs[len(runs)-1]
	}
	health.Unhealthy = health.FailureRate > s.failureThreshold

	return health
}

// mirror writes a JSON snapshot into Redis. Best effort, a miss only degrades
// dashboards.
func (s *Service) mirror(ctx context.Context, key string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal health snapshot", "key", key, "error", err)
		return
	}
	if err := s.redis.Set(ctx, key, data, 0); err != nil {
		s.logger.Warn("Failed to mirror snapshot to Redis", "key", key, "error", err)
	}
}
