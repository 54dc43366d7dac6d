package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// MemoryPatternStore is an in-memory PatternStore for tests. CommitRun is
// atomic under the store lock, matching the transactional contract of the
// Postgres implementation.
type MemoryPatternStore struct {
	// CommitErr, when set, makes CommitRun fail without applying anything.
	CommitErr error

	mu         sync.Mutex
	patterns   map[uuid.UUID]*types.Pattern
	watermarks map[string]*types.DetectorWatermark
}

// NewMemoryPatternStore creates an empty in-memory pattern store.
func NewMemoryPatternStore() *MemoryPatternStore {
	return &MemoryPatternStore{
		patterns:   make(map[uuid.UUID]*types.Pattern),
		watermarks: make(map[string]*types.DetectorWatermark),
	}
}

// Seed inserts a pattern directly, bypassing run semantics.
func (s *MemoryPatternStore) Seed(p *types.Pattern) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.patterns[p.ID] = &cp
}

func (s *MemoryPatternStore) PatternsByType(ctx context.Context, pt types.PatternType) ([]*types.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Pattern
	for _, p := range s.patterns {
		if p.PatternType == pt && !p.Deprecated {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryPatternStore) ActivePatterns(ctx context.Context, filter PatternFilter) ([]*types.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Pattern
	for _, p := range s.patterns {
		if p.Deprecated && !filter.IncludeDeprecated {
			continue
		}
		if filter.PatternType != "" && p.PatternType != filter.PatternType {
			continue
		}
		if p.CalibratedConfidence < filter.MinConfidence {
			continue
		}
		if filter.Area != "" {
			area, _ := p.Metadata["area"].(string)
			if area != filter.Area {
				continue
			}
		}
		cp := *p
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UtilityScore > out[j].UtilityScore
	})
	return out, nil
}

func (s *MemoryPatternStore) Pattern(ctx context.Context, id uuid.UUID) (*types.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryPatternStore) CommitRun(ctx context.Context, commit RunCommit) error {
	if s.CommitErr != nil {
		return s.CommitErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range commit.Updates {
		if _, ok := s.patterns[p.ID]; !ok {
			return fmt.Errorf("update for unknown pattern %s", p.ID)
		}
	}

	for _, p := range commit.Inserts {
		cp := *p
		s.patterns[p.ID] = &cp
	}
	for _, p := range commit.Updates {
		cp := *p
		s.patterns[p.ID] = &cp
	}

	s.advanceWatermarkLocked(commit.DetectorID, commit.Watermark, commit.Stats)
	return nil
}

func (s *MemoryPatternStore) RecordRunFailure(ctx context.Context, detectorID string, stats types.RunStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wm, ok := s.watermarks[detectorID]
	if !ok {
		wm = &types.DetectorWatermark{DetectorID: detectorID, LastProcessedTimestamp: time.Unix(0, 0)}
		s.watermarks[detectorID] = wm
	}
	wm.LastRunStats = stats
	wm.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryPatternStore) Watermark(ctx context.Context, detectorID string) (*types.DetectorWatermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wm, ok := s.watermarks[detectorID]
	if !ok {
		return nil, nil
	}
	cp := *wm
	return &cp, nil
}

func (s *MemoryPatternStore) Watermarks(ctx context.Context) ([]*types.DetectorWatermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.DetectorWatermark
	for _, wm := range s.watermarks {
		cp := *wm
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryPatternStore) ResetWatermark(ctx context.Context, detectorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watermarks, detectorID)
	return nil
}

func (s *MemoryPatternStore) MarkDeprecated(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		return fmt.Errorf("pattern %s not found", id)
	}
	p.Deprecated = true
	p.DeprecatedAt = &at
	p.UpdatedAt = at
	return nil
}

func (s *MemoryPatternStore) MarkNeedsReview(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		return fmt.Errorf("pattern %s not found", id)
	}
	p.NeedsReview = true
	return nil
}

func (s *MemoryPatternStore) DeletePattern(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.patterns, id)
	return nil
}

func (s *MemoryPatternStore) UpdateScores(ctx context.Context, id uuid.UUID, calibrated, utility float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		return fmt.Errorf("pattern %s not found", id)
	}
	p.CalibratedConfidence = calibrated
	p.UtilityScore = utility
	return nil
}

func (s *MemoryPatternStore) advanceWatermarkLocked(detectorID string, ts time.Time, stats types.RunStats) {
	wm, ok := s.watermarks[detectorID]
	if !ok {
		wm = &types.DetectorWatermark{DetectorID: detectorID, LastProcessedTimestamp: time.Unix(0, 0)}
		s.watermarks[detectorID] = wm
	}
	// Never move backwards, same guard as the SQL GREATEST clause.
	if ts.After(wm.LastProcessedTimestamp) {
		wm.LastProcessedTimestamp = ts
	}
	wm.LastRunStats = stats
	wm.UpdatedAt = time.Now()
}

// MemoryCalibrationStore is an in-memory CalibrationStore for tests.
type MemoryCalibrationStore struct {
	mu     sync.Mutex
	models map[string][]*types.CalibrationModel
}

// NewMemoryCalibrationStore creates an empty in-memory calibration store.
func NewMemoryCalibrationStore() *MemoryCalibrationStore {
	return &MemoryCalibrationStore{models: make(map[string][]*types.CalibrationModel)}
}

func (s *MemoryCalibrationStore) SaveModel(ctx context.Context, model *types.CalibrationModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.models[model.ModelID]
	model.Version = len(versions) + 1
	cp := *model
	s.models[model.ModelID] = append(versions, &cp)
	return nil
}

func (s *MemoryCalibrationStore) LatestModel(ctx context.Context, modelID string) (*types.CalibrationModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.models[modelID]
	if len(versions) == 0 {
		return nil, nil
	}
	cp := *versions[len(versions)-1]
	return &cp, nil
}

func (s *MemoryCalibrationStore) PreviousModel(ctx context.Context, modelID string, beforeVersion int) (*types.CalibrationModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *types.CalibrationModel
	for _, m := range s.models[modelID] {
		if m.Version < beforeVersion && (best == nil || m.Version > best.Version) {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

// MemoryFeedbackStore is an in-memory FeedbackStore for tests.
type MemoryFeedbackStore struct {
	mu       sync.Mutex
	outcomes []*types.LabeledOutcome
}

// NewMemoryFeedbackStore creates an empty in-memory feedback store.
func NewMemoryFeedbackStore() *MemoryFeedbackStore {
	return &MemoryFeedbackStore{}
}

func (s *MemoryFeedbackStore) AddOutcome(ctx context.Context, outcome *types.LabeledOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *outcome
	s.outcomes = append(s.outcomes, &cp)
	return nil
}

func (s *MemoryFeedbackStore) OutcomesByType(ctx context.Context, pt types.PatternType) ([]*types.LabeledOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.LabeledOutcome
	for _, o := range s.outcomes {
		if o.PatternType == pt {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryFeedbackStore) AllOutcomes(ctx context.Context) ([]*types.LabeledOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.LabeledOutcome, 0, len(s.outcomes))
	for _, o := range s.outcomes {
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryFeedbackStore) ApprovalRate(ctx context.Context, pt types.PatternType) (float64, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	approved, total := 0, 0
	for _, o := range s.outcomes {
		if o.PatternType != pt {
			continue
		}
		total++
		if o.Outcome == types.OutcomeApproved {
			approved++
		}
	}
	if total == 0 {
		return 0, 0, nil
	}
	return float64(approved) / float64(total), total, nil
}

// MemoryEventSource is an in-memory EventSource for tests. FailuresRemaining
// simulates transient collaborator failures before a successful fetch.
type MemoryEventSource struct {
	mu                sync.Mutex
	Events            []types.Event
	FailuresRemaining int
	Calls             int
}

func (s *MemoryEventSource) EventsBetween(ctx context.Context, entityIDs []string, start, end time.Time) ([]types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls++
	if s.FailuresRemaining > 0 {
		s.FailuresRemaining--
		return nil, fmt.Errorf("event store unavailable")
	}

	var out []types.Event
	for _, e := range s.Events {
		if (e.Timestamp.Equal(start) || e.Timestamp.After(start)) && e.Timestamp.Before(end) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// MemoryDeviceSource is an in-memory DeviceSource for tests.
type MemoryDeviceSource struct {
	DeviceList []types.Device
	AreaList   []types.Area
}

func (s *MemoryDeviceSource) Devices(ctx context.Context) ([]types.Device, error) {
	return s.DeviceList, nil
}

func (s *MemoryDeviceSource) Areas(ctx context.Context) ([]types.Area, error) {
	return s.AreaList, nil
}
