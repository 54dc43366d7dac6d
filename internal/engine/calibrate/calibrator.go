package calibrate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aurelia-home/synergy-engine/internal/engine/storage"
	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// GlobalModelID is the model used when a pattern type has too few labels of
// its own.
const GlobalModelID = "global"

// Calibrator maintains one monotonic mapping per pattern type from raw
// detector confidence to a probability consistent with observed user approval
// rates, trained by isotonic regression over labeled outcomes. Below the
// minimum sample count it falls back to the global model, and below that to
// the identity mapping.
type Calibrator struct {
	store      storage.CalibrationStore
	feedback   storage.FeedbackStore
	minSamples int
	logger     *slog.Logger

	mu             sync.RWMutex
	models         map[string]*mapping
	inactiveLogged map[string]bool
}

// mapping is a non-decreasing step function over raw confidence.
type mapping struct {
	thresholds []float64
	calibrated []float64
	version    int
}

// NewCalibrator creates a calibrator. Call LoadModels before first use to
// pick up previously trained versions.
func NewCalibrator(store storage.CalibrationStore, feedback storage.FeedbackStore, minSamples int, logger *slog.Logger) *Calibrator {
	return &Calibrator{
		store:          store,
		feedback:       feedback,
		minSamples:     minSamples,
		logger:         logger.With("component", "calibrator"),
		models:         make(map[string]*mapping),
		inactiveLogged: make(map[string]bool),
	}
}

// Calibrate maps a raw confidence through the pattern type's model, the
// global model, or identity, in that order of preference.
func (c *Calibrator) Calibrate(pt types.PatternType, raw float64) float64 {
	c.mu.RLock()
	m := c.models[string(pt)]
	if m == nil {
		m = c.models[GlobalModelID]
	}
	c.mu.RUnlock()

	if m == nil {
		c.logInactive(string(pt))
		return raw
	}

	return m.apply(raw)
}

// apply evaluates the step function: the calibrated value of the highest
// threshold not exceeding raw.
func (m *mapping) apply(raw float64) float64 {
	if len(m.thresholds) == 0 {
		return raw
	}

	idx := sort.SearchFloat64s(m.thresholds, raw)
	// SearchFloat64s returns the insertion point; step down to the covering
	// breakpoint unless raw sits exactly on one.
	if idx == len(m.thresholds) || m.thresholds[idx] != raw {
		idx--
	}
	if idx < 0 {
		return m.calibrated[0]
	}
	return m.calibrated[idx]
}

// LoadModels loads the latest stored model for every pattern type and the
// global fallback. A model that fails to load or fails the monotonicity check
// falls back to its previous version, then to identity, with a warning. Never
// fatal.
func (c *Calibrator) LoadModels(ctx context.Context) {
	ids := []string{GlobalModelID}
	for _, pt := range types.AllPatternTypes() {
		ids = append(ids, string(pt))
	}

	for _, id := range ids {
		m := c.loadModel(ctx, id)
		if m == nil {
			continue
		}
		c.mu.Lock()
		c.models[id] = m
		c.mu.Unlock()
	}
}

func (c *Calibrator) loadModel(ctx context.Context, modelID string) *mapping {
	stored, err := c.store.LatestModel(ctx, modelID)
	if err != nil {
		c.logger.Warn("Calibration model load failed, using identity mapping",
			"model_id", modelID, "error", err)
		return nil
	}
	if stored == nil {
		return nil
	}

	m, err := mappingFromModel(stored)
	if err == nil {
		return m
	}

	c.logger.Warn("Calibration model corrupt, trying previous version",
		"model_id", modelID, "version", stored.Version, "error", err)

	previous, perr := c.store.PreviousModel(ctx, modelID, stored.Version)
	if perr != nil || previous == nil {
		c.logger.Warn("No usable previous calibration model, using identity mapping",
			"model_id", modelID)
		return nil
	}

	m, err = mappingFromModel(previous)
	if err != nil {
		c.logger.Warn("Previous calibration model also corrupt, using identity mapping",
			"model_id", modelID, "version", previous.Version, "error", err)
		return nil
	}

	return m
}

func mappingFromModel(model *types.CalibrationModel) (*mapping, error) {
	if len(model.Thresholds) == 0 || len(model.Thresholds) != len(model.Calibrated) {
		return nil, fmt.Errorf("mapping shape invalid: %d thresholds, %d values",
			len(model.Thresholds), len(model.Calibrated))
	}
	for i := 1; i < len(model.Thresholds); i++ {
		if model.Thresholds[i] < model.Thresholds[i-1] {
			return nil, fmt.Errorf("thresholds not ascending at index %d", i)
		}
		if model.Calibrated[i] < model.Calibrated[i-1] {
			return nil, fmt.Errorf("calibrated values not monotonic at index %d", i)
		}
	}
	return &mapping{
		thresholds: model.Thresholds,
		calibrated: model.Calibrated,
		version:    model.Version,
	}, nil
}

// Retrain fits a fresh model for one pattern type from its labeled outcomes.
// Returns without training when the type has too few samples; the global
// model then keeps covering it.
func (c *Calibrator) Retrain(ctx context.Context, pt types.PatternType) error {
	outcomes, err := c.feedback.OutcomesByType(ctx, pt)
	if err != nil {
		return fmt.Errorf("failed to load outcomes for %s: %w", pt, err)
	}

	if len(outcomes) < c.minSamples {
		c.logger.Info("Too few labeled outcomes, skipping per-type retrain",
			"pattern_type", pt, "samples", len(outcomes), "min_samples", c.minSamples)
		return nil
	}

	return c.train(ctx, string(pt), pt, outcomes)
}

// RetrainAll retrains the global model plus every pattern type with enough
// labels. Per-type failures are logged and do not stop the pass.
func (c *Calibrator) RetrainAll(ctx context.Context) error {
	all, err := c.feedback.AllOutcomes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load outcomes: %w", err)
	}

	if len(all) >= c.minSamples {
		if err := c.train(ctx, GlobalModelID, "", all); err != nil {
			return err
		}
	} else {
		c.logger.Info("Too few labeled outcomes for global model",
			"samples", len(all), "min_samples", c.minSamples)
	}

	for _, pt := range types.AllPatternTypes() {
		if err := c.Retrain(ctx, pt); err != nil {
			c.logger.Error("Per-type retrain failed", "pattern_type", pt, "error", err)
		}
	}

	return nil
}

// train fits the isotonic mapping, sanity-checks it on a held-out slice, and
// atomically replaces the in-memory model once the new version is stored.
func (c *Calibrator) train(ctx context.Context, modelID string, pt types.PatternType, outcomes []*types.LabeledOutcome) error {
	trainSet, holdout := splitHoldout(outcomes)

	thresholds, calibrated := isotonicFit(trainSet)
	if len(thresholds) == 0 {
		return fmt.Errorf("isotonic fit produced empty mapping for %s", modelID)
	}

	candidate := &mapping{thresholds: thresholds, calibrated: calibrated}
	if err := checkHoldout(candidate, holdout); err != nil {
		return fmt.Errorf("holdout check failed for %s: %w", modelID, err)
	}

	model := &types.CalibrationModel{
		ModelID:              modelID,
		PatternType:          pt,
		Thresholds:           thresholds,
		Calibrated:           calibrated,
		TrainedOnSampleCount: len(trainSet),
		TrainedAt:            time.Now(),
	}
	if err := c.store.SaveModel(ctx, model); err != nil {
		return fmt.Errorf("failed to store model %s: %w", modelID, err)
	}
	candidate.version = model.Version

	c.mu.Lock()
	c.models[modelID] = candidate
	delete(c.inactiveLogged, modelID)
	c.mu.Unlock()

	c.logger.Info("Calibration model retrained",
		"model_id", modelID,
		"version", model.Version,
		"samples", len(trainSet),
		"breakpoints", len(thresholds))

	return nil
}

// isotonicFit runs pool adjacent violators over (raw confidence, outcome)
// samples and returns the resulting step function.
func isotonicFit(outcomes []*types.LabeledOutcome) (thresholds, calibrated []float64) {
	samples := make([]*types.LabeledOutcome, len(outcomes))
	copy(samples, outcomes)
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].RawConfidence < samples[j].RawConfidence
	})

	type block struct {
		threshold float64 // smallest raw confidence in the block
		sum       float64 // sum of outcome labels
		weight    float64
	}

	var blocks []block
	for _, s := range samples {
		label := 0.0
		if s.Outcome == types.OutcomeApproved {
			label = 1.0
		}
		blocks = append(blocks, block{threshold: s.RawConfidence, sum: label, weight: 1})

		// Pool while the newest block violates monotonicity.
		for len(blocks) > 1 {
			last := len(blocks) - 1
			if blocks[last].sum/blocks[last].weight >= blocks[last-1].sum/blocks[last-1].weight {
				break
			}
			blocks[last-1].sum += blocks[last].sum
			blocks[last-1].weight += blocks[last].weight
			blocks = blocks[:last]
		}
	}

	for _, b := range blocks {
		thresholds = append(thresholds, b.threshold)
		calibrated = append(calibrated, b.sum/b.weight)
	}
	return thresholds, calibrated
}

// splitHoldout reserves every tenth sample for the post-fit sanity check.
func splitHoldout(outcomes []*types.LabeledOutcome) (train, holdout []*types.LabeledOutcome) {
	for i, o := range outcomes {
		if i%10 == 9 {
			holdout = append(holdout, o)
		} else {
			train = append(train, o)
		}
	}
	if len(train) == 0 {
		return outcomes, nil
	}
	return train, holdout
}

// checkHoldout verifies the fitted mapping stays monotonic over the held-out
// raw confidences.
func checkHoldout(m *mapping, holdout []*types.LabeledOutcome) error {
	raws := make([]float64, 0, len(holdout))
	for _, o := range holdout {
		raws = append(raws, o.RawConfidence)
	}
	sort.Float64s(raws)

	prev := -1.0
	for _, raw := range raws {
		v := m.apply(raw)
		if v < prev {
			return fmt.Errorf("mapping decreases at raw confidence %.3f", raw)
		}
		prev = v
	}
	return nil
}

// logInactive notes once per model that calibration is passing raw confidence
// through unchanged.
func (c *Calibrator) logInactive(modelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inactiveLogged[modelID] {
		return
	}
	c.inactiveLogged[modelID] = true
	c.logger.Info("Calibration inactive, raw confidence passed through",
		"pattern_type", modelID, "min_samples", c.minSamples)
}
