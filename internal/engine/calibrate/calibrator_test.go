package calibrate

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-home/synergy-engine/internal/engine/storage"
	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func outcome(pt types.PatternType, raw float64, o types.Outcome) *types.LabeledOutcome {
	return &types.LabeledOutcome{
		PatternID:     uuid.New(),
		PatternType:   pt,
		RawConfidence: raw,
		Outcome:       o,
		RecordedAt:    time.Now(),
	}
}

func newTestCalibrator(minSamples int) (*Calibrator, *storage.MemoryCalibrationStore, *storage.MemoryFeedbackStore) {
	models := storage.NewMemoryCalibrationStore()
	feedback := storage.NewMemoryFeedbackStore()
	return NewCalibrator(models, feedback, minSamples, testLogger()), models, feedback
}

// Ten approvals at high raw confidence and five rejections at low raw
// confidence must train a mapping that sends the low region down and the high
// region up while staying monotonic.
func TestRetrain_ApprovalsAndRejections(t *testing.T) {
	c, models, feedback := newTestCalibrator(15)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, feedback.AddOutcome(ctx, outcome(types.PatternSequence, 0.3, types.OutcomeRejected)))
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, feedback.AddOutcome(ctx, outcome(types.PatternSequence, 0.8, types.OutcomeApproved)))
	}

	require.NoError(t, c.Retrain(ctx, types.PatternSequence))

	stored, err := models.LatestModel(ctx, string(types.PatternSequence))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 1, stored.Version)

	low := c.Calibrate(types.PatternSequence, 0.3)
	high := c.Calibrate(types.PatternSequence, 0.8)
	assert.Equal(t, 0.0, low, "all low confidence samples were rejected")
	assert.Equal(t, 1.0, high, "all high confidence samples were approved")
	assert.Less(t, low, high)
}

// Calibrated confidence never decreases as raw confidence increases, even when
// the training data has local approval rate inversions for the pooler to fix.
func TestCalibrate_MonotonicAcrossGrid(t *testing.T) {
	c, _, feedback := newTestCalibrator(10)
	ctx := context.Background()

	// Approvals at 0.4 but rejections at 0.5 invert the empirical rate.
	samples := []struct {
		raw float64
		o   types.Outcome
	}{
		{0.2, types.OutcomeRejected},
		{0.3, types.OutcomeRejected},
		{0.4, types.OutcomeApproved},
		{0.4, types.OutcomeApproved},
		{0.5, types.OutcomeRejected},
		{0.5, types.OutcomeRejected},
		{0.7, types.OutcomeApproved},
		{0.8, types.OutcomeApproved},
		{0.9, types.OutcomeApproved},
		{0.9, types.OutcomeApproved},
	}
	for _, s := range samples {
		require.NoError(t, feedback.AddOutcome(ctx, outcome(types.PatternContextual, s.raw, s.o)))
	}

	require.NoError(t, c.Retrain(ctx, types.PatternContextual))

	prev := -1.0
	for raw := 0.0; raw <= 1.0; raw += 0.05 {
		got := c.Calibrate(types.PatternContextual, raw)
		assert.GreaterOrEqual(t, got, prev, "mapping decreased at raw %.2f", raw)
		prev = got
	}
}

func TestCalibrate_IdentityBelowMinSamples(t *testing.T) {
	c, models, feedback := newTestCalibrator(20)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, feedback.AddOutcome(ctx, outcome(types.PatternSession, 0.6, types.OutcomeApproved)))
	}

	require.NoError(t, c.Retrain(ctx, types.PatternSession))

	stored, err := models.LatestModel(ctx, string(types.PatternSession))
	require.NoError(t, err)
	assert.Nil(t, stored, "no model trained below the sample floor")

	assert.Equal(t, 0.42, c.Calibrate(types.PatternSession, 0.42))
}

// Types without enough labels of their own fall back to the global model once
// RetrainAll has fitted it over everything.
func TestRetrainAll_GlobalFallback(t *testing.T) {
	c, models, feedback := newTestCalibrator(10)
	ctx := context.Background()

	// Spread across types so no single type reaches the floor.
	spread := []types.PatternType{
		types.PatternSequence, types.PatternContextual, types.PatternRoomBased,
		types.PatternSession, types.PatternDuration,
	}
	for _, pt := range spread {
		require.NoError(t, feedback.AddOutcome(ctx, outcome(pt, 0.2, types.OutcomeRejected)))
		require.NoError(t, feedback.AddOutcome(ctx, outcome(pt, 0.8, types.OutcomeApproved)))
	}

	require.NoError(t, c.RetrainAll(ctx))

	global, err := models.LatestModel(ctx, GlobalModelID)
	require.NoError(t, err)
	require.NotNil(t, global)

	perType, err := models.LatestModel(ctx, string(types.PatternSequence))
	require.NoError(t, err)
	assert.Nil(t, perType)

	// Anomaly had no labels at all; it still rides the global model.
	assert.Less(t,
		c.Calibrate(types.PatternAnomaly, 0.2),
		c.Calibrate(types.PatternAnomaly, 0.8))
}

func TestLoadModels_CorruptFallsBackToPrevious(t *testing.T) {
	c, models, _ := newTestCalibrator(10)
	ctx := context.Background()

	good := &types.CalibrationModel{
		ModelID:     string(types.PatternSequence),
		PatternType: types.PatternSequence,
		Thresholds:  []float64{0.2, 0.8},
		Calibrated:  []float64{0.1, 0.9},
		TrainedAt:   time.Now(),
	}
	require.NoError(t, models.SaveModel(ctx, good))

	corrupt := &types.CalibrationModel{
		ModelID:     string(types.PatternSequence),
		PatternType: types.PatternSequence,
		Thresholds:  []float64{0.2, 0.8},
		Calibrated:  []float64{0.9, 0.1}, // not monotonic
		TrainedAt:   time.Now(),
	}
	require.NoError(t, models.SaveModel(ctx, corrupt))

	c.LoadModels(ctx)

	assert.Equal(t, 0.9, c.Calibrate(types.PatternSequence, 0.8), "previous good version serves")
	assert.Equal(t, 0.1, c.Calibrate(types.PatternSequence, 0.3))
}

func TestLoadModels_CorruptWithoutPreviousIsIdentity(t *testing.T) {
	c, models, _ := newTestCalibrator(10)
	ctx := context.Background()

	corrupt := &types.CalibrationModel{
		ModelID:     string(types.PatternSequence),
		PatternType: types.PatternSequence,
		Thresholds:  []float64{0.5},
		Calibrated:  []float64{}, // shape mismatch
		TrainedAt:   time.Now(),
	}
	require.NoError(t, models.SaveModel(ctx, corrupt))

	c.LoadModels(ctx)

	assert.Equal(t, 0.7, c.Calibrate(types.PatternSequence, 0.7))
}

// Retraining twice stores a second immutable version rather than overwriting.
func TestRetrain_Versioning(t *testing.T) {
	c, models, feedback := newTestCalibrator(10)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, feedback.AddOutcome(ctx, outcome(types.PatternSequence, 0.8, types.OutcomeApproved)))
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, feedback.AddOutcome(ctx, outcome(types.PatternSequence, 0.2, types.OutcomeRejected)))
	}

	require.NoError(t, c.Retrain(ctx, types.PatternSequence))
	require.NoError(t, c.Retrain(ctx, types.PatternSequence))

	latest, err := models.LatestModel(ctx, string(types.PatternSequence))
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 2, latest.Version)

	previous, err := models.PreviousModel(ctx, string(types.PatternSequence), latest.Version)
	require.NoError(t, err)
	require.NotNil(t, previous)
	assert.Equal(t, 1, previous.Version)
}

func TestMappingApply_EdgeValues(t *testing.T) {
	m := &mapping{
		thresholds: []float64{0.3, 0.6, 0.9},
		calibrated: []float64{0.1, 0.5, 0.95},
	}

	assert.Equal(t, 0.1, m.apply(0.0), "below first breakpoint clamps to it")
	assert.Equal(t, 0.1, m.apply(0.3))
	assert.Equal(t, 0.1, m.apply(0.59))
	assert.Equal(t, 0.5, m.apply(0.6))
	assert.Equal(t, 0.95, m.apply(1.0), "above last breakpoint clamps to it")
}
