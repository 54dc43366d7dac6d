package scoring

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
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

func pattern(count int, entities ...string) *types.Pattern {
	return &types.Pattern{
		ID:              uuid.New(),
		PatternType:     types.PatternSequence,
		Entities:        entities,
		RawConfidence:   0.7,
		OccurrenceCount: count,
		FirstSeen:       time.Now().AddDate(0, 0, -14),
		LastSeen:        time.Now(),
	}
}

func TestWeights_Validate(t *testing.T) {
	assert.NoError(t, DefaultWeights().Validate())
	assert.Error(t, Weights{Frequency: -0.1, Energy: 0.5}.Validate())
	assert.Error(t, Weights{}.Validate(), "all-zero weights have no ranking signal")
	assert.NoError(t, Weights{Frequency: 1}.Validate(), "a single positive weight is enough")
}

func TestLoadWeightsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte("frequency: 0.5\nenergy: 0.3\ntime_saved: 0.1\nsatisfaction: 0.1\n"), 0o644))

	w, err := LoadWeightsFile(path)
	require.NoError(t, err)
	assert.Equal(t, Weights{Frequency: 0.5, Energy: 0.3, TimeSaved: 0.1, Satisfaction: 0.1}, w)

	_, err = LoadWeightsFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("frequency: -1\n"), 0o644))
	_, err = LoadWeightsFile(bad)
	assert.Error(t, err)
}

func TestScore_AlwaysWithinUnitInterval(t *testing.T) {
	scorer := NewScorer(DefaultWeights(), nil, testLogger())

	for _, count := range []int{0, 1, 5, 100, 100000} {
		score := scorer.Score(context.Background(), pattern(count, "light.a", "light.b"))
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestScore_FrequencyMonotone(t *testing.T) {
	scorer := NewScorer(DefaultWeights(), nil, testLogger())
	ctx := context.Background()

	rare := scorer.Score(ctx, pattern(2, "light.a", "light.b"))
	frequent := scorer.Score(ctx, pattern(50, "light.a", "light.b"))
	assert.Greater(t, frequent, rare)
}

// A pattern touching the thermostat outranks one touching only sensors, all
// else equal.
func TestScore_EnergyDomainLookup(t *testing.T) {
	scorer := NewScorer(DefaultWeights(), nil, testLogger())
	scorer.UpdateDevices([]types.Device{
		{EntityID: "climate.living_room", Domain: "climate"},
		{EntityID: "binary_sensor.motion", Domain: "binary_sensor"},
		{EntityID: "sensor.temperature", Domain: "sensor"},
	})
	ctx := context.Background()

	heavy := scorer.Score(ctx, pattern(10, "climate.living_room", "binary_sensor.motion"))
	light := scorer.Score(ctx, pattern(10, "sensor.temperature", "binary_sensor.motion"))
	assert.Greater(t, heavy, light)
}

func TestScore_UnknownDomainGetsDefaultEnergy(t *testing.T) {
	scorer := NewScorer(Weights{Energy: 1}, nil, testLogger())
	scorer.UpdateDevices([]types.Device{
		{EntityID: "vacuum.roomba", Domain: "vacuum"},
	})

	score := scorer.Score(context.Background(), pattern(10, "vacuum.roomba"))
	assert.Equal(t, defaultEnergyWeight, score)
}

func TestScore_NeutralSatisfactionWithoutFeedback(t *testing.T) {
	scorer := NewScorer(Weights{Satisfaction: 1}, nil, testLogger())

	score := scorer.Score(context.Background(), pattern(10, "light.a"))
	assert.Equal(t, 0.5, score)
}

func TestScore_SatisfactionTracksApprovalRate(t *testing.T) {
	feedback := storage.NewMemoryFeedbackStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, feedback.AddOutcome(ctx, &types.LabeledOutcome{
			PatternType: types.PatternSequence,
			Outcome:     types.OutcomeApproved,
		}))
	}
	require.NoError(t, feedback.AddOutcome(ctx, &types.LabeledOutcome{
		PatternType: types.PatternSequence,
		Outcome:     types.OutcomeRejected,
	}))

	scorer := NewScorer(Weights{Satisfaction: 1}, feedback, testLogger())
	score := scorer.Score(ctx, pattern(10, "light.a"))
	assert.Equal(t, 0.75, score, "three approvals out of four")
}

func TestScoreSynergy_DeepChainsUseConfidenceProxy(t *testing.T) {
	scorer := NewScorer(DefaultWeights(), nil, testLogger())
	ctx := context.Background()

	pair := &types.Synergy{
		ChainDevices:    []string{"a", "b"},
		Depth:           2,
		Confidence:      0.9,
		OccurrenceCount: 8,
	}
	deep := &types.Synergy{
		ChainDevices: []string{"a", "b", "c", "d"},
		Depth:        4,
		Confidence:   0.9,
	}

	pairScore := scorer.ScoreSynergy(ctx, pair)
	deepScore := scorer.ScoreSynergy(ctx, deep)

	assert.Greater(t, pairScore, 0.0)
	assert.Greater(t, deepScore, 0.0)
	assert.LessOrEqual(t, pairScore, 1.0)
	assert.LessOrEqual(t, deepScore, 1.0)
}

func TestNormalizeFrequency(t *testing.T) {
	assert.Equal(t, 0.0, normalizeFrequency(0))
	assert.Equal(t, 0.0, normalizeFrequency(-3))
	assert.InDelta(t, 0.5, normalizeFrequency(10), 1e-9)
	assert.Less(t, normalizeFrequency(1000), 1.0)
}
