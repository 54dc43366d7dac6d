package detector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

type panickyDetector struct{}

func (panickyDetector) ID() string { return "panicky" }
func (panickyDetector) Type() types.PatternType { return types.PatternAnomaly }
func (panickyDetector) Detect(ctx context.Context, events []types.Event, devices []types.Device) ([]*types.Pattern, error) {
	panic("slice bounds out of range")
}

func TestRegistry_RejectsDuplicateType(t *testing.T) {
	r := NewRegistry(testLogger())

	require.NoError(t, r.Register(NewSequenceDetector(2*time.Minute, 3)))
	err := r.Register(NewSequenceDetector(5*time.Minute, 2))
	assert.Error(t, err)
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.Register(NewSequenceDetector(2*time.Minute, 3)))
	require.NoError(t, r.Register(NewContextualDetector(30*time.Second, 3)))

	assert.NotNil(t, r.Detector(types.PatternSequence))
	assert.Nil(t, r.Detector(types.PatternSession))
	assert.NotNil(t, r.ByID("contextual"))
	assert.Nil(t, r.ByID("nope"))
	assert.Len(t, r.All(), 2)
}

func TestSafeDetect_PanicBecomesError(t *testing.T) {
	r := NewRegistry(testLogger())
	d := panickyDetector{}
	require.NoError(t, r.Register(d))

	patterns, err := r.SafeDetect(context.Background(), d, nil, nil)
	require.Error(t, err)
	assert.Nil(t, patterns)
	assert.Contains(t, err.Error(), "panicked")
}
