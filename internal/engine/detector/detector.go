package detector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// Detector is one member of the pattern ensemble. Implementations are
// stateless between runs: they read the event slice they are given and emit
// candidate patterns, persistence and merging happen elsewhere.
type Detector interface {
	// ID is the stable identifier used for the detector's watermark row.
	ID() string
	// Type is the pattern type this detector emits.
	Type() types.PatternType
	// Detect analyzes the event window and returns pattern candidates.
	Detect(ctx context.Context, events []types.Event, devices []types.Device) ([]*types.Pattern, error)
}

// Registry is the explicit dispatch table for the ensemble, keyed by pattern
// type. One detector per type.
type Registry struct {
	detectors map[types.PatternType]Detector
	order     []types.PatternType
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		detectors: make(map[types.PatternType]Detector),
		logger:    logger.With("component", "detector_registry"),
	}
}

// Register adds a detector. Registering two detectors for the same pattern
// type is a programming error.
func (r *Registry) Register(d Detector) error {
	if _, exists := r.detectors[d.Type()]; exists {
		return fmt.Errorf("detector already registered for type %s", d.Type())
	}
	r.detectors[d.Type()] = d
	r.order = append(r.order, d.Type())
	return nil
}

// Detector returns the detector for a pattern type, or nil.
func (r *Registry) Detector(pt types.PatternType) Detector {
	return r.detectors[pt]
}

// ByID returns the detector with the given watermark id, or nil.
func (r *Registry) ByID(id string) Detector {
	for _, pt := range r.order {
		if r.detectors[pt].ID() == id {
			return r.detectors[pt]
		}
	}
	return nil
}

// All returns every registered detector in registration order.
func (r *Registry) All() []Detector {
	out := make([]Detector, 0, len(r.order))
	for _, pt := range r.order {
		out = append(out, r.detectors[pt])
	}
	return out
}

// SafeDetect invokes a detector with panic isolation. A panicking detector is
// reported as a failed run, it must never take the ensemble down with it.
func (r *Registry) SafeDetect(ctx context.Context, d Detector, events []types.Event, devices []types.Device) (patterns []*types.Pattern, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Detector panicked", "detector", d.ID(), "panic", rec)
			patterns = nil
			err = fmt.Errorf("detector %s panicked: %v", d.ID(), rec)
		}
	}()

	return d.Detect(ctx, events, devices)
}
