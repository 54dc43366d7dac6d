package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/aurelia-home/synergy-engine/internal/engine/storage"
	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// Weights is the configurable factor weighting of the utility score. The
// four factors are each normalized to [0,1] before weighting.
type Weights struct {
	Frequency    float64 `yaml:"frequency"`
	Energy       float64 `yaml:"energy"`
	TimeSaved    float64 `yaml:"time_saved"`
	Satisfaction float64 `yaml:"satisfaction"`
}

// DefaultWeights favors frequency, with energy slightly ahead of the softer
// factors.
func DefaultWeights() Weights {
	return Weights{Frequency: 0.35, Energy: 0.25, TimeSaved: 0.20, Satisfaction: 0.20}
}

// LoadWeightsFile reads a Weights YAML file.
func LoadWeightsFile(path string) (Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Weights{}, fmt.Errorf("failed to read weights file: %w", err)
	}

	var w Weights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return Weights{}, fmt.Errorf("failed to parse weights file: %w", err)
	}

	if err := w.Validate(); err != nil {
		return Weights{}, err
	}
	return w, nil
}

// Validate rejects negative weights and all-zero weight sets.
func (w Weights) Validate() error {
	if w.Frequency < 0 || w.Energy < 0 || w.TimeSaved < 0 || w.Satisfaction < 0 {
		return fmt.Errorf("weights must be non-negative: %+v", w)
	}
	if w.sum() == 0 {
		return fmt.Errorf("at least one weight must be positive")
	}
	return nil
}

func (w Weights) sum() float64 {
	return w.Frequency + w.Energy + w.TimeSaved + w.Satisfaction
}

// energyByDomain is a rough heuristic for how energy-intensive a domain is.
// Climate and heating dominate household consumption; sensors cost nothing.
var energyByDomain = map[string]float64{
	"climate":       1.0,
	"water_heater":  1.0,
	"fan":           0.5,
	"media_player":  0.5,
	"switch":        0.6,
	"light":         0.4,
	"cover":         0.3,
	"lock":          0.1,
	"sensor":        0.0,
	"binary_sensor": 0.0,
}

const defaultEnergyWeight = 0.3

// secondsSavedPerAction estimates the manual effort one automated step spares.
const secondsSavedPerAction = 5.0

// timeSavedCeiling normalizes the time-saved estimate; anything sparing more
// than this per occurrence scores 1.0.
const timeSavedCeiling = 30.0

// Scorer computes the multi-factor utility score used to rank patterns and
// synergies for the downstream suggestion generator.
type Scorer struct {
	weights  Weights
	feedback storage.FeedbackStore
	logger   *slog.Logger

	mu      sync.RWMutex
	domains map[string]string
}

// NewScorer creates a scorer. feedback may be nil, the satisfaction factor is
// then neutral.
func NewScorer(weights Weights, feedback storage.FeedbackStore, logger *slog.Logger) *Scorer {
	return &Scorer{
		weights:  weights,
		feedback: feedback,
		logger:   logger.With("component", "utility_scorer"),
		domains:  make(map[string]string),
	}
}

// UpdateDevices refreshes the entity-to-domain lookup backing the energy
// factor.
func (s *Scorer) UpdateDevices(devices []types.Device) {
	domains := make(map[string]string, len(devices))
	for _, d := range devices {
		domains[d.EntityID] = d.Domain
	}

	s.mu.Lock()
	s.domains = domains
	s.mu.Unlock()
}

// Score computes the utility score for a pattern, clamped to [0,1].
func (s *Scorer) Score(ctx context.Context, p *types.Pattern) float64 {
	frequency := normalizeFrequency(p.OccurrenceCount)
	return s.combine(ctx, frequency, p.Entities, p.PatternType)
}

// ScoreSynergy computes the utility score for a chain. Depth-2 pairs carry an
// observed occurrence count; deeper chains fall back to confidence as the
// frequency proxy.
func (s *Scorer) ScoreSynergy(ctx context.Context, syn *types.Synergy) float64 {
	frequency := syn.Confidence
	if syn.OccurrenceCount > 0 {
		frequency = normalizeFrequency(syn.OccurrenceCount)
	}
	return s.combine(ctx, frequency, syn.ChainDevices, "")
}

func (s *Scorer) combine(ctx context.Context, frequency float64, entities []string, pt types.PatternType) float64 {
	energy := s.energyFactor(entities)
	timeSaved := timeSavedFactor(len(entities), frequency)
	satisfaction := s.satisfactionFactor(ctx, pt)

	w := s.weights
	score := (w.Frequency*frequency + w.Energy*energy + w.TimeSaved*timeSaved + w.Satisfaction*satisfaction) / w.sum()

	return clamp01(score)
}

// energyFactor is the highest domain energy weight among the entities, since
// automating one heavy consumer is worth more than several sensors.
func (s *Scorer) energyFactor(entities []string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := 0.0
	for _, entity := range entities {
		domain, ok := s.domains[entity]
		if !ok {
			continue
		}
		weight, ok := energyByDomain[domain]
		if !ok {
			weight = defaultEnergyWeight
		}
		if weight > best {
			best = weight
		}
	}
	return best
}

// timeSavedFactor estimates spared manual effort: actions per occurrence
// scaled by how often the pattern fires.
func timeSavedFactor(entityCount int, frequency float64) float64 {
	perOccurrence := float64(entityCount) * secondsSavedPerAction
	return clamp01(perOccurrence/timeSavedCeiling) * frequency
}

// satisfactionFactor is the approval rate of past feedback for the same
// pattern type. Neutral 0.5 when there is no feedback or no pattern type.
func (s *Scorer) satisfactionFactor(ctx context.Context, pt types.PatternType) float64 {
	if s.feedback == nil || pt == "" {
		return 0.5
	}

	rate, total, err := s.feedback.ApprovalRate(ctx, pt)
	if err != nil {
		s.logger.Warn("Approval rate lookup failed, using neutral satisfaction",
			"pattern_type", pt, "error", err)
		return 0.5
	}
	if total == 0 {
		return 0.5
	}
	return rate
}

// normalizeFrequency maps an occurrence count to [0,1), saturating around
// twenty observations.
func normalizeFrequency(count int) float64 {
	if count <= 0 {
		return 0
	}
	return float64(count) / float64(count+10)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
