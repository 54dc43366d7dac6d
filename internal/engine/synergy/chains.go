package synergy

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/aurelia-home/synergy-engine/internal/engine/embedding"
	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// VectorSource resolves an entity id to its semantic vector. A nil vector
// means no embedding is available for that entity; the extractor then keeps
// the chain rather than filtering on similarity it cannot compute.
type VectorSource interface {
	Vector(ctx context.Context, entityID string) ([]float32, error)
}

// Extractor extends depth-2 pairs into 3- and 4-device chains. Extension is
// bounded two ways: an input guard that skips a stage entirely when the base
// set is too large, and an output cap on each stage's result.
type Extractor struct {
	// MaxDepth is the deepest chain the extractor will build (at most 4).
	MaxDepth int
	// MaxInput skips an extension stage when the base chain count exceeds it.
	MaxInput int
	// MaxOutput caps the chains kept per stage, highest confidence first.
	MaxOutput int
	// SimilarityThreshold drops chains whose trigger/action vectors are less
	// similar than this, when both vectors are available.
	SimilarityThreshold float64

	vectors VectorSource
	logger  *slog.Logger
}

// NewExtractor creates a chain extractor. vectors may be nil, in which case
// the similarity filter is skipped.
func NewExtractor(maxDepth, maxInput, maxOutput int, similarityThreshold float64, vectors VectorSource, logger *slog.Logger) *Extractor {
	if maxDepth > 4 {
		maxDepth = 4
	}
	return &Extractor{
		MaxDepth:            maxDepth,
		MaxInput:            maxInput,
		MaxOutput:           maxOutput,
		SimilarityThreshold: similarityThreshold,
		vectors:             vectors,
		logger:              logger.With("component", "chain_extractor"),
	}
}

// Extract runs the staged extension pipeline: pairs to depth 3, then depth 3
// to depth 4. Stages are sequential since each depends on the previous one's
// output. Returns all chains of depth 3 and up.
func (x *Extractor) Extract(ctx context.Context, pairs []*types.Synergy) ([]*types.Synergy, error) {
	var chains []*types.Synergy

	base := pairs
	for depth := 3; depth <= x.MaxDepth; depth++ {
		extended, err := x.ExtendChains(ctx, base, pairs)
		if err != nil {
			return nil, err
		}
		if len(extended) == 0 {
			break
		}
		chains = append(chains, extended...)
		base = extended
	}

	return chains, nil
}

// ExtendChains appends one hop to every base chain using the pair index.
// A chain [.., X] extends to [.., X, Y] for each pair X->Y where Y is not
// already in the chain. Returns nil without error when the base set exceeds
// MaxInput, the combinatorial overflow guard, with a logged reason.
func (x *Extractor) ExtendChains(ctx context.Context, baseChains, pairs []*types.Synergy) ([]*types.Synergy, error) {
	if len(baseChains) == 0 {
		return nil, nil
	}
	if x.MaxInput > 0 && len(baseChains) > x.MaxInput {
		x.logger.Warn("Skipping chain extension: base set exceeds input bound",
			"base_chains", len(baseChains),
			"max_input", x.MaxInput,
			"target_depth", baseChains[0].Depth+1)
		return nil, nil
	}

	byTrigger := make(map[string][]*types.Synergy)
	for _, p := range pairs {
		byTrigger[p.TriggerEntity()] = append(byTrigger[p.TriggerEntity()], p)
	}

	seen := make(map[string]bool)
	var extended []*types.Synergy

	for _, chain := range baseChains {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		for _, hop := range byTrigger[chain.ActionEntity()] {
			next := hop.ActionEntity()
			if chain.Contains(next) {
				continue
			}

			candidate := x.join(chain, hop)
			if seen[candidate.ChainKey()] {
				continue
			}

			keep, err := x.similarEnough(ctx, candidate.TriggerEntity(), candidate.ActionEntity())
			if err != nil {
				return nil, err
			}
			if !keep {
				continue
			}

			seen[candidate.ChainKey()] = true
			extended = append(extended, candidate)
		}
	}

	sort.Slice(extended, func(i, j int) bool {
		if extended[i].Confidence != extended[j].Confidence {
			return extended[i].Confidence > extended[j].Confidence
		}
		return extended[i].ChainKey() < extended[j].ChainKey()
	})

	if x.MaxOutput > 0 && len(extended) > x.MaxOutput {
		extended = extended[:x.MaxOutput]
	}

	return extended, nil
}

// join builds the depth-N chain from a depth-(N-1) base and one more hop.
// Confidence is the floor of the constituents, impact their mean.
func (x *Extractor) join(chain, hop *types.Synergy) *types.Synergy {
	devices := make([]string, len(chain.ChainDevices), len(chain.ChainDevices)+1)
	copy(devices, chain.ChainDevices)
	devices = append(devices, hop.ActionEntity())

	confidence := chain.Confidence
	if hop.Confidence < confidence {
		confidence = hop.Confidence
	}

	area := ""
	if chain.Area != "" && chain.Area == hop.Area {
		area = chain.Area
	}

	lastObserved := chain.LastObserved
	if hop.LastObserved.After(lastObserved) {
		lastObserved = hop.LastObserved
	}

	return &types.Synergy{
		ID:           uuid.New(),
		ChainDevices: devices,
		Depth:        len(devices),
		Confidence:   confidence,
		ImpactScore:  (chain.ImpactScore + hop.ImpactScore) / 2,
		Area:         area,
		Rationale:    chain.Rationale + "; " + hop.Rationale,
		LastObserved: lastObserved,
		CreatedAt:    chain.CreatedAt,
	}
}

// similarEnough applies the semantic similarity filter between the chain's
// trigger and its final action. Missing vectors disable the filter for that
// chain, a documented degradation rather than a failure.
func (x *Extractor) similarEnough(ctx context.Context, trigger, action string) (bool, error) {
	if x.vectors == nil {
		return true, nil
	}

	tv, err := x.vectors.Vector(ctx, trigger)
	if err != nil {
		return false, err
	}
	av, err := x.vectors.Vector(ctx, action)
	if err != nil {
		return false, err
	}
	if tv == nil || av == nil {
		return true, nil
	}

	return embedding.Cosine(tv, av) >= x.SimilarityThreshold, nil
}
