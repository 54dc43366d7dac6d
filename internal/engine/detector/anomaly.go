package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// AnomalyDetector finds statistically rare behavior relative to each entity's
// own baseline: a device firing at an hour it almost never fires at. Rarity
// is judged against the entity's hour-of-day histogram over the full window,
// so a detector run needs enough history to have a baseline at all.
type AnomalyDetector struct {
	// MinBaseline is the minimum number of transitions an entity needs
	// before any of its behavior can be called rare.
	MinBaseline int
	// RareFraction is the largest share of an entity's activity an hour
	// bucket can hold and still be considered rare.
	RareFraction float64
}

// NewAnomalyDetector creates an anomaly detector.
func NewAnomalyDetector(minBaseline int) *AnomalyDetector {
	return &AnomalyDetector{MinBaseline: minBaseline, RareFraction: 0.05}
}

func (d *AnomalyDetector) ID() string { return "anomaly" }
func (d *AnomalyDetector) Type() types.PatternType { return types.PatternAnomaly }

type anomalyBaseline struct {
	total   int
	byHour  [24]int
	firstAt [24]time.Time
	lastAt  [24]time.Time
}

// Detect builds per-entity hour histograms and emits at most one pattern per
// entity, for its rarest observed hour bucket. One per entity keeps the merge
// key stable across runs even as the rare hour shifts.
func (d *AnomalyDetector) Detect(ctx context.Context, events []types.Event, devices []types.Device) ([]*types.Pattern, error) {
	baselines := make(map[string]*anomalyBaseline)

	for _, e := range transitions(events) {
		b, ok := baselines[e.EntityID]
		if !ok {
			b = &anomalyBaseline{}
			baselines[e.EntityID] = b
		}
		h := e.Timestamp.Hour()
		b.total++
		b.byHour[h]++
		if b.firstAt[h].IsZero() {
			b.firstAt[h] = e.Timestamp
		}
		b.lastAt[h] = e.Timestamp
	}

	var patterns []*types.Pattern

	for entity, b := range baselines {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if b.total < d.MinBaseline {
			continue
		}

		rareHour, rareShare := -1, d.RareFraction
		for h := 0; h < 24; h++ {
			count := b.byHour[h]
			if count == 0 {
				continue
			}
			share := float64(count) / float64(b.total)
			if share <= rareShare {
				rareHour, rareShare = h, share
			}
		}
		if rareHour < 0 {
			continue
		}

		patterns = append(patterns, newPattern(
			types.PatternAnomaly,
			[]string{entity},
			1-rareShare/d.RareFraction,
			b.byHour[rareHour],
			b.firstAt[rareHour],
			b.lastAt[rareHour],
			map[string]interface{}{
				"hour":           rareHour,
				"baseline_total": b.total,
				"bucket_share":   rareShare,
				"description":    fmt.Sprintf("activity at %02d:00 is rare for this entity", rareHour),
			},
		))
	}

	return patterns, nil
}
