package detector

import (
	"context"
	"sort"
	"time"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// RoomBasedDetector finds activity confined to one physical area: groups of
// devices in the same room that repeatedly activate together within a window.
type RoomBasedDetector struct {
	// Window is the co-activation window within one room.
	Window time.Duration
	// MinSupport is the minimum number of joint activations.
	MinSupport int
	// MinDevices is the smallest device group worth reporting.
	MinDevices int
}

// NewRoomBasedDetector creates a room-based detector.
func NewRoomBasedDetector(window time.Duration, minSupport int) *RoomBasedDetector {
	return &RoomBasedDetector{Window: window, MinSupport: minSupport, MinDevices: 2}
}

func (d *RoomBasedDetector) ID() string { return "room_based" }
func (d *RoomBasedDetector) Type() types.PatternType { return types.PatternRoomBased }

type roomEvidence struct {
	area  string
	count int
	first time.Time
	last  time.Time
	// entitySeen tallies per-entity participation so the reported group is
	// the devices that actually recur, not every device ever in the room.
	entitySeen map[string]int
}

// Detect groups activations by area and counts windows where MinDevices or
// more distinct devices in the same room fired together.
func (d *RoomBasedDetector) Detect(ctx context.Context, events []types.Event, devices []types.Device) ([]*types.Pattern, error) {
	areas := areaOf(devices)

	byArea := make(map[string][]types.Event)
	for _, e := range activations(events) {
		area := areas[e.EntityID]
		if area == "" {
			continue
		}
		byArea[area] = append(byArea[area], e)
	}

	var patterns []*types.Pattern

	for area, acts := range byArea {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		ev := &roomEvidence{area: area, entitySeen: make(map[string]int)}

		i := 0
		for i < len(acts) {
			j := i
			group := map[string]bool{}
			for j < len(acts) && acts[j].Timestamp.Sub(acts[i].Timestamp) <= d.Window {
				group[acts[j].EntityID] = true
				j++
			}

			if len(group) >= d.MinDevices {
				ev.count++
				if ev.first.IsZero() {
					ev.first = acts[i].Timestamp
				}
				ev.last = acts[j-1].Timestamp
				for entity := range group {
					ev.entitySeen[entity]++
				}
			}
			i = j
		}

		if ev.count < d.MinSupport {
			continue
		}

		// Keep devices that took part in at least half the joint activations.
		var entities []string
		for entity, seen := range ev.entitySeen {
			if seen*2 >= ev.count {
				entities = append(entities, entity)
			}
		}
		if len(entities) < d.MinDevices {
			continue
		}
		sort.Strings(entities)

		patterns = append(patterns, newPattern(
			types.PatternRoomBased,
			entities,
			support(ev.count),
			ev.count,
			ev.first,
			ev.last,
			map[string]interface{}{
				"area":           area,
				"window_seconds": d.Window.Seconds(),
			},
		))
	}

	return patterns, nil
}
