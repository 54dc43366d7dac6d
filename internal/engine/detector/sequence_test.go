package detector

import (
	"context"
	"testing"
	"time"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// Three entities transitioning in the same order on three evenings.
func TestSequenceDetector_RecurringTriple(t *testing.T) {
	d := NewSequenceDetector(2*time.Minute, 3)

	base := time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC)
	var events []types.Event
	for day := 0; day < 3; day++ {
		at := base.AddDate(0, 0, day)
		events = append(events,
			on("binary_sensor.front_door", at),
			on("light.hallway", at.Add(15*time.Second)),
			on("light.living_room", at.Add(40*time.Second)),
		)
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) != 1 {
		t.Fatalf("expected one sequence pattern, got %d", len(patterns))
	}

	p := patterns[0]
	want := []string{"binary_sensor.front_door", "light.hallway", "light.living_room"}
	if len(p.Entities) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(p.Entities))
	}
	for i, e := range want {
		if p.Entities[i] != e {
			t.Errorf("entity %d: got %s, want %s", i, p.Entities[i], e)
		}
	}
	if p.OccurrenceCount != 3 {
		t.Errorf("expected occurrence count 3, got %d", p.OccurrenceCount)
	}
	if p.RawConfidence != 0.6 {
		t.Errorf("expected confidence 0.6 (3/(3+2)), got %f", p.RawConfidence)
	}
}

func TestSequenceDetector_BelowSupportDropped(t *testing.T) {
	d := NewSequenceDetector(2*time.Minute, 3)

	base := time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC)
	events := []types.Event{
		on("a", base),
		on("b", base.Add(10*time.Second)),
		on("c", base.Add(20*time.Second)),
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) != 0 {
		t.Errorf("expected no patterns from one occurrence, got %d", len(patterns))
	}
}

// Steps spread wider than the window never form a sequence.
func TestSequenceDetector_WindowBoundsOccurrence(t *testing.T) {
	d := NewSequenceDetector(time.Minute, 2)

	base := time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC)
	var events []types.Event
	for day := 0; day < 3; day++ {
		at := base.AddDate(0, 0, day)
		events = append(events,
			on("a", at),
			on("b", at.Add(30*time.Second)),
			on("c", at.Add(5*time.Minute)),
		)
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) != 0 {
		t.Errorf("expected no patterns when the third step falls outside the window, got %d", len(patterns))
	}
}

func TestSequenceDetector_NonTransitionsIgnored(t *testing.T) {
	d := NewSequenceDetector(2*time.Minute, 2)

	base := time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC)
	var events []types.Event
	for day := 0; day < 2; day++ {
		at := base.AddDate(0, 0, day)
		events = append(events,
			on("a", at),
			// State refresh, same state on both sides.
			types.Event{Timestamp: at.Add(10 * time.Second), EntityID: "b", State: "on", PreviousState: "on"},
			on("c", at.Add(20*time.Second)),
		)
	}

	patterns, err := d.Detect(context.Background(), events, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) != 0 {
		t.Errorf("expected refreshes not to count as steps, got %d patterns", len(patterns))
	}
}
