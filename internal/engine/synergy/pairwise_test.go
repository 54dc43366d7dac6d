package synergy

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestAnalyzer() *Analyzer {
	return NewAnalyzer(30*time.Second, 3, 10, 14*24*time.Hour, testLogger())
}

func transition(entity string, at time.Time) types.Event {
	return types.Event{
		Timestamp:     at,
		EntityID:      entity,
		Domain:        "light",
		State:         "on",
		PreviousState: "off",
	}
}

// Motion followed by light within 30 seconds on three distinct days must
// qualify as a depth-2 pair with occurrence count 3.
func TestFindPairs_MotionLightOverThreeDays(t *testing.T) {
	base := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	var events []types.Event
	for day := 0; day < 3; day++ {
		at := base.AddDate(0, 0, day)
		events = append(events,
			transition("binary_sensor.hallway_motion", at),
			transition("light.hallway", at.Add(10*time.Second)),
		)
	}

	pairs := newTestAnalyzer().FindPairs(events, nil, base.AddDate(0, 0, 3))

	var found *types.Synergy
	for _, p := range pairs {
		if p.TriggerEntity() == "binary_sensor.hallway_motion" && p.ActionEntity() == "light.hallway" {
			found = p
		}
	}
	if found == nil {
		t.Fatalf("expected motion->light pair, got %d pairs", len(pairs))
	}

	if found.OccurrenceCount != 3 {
		t.Errorf("expected occurrence count 3, got %d", found.OccurrenceCount)
	}
	if found.Depth != 2 {
		t.Errorf("expected depth 2, got %d", found.Depth)
	}
	if found.Confidence != 0.3 {
		t.Errorf("expected confidence 0.3 (3/10), got %f", found.Confidence)
	}
	if err := found.Validate(); err != nil {
		t.Errorf("pair failed validation: %v", err)
	}
}

func TestFindPairs_BelowMinOccurrencesDropped(t *testing.T) {
	base := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	var events []types.Event
	for day := 0; day < 2; day++ {
		at := base.AddDate(0, 0, day)
		events = append(events,
			transition("switch.coffee", at),
			transition("light.kitchen", at.Add(5*time.Second)),
		)
	}

	pairs := newTestAnalyzer().FindPairs(events, nil, base.AddDate(0, 0, 2))
	if len(pairs) != 0 {
		t.Errorf("expected no pairs below min occurrences, got %d", len(pairs))
	}
}

func TestFindPairs_OutsideWindowDropped(t *testing.T) {
	base := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	var events []types.Event
	for day := 0; day < 4; day++ {
		at := base.AddDate(0, 0, day)
		events = append(events,
			transition("switch.coffee", at),
			transition("light.kitchen", at.Add(45*time.Second)),
		)
	}

	pairs := newTestAnalyzer().FindPairs(events, nil, base.AddDate(0, 0, 4))
	if len(pairs) != 0 {
		t.Errorf("expected no pairs outside the window, got %d", len(pairs))
	}
}

// Two actions with identical frequency behind the same trigger are both kept.
func TestFindPairs_TiesAllRetained(t *testing.T) {
	base := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	var events []types.Event
	for day := 0; day < 3; day++ {
		at := base.AddDate(0, 0, day)
		events = append(events,
			transition("binary_sensor.door", at),
			transition("light.entry", at.Add(5*time.Second)),
			transition("light.porch", at.Add(8*time.Second)),
		)
	}

	pairs := newTestAnalyzer().FindPairs(events, nil, base.AddDate(0, 0, 3))

	wantActions := map[string]bool{"light.entry": false, "light.porch": false}
	for _, p := range pairs {
		if p.TriggerEntity() == "binary_sensor.door" {
			wantActions[p.ActionEntity()] = true
		}
	}
	for action, seen := range wantActions {
		if !seen {
			t.Errorf("expected tied pair door->%s to be retained", action)
		}
	}
}

func TestFindPairs_IgnoresNonTransitions(t *testing.T) {
	base := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	var events []types.Event
	for day := 0; day < 3; day++ {
		at := base.AddDate(0, 0, day)
		events = append(events,
			transition("binary_sensor.motion", at),
			// Periodic state refresh, not a transition.
			types.Event{Timestamp: at.Add(5 * time.Second), EntityID: "light.hall", State: "on", PreviousState: "on"},
		)
	}

	pairs := newTestAnalyzer().FindPairs(events, nil, base.AddDate(0, 0, 3))
	if len(pairs) != 0 {
		t.Errorf("expected state refreshes to be ignored, got %d pairs", len(pairs))
	}
}

// A pair last observed four weeks ago scores a lower impact than a fresh one
// of the same frequency.
func TestFindPairs_ImpactDecaysWithAge(t *testing.T) {
	analyzer := newTestAnalyzer()
	now := time.Date(2026, 3, 29, 12, 0, 0, 0, time.UTC)

	makeEvents := func(start time.Time) []types.Event {
		var events []types.Event
		for day := 0; day < 3; day++ {
			at := start.AddDate(0, 0, day)
			events = append(events,
				transition("binary_sensor.motion", at),
				transition("light.hall", at.Add(5*time.Second)),
			)
		}
		return events
	}

	fresh := analyzer.FindPairs(makeEvents(now.AddDate(0, 0, -3)), nil, now)
	stale := analyzer.FindPairs(makeEvents(now.AddDate(0, 0, -31)), nil, now)

	if len(fresh) != 1 || len(stale) != 1 {
		t.Fatalf("expected one pair each, got %d fresh, %d stale", len(fresh), len(stale))
	}
	if stale[0].ImpactScore >= fresh[0].ImpactScore {
		t.Errorf("expected stale impact %f < fresh impact %f", stale[0].ImpactScore, fresh[0].ImpactScore)
	}
}

func TestFindPairs_SharedAreaAssigned(t *testing.T) {
	base := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	areas := map[string]string{
		"binary_sensor.motion": "hallway",
		"light.hall":           "hallway",
	}

	var events []types.Event
	for day := 0; day < 3; day++ {
		at := base.AddDate(0, 0, day)
		events = append(events,
			transition("binary_sensor.motion", at),
			transition("light.hall", at.Add(5*time.Second)),
		)
	}

	pairs := newTestAnalyzer().FindPairs(events, areas, base.AddDate(0, 0, 3))
	if len(pairs) != 1 {
		t.Fatalf("expected one pair, got %d", len(pairs))
	}
	if pairs[0].Area != "hallway" {
		t.Errorf("expected shared area hallway, got %q", pairs[0].Area)
	}
}
