package detector

import (
	"log/slog"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// Seeded so generated device metadata is stable across runs.
var faker = gofakeit.New(11)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func on(entity string, at time.Time) types.Event {
	return types.Event{Timestamp: at, EntityID: entity, State: "on", PreviousState: "off"}
}

func off(entity string, at time.Time) types.Event {
	return types.Event{Timestamp: at, EntityID: entity, State: "off", PreviousState: "on"}
}

func device(entityID, area, domain string) types.Device {
	return types.Device{
		EntityID:     entityID,
		Name:         faker.Word(),
		Area:         area,
		Domain:       domain,
		Capabilities: []string{faker.Word()},
	}
}

// jitter returns a small random offset so synthetic streams are not
// suspiciously metronomic.
func jitter(maxSeconds int) time.Duration {
	return time.Duration(faker.Number(0, maxSeconds)) * time.Second
}
