package redis

import "fmt"

// Key construction helpers for engine state held in Redis.

// EmbeddingKey returns the key for a cached device embedding (string, JSON)
// Pattern: embedding:{entity_id}
func EmbeddingKey(entityID string) string {
	return fmt.Sprintf("embedding:%s", entityID)
}

// DetectorHealthKey returns the key for a detector health snapshot (hash)
// Pattern: health:detector:{detector_id}
func DetectorHealthKey(detectorID string) string {
	return fmt.Sprintf("health:detector:%s", detectorID)
}

// LifecycleStatsKey returns the key for the last sweep summary (hash)
// Pattern: health:lifecycle
func LifecycleStatsKey() string {
	return "health:lifecycle"
}
