package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/aurelia-home/synergy-engine/internal/engine/storage"
	"github.com/aurelia-home/synergy-engine/internal/engine/types"
	"github.com/aurelia-home/synergy-engine/pkg/embed"
	"github.com/aurelia-home/synergy-engine/pkg/redis"
)

// cacheEntry is the JSON payload stored in Redis per entity.
type cacheEntry struct {
	Vector     []float32 `json:"vector"`
	SourceHash string    `json:"source_hash"`
	ComputedAt time.Time `json:"computed_at"`
}

// Cache builds and caches one semantic vector per device. Entries live in
// Redis with a TTL and a content hash of the descriptor text; a hash mismatch
// means the device metadata changed and forces a recompute. Vectors are also
// persisted to Postgres (pgvector) for SQL-side similarity queries.
//
// The backend is optional. When it is nil or unavailable, Embedding returns
// (nil, nil) and callers skip similarity filtering instead of failing.
type Cache struct {
	backend embed.Client
	redis   redis.Client
	store   storage.EmbeddingStore
	ttl     time.Duration
	logger  *slog.Logger

	// Per-entity locks so concurrent callers don't recompute the same vector
	// twice. The map itself is guarded by mu.
	mu          sync.Mutex
	entityLocks map[string]*sync.Mutex
}

// NewCache creates a new embedding cache. backend and store may be nil.
func NewCache(backend embed.Client, redisClient redis.Client, store storage.EmbeddingStore, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		backend:     backend,
		redis:       redisClient,
		store:       store,
		ttl:         ttl,
		logger:      logger.With("component", "embedding_cache"),
		entityLocks: make(map[string]*sync.Mutex),
	}
}

// Available reports whether an embedding backend is configured.
func (c *Cache) Available() bool {
	return c.backend != nil
}

// Embedding returns the cached vector for the device, computing it on a cache
// miss or hash mismatch. Returns (nil, nil) when no backend is available or
// the backend call fails — degraded, not fatal.
func (c *Cache) Embedding(ctx context.Context, device types.Device) ([]float32, error) {
	if c.backend == nil {
		return nil, nil
	}

	descriptor := BuildDescriptor(device)
	hash := DescriptorHash(descriptor)

	if entry := c.lookup(ctx, device.EntityID); entry != nil && entry.SourceHash == hash {
		return entry.Vector, nil
	}

	lock := c.entityLock(device.EntityID)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have recomputed while we waited on the lock.
	if entry := c.lookup(ctx, device.EntityID); entry != nil && entry.SourceHash == hash {
		return entry.Vector, nil
	}

	vector, err := c.backend.Embed(ctx, descriptor)
	if err != nil {
		c.logger.Warn("Embedding backend unavailable, similarity filtering degraded",
			"entity_id", device.EntityID,
			"error", err)
		return nil, nil
	}

	c.persist(ctx, device.EntityID, hash, vector)
	return vector, nil
}

// Invalidate drops the cached entry for an entity.
func (c *Cache) Invalidate(ctx context.Context, entityID string) error {
	if err := c.redis.Del(ctx, redis.EmbeddingKey(entityID)); err != nil {
		return fmt.Errorf("failed to invalidate embedding for %s: %w", entityID, err)
	}
	if c.store != nil {
		if err := c.store.DeleteEmbedding(ctx, entityID); err != nil {
			return err
		}
	}
	return nil
}

// BulkRefresh recomputes embeddings for the given devices, skipping entries
// whose descriptor hash is unchanged.
func (c *Cache) BulkRefresh(ctx context.Context, devices []types.Device) error {
	if c.backend == nil {
		c.logger.Info("Bulk refresh skipped: no embedding backend configured")
		return nil
	}

	refreshed := 0
	for _, device := range devices {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := c.Embedding(ctx, device); err != nil {
			return err
		}
		refreshed++
	}

	c.logger.Info("Bulk embedding refresh complete", "devices", refreshed)
	return nil
}

func (c *Cache) lookup(ctx context.Context, entityID string) *cacheEntry {
	raw, err := c.redis.Get(ctx, redis.EmbeddingKey(entityID))
	if err != nil {
		if !errors.Is(err, redis.ErrKeyNotFound) {
			c.logger.Warn("Embedding cache read failed", "entity_id", entityID, "error", err)
		}
		return nil
	}

	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.logger.Warn("Corrupt embedding cache entry, dropping", "entity_id", entityID, "error", err)
		return nil
	}

	return &entry
}

func (c *Cache) persist(ctx context.Context, entityID, hash string, vector []float32) {
	entry := cacheEntry{
		Vector:     vector,
		SourceHash: hash,
		ComputedAt: time.Now(),
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		c.logger.Error("Failed to marshal cache entry", "entity_id", entityID, "error", err)
		return
	}

	if err := c.redis.Set(ctx, redis.EmbeddingKey(entityID), payload, c.ttl); err != nil {
		c.logger.Warn("Embedding cache write failed", "entity_id", entityID, "error", err)
	}

	if c.store != nil {
		emb := &types.DeviceEmbedding{
			EntityID:       entityID,
			Vector:         pgvector.NewVector(vector),
			SourceTextHash: hash,
			ComputedAt:     entry.ComputedAt,
		}
		if err := c.store.UpsertEmbedding(ctx, emb); err != nil {
			c.logger.Warn("Embedding store write failed", "entity_id", entityID, "error", err)
		}
	}
}

func (c *Cache) entityLock(entityID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.entityLocks[entityID]
	if !ok {
		lock = &sync.Mutex{}
		c.entityLocks[entityID] = lock
	}
	return lock
}
