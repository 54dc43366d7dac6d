package redis

import (
	"context"
	"time"
)

// Client is the Redis abstraction used by the embedding cache and the health
// snapshot writer.
type Client interface {
	// Set sets a key to a value with an optional TTL (0 means no expiry)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get gets the value of a key. Returns ErrKeyNotFound when absent.
	Get(ctx context.Context, key string) (string, error)

	// Del removes a key
	Del(ctx context.Context, key string) error

	// HSet sets a field in a hash
	HSet(ctx context.Context, key string, field string, value interface{}) error

	// HGetAll gets all fields from a hash
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Expire sets a TTL on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Ping checks the connection to Redis
	Ping(ctx context.Context) error

	// Close closes the Redis connection
	Close() error
}
