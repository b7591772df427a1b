package cache

import (
	"context"
	"time"
)

// CacheLayer defines the interface that all cache layer implementations must satisfy.
// Layers hold server-derived read models (wallet snapshots, beneficiary lists, plan
// catalogs) keyed by resource identity. They are never patched in place by the
// transaction workflow: a state change deletes the key and the next read refetches.
type CacheLayer interface {
	// Get retrieves a value from the cache by key.
	// Returns ErrKeyNotFound on a miss.
	Get(ctx context.Context, key string) (interface{}, error)

	// Set stores a value in the cache with the specified key and time-to-live.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a value from the cache by key.
	// Returns nil if the key was deleted or didn't exist.
	Delete(ctx context.Context, key string) error

	// Name returns the identifier for this layer (e.g., "L1-memory", "L2-redis").
	Name() string

	// Close releases any resources held by the cache layer.
	Close() error
}
