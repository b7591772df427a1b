package memory

import (
	"context"
	"sync"
	"time"

	"txflow/pkg/cache"
)

// MemoryCache is the in-process L1 layer. Values are stored as-is (no
// serialization), so a typed read model put in comes back out with its type.
type MemoryCache struct {
	data map[string]*entry
	mu   sync.RWMutex

	config MemoryCacheConfig
	now    func() time.Time

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

type entry struct {
	value      interface{}
	expiresAt  time.Time
	accessedAt time.Time
}

// MemoryCacheConfig holds configuration for the memory cache
type MemoryCacheConfig struct {
	// Name is the cache layer identifier
	Name string `yaml:"name"`

	// MaxSize is the maximum number of entries (0 = unlimited)
	MaxSize int `yaml:"max_size"`

	// DefaultTTL is the default time-to-live for entries
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// CleanupInterval is how often to check for expired entries
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// NewMemoryCache creates a new in-memory cache with the given configuration.
// It starts a background goroutine for TTL cleanup; call Close to stop it.
func NewMemoryCache(config MemoryCacheConfig) *MemoryCache {
	if config.Name == "" {
		config.Name = "L1-memory"
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Minute
	}

	c := &MemoryCache{
		data:          make(map[string]*entry),
		config:        config,
		now:           time.Now,
		stopCleanup:   make(chan struct{}),
		cleanupTicker: time.NewTicker(config.CleanupInterval),
	}

	c.wg.Add(1)
	go c.cleanup()

	return c
}

// Get retrieves a value from the cache.
func (c *MemoryCache) Get(ctx context.Context, key string) (interface{}, error) {
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok {
		return nil, cache.ErrKeyNotFound
	}

	now := c.now()
	if now.After(e.expiresAt) {
		delete(c.data, key)
		return nil, cache.ErrKeyNotFound
	}

	e.accessedAt = now
	return e.value, nil
}

// Set stores a value in the cache with the specified TTL.
// If ttl is 0, uses the default TTL. Enforces MaxSize by evicting the
// least recently used entry.
func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && c.config.MaxSize > 0 && len(c.data) >= c.config.MaxSize {
		c.evictLRU()
	}

	now := c.now()
	c.data[key] = &entry{
		value:      value,
		expiresAt:  now.Add(ttl),
		accessedAt: now,
	}

	return nil
}

// evictLRU must be called with c.mu held.
func (c *MemoryCache) evictLRU() {
	var lruKey string
	var lruTime time.Time

	for k, e := range c.data {
		if lruKey == "" || e.accessedAt.Before(lruTime) {
			lruKey = k
			lruTime = e.accessedAt
		}
	}

	if lruKey != "" {
		delete(c.data, lruKey)
	}
}

// Delete removes a key from the cache.
// Returns nil even if the key doesn't exist.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()

	return nil
}

// Name returns the cache layer name.
func (c *MemoryCache) Name() string {
	return c.config.Name
}

// Close stops the background cleanup goroutine and clears all data.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		c.cleanupTicker.Stop()
		close(c.stopCleanup)
		c.wg.Wait()

		c.mu.Lock()
		c.data = make(map[string]*entry)
		c.mu.Unlock()
	})
	return nil
}

func (c *MemoryCache) cleanup() {
	defer c.wg.Done()

	for {
		select {
		case <-c.cleanupTicker.C:
			c.removeExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *MemoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.data {
		if now.After(e.expiresAt) {
			delete(c.data, key)
		}
	}
}

// Len returns the number of entries currently held, including expired
// entries not yet cleaned up.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
