package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"txflow/pkg/cache"
	"txflow/pkg/logging"
	"txflow/pkg/metrics"
	"txflow/pkg/resilience"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config configures a Chain.
type Config struct {
	// TTL is the base time-to-live of loaded values.
	TTL time.Duration

	// TTLStrategy derives per-layer TTLs from TTL. Defaults to uniform.
	TTLStrategy TTLStrategy

	// Resilience is applied to every layer. Zero value uses
	// resilience.DefaultResilientConfig with a short timeout.
	Resilience *resilience.ResilientConfig

	Metrics metrics.MetricsCollector
}

// Chain is a read-through cache over multiple layers, ordered from fastest
// (L1) to slowest. Values are only ever produced by a loader that fetches the
// authoritative copy from the backend; callers never patch cached values.
// After a state change they Invalidate the key and the next Load refetches.
type Chain struct {
	layers   []cache.CacheLayer
	sf       singleflight.Group
	ttl      time.Duration
	strategy TTLStrategy
	metrics  metrics.MetricsCollector
	logger   *logging.Logger

	mu          sync.Mutex
	generations map[string]uint64
}

// New creates a new chain of cache layers.
// Layers should be ordered from fastest to slowest (L1 to LN).
// All layers are wrapped with resilience protection.
func New(config Config, layers ...cache.CacheLayer) (*Chain, error) {
	if len(layers) == 0 {
		return nil, errors.New("chain: at least one layer required")
	}
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}
	if config.TTLStrategy == nil {
		config.TTLStrategy = UniformTTLStrategy{}
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}

	rc := resilience.DefaultResilientConfig().WithTimeout(time.Second)
	if config.Resilience != nil {
		rc = *config.Resilience
	}

	wrapped := make([]cache.CacheLayer, len(layers))
	for i, layer := range layers {
		wrapped[i] = resilience.NewResilientLayer(layer, rc, config.Metrics)
	}

	return &Chain{
		layers:      wrapped,
		ttl:         config.TTL,
		strategy:    config.TTLStrategy,
		metrics:     config.Metrics,
		logger:      logging.L().Named("chain"),
		generations: make(map[string]uint64),
	}, nil
}

// Get retrieves a value from the chain, traversing layers in order until a
// hit and then warming the layers above the hit synchronously.
func (c *Chain) Get(ctx context.Context, key string) (interface{}, error) {
	var lastErr error = cache.ErrKeyNotFound

	for i, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		value, err := layer.Get(ctx, key)
		if err != nil {
			if !cache.IsNotFound(err) {
				c.logger.Debug("layer skipped",
					zap.String("layer", layer.Name()),
					zap.String("key", key),
					zap.String("error_type", cache.ClassifyError(err)),
				)
			}
			lastErr = err
			continue
		}

		if i > 0 {
			c.warmUpperLayers(ctx, key, value, i)
		}
		return value, nil
	}

	return nil, lastErr
}

// warmUpperLayers copies a value found at hitIndex into the faster layers.
// Synchronous so a concurrent Invalidate cannot be overtaken by a late warm-up.
func (c *Chain) warmUpperLayers(ctx context.Context, key string, value interface{}, hitIndex int) {
	for i := hitIndex - 1; i >= 0; i-- {
		ttl := c.strategy.GetTTL(i, len(c.layers), c.ttl)
		if err := c.layers[i].Set(ctx, key, value, ttl); err != nil {
			c.logger.Debug("warm-up failed", zap.String("layer", c.layers[i].Name()), zap.Error(err))
		}
	}
}

// Set writes the value to all layers in the chain.
// If any layer fails, the last error is returned but other layers are still attempted.
func (c *Chain) Set(ctx context.Context, key string, value interface{}) error {
	var lastErr error
	for i, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return err
		}
		ttl := c.strategy.GetTTL(i, len(c.layers), c.ttl)
		if err := layer.Set(ctx, key, value, ttl); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Invalidate removes keys from every layer and detaches any in-flight load
// of those keys, so the next Load goes to the backend.
func (c *Chain) Invalidate(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	for _, key := range keys {
		c.generations[key]++
	}
	c.mu.Unlock()
	for _, key := range keys {
		c.sf.Forget(key)
	}

	var errs []error
	for _, layer := range c.layers {
		if err := cache.DeleteMulti(ctx, layer, keys); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Chain) generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[key]
}

// Load returns the value cached under key, or calls load, caches its result
// and returns it. Concurrent loads of the same key share one call. A result
// loaded across an Invalidate of its key is returned to the caller but not
// cached.
//
// Typed layers hand out the cached value itself, so slices and maps in the
// result are shared with the cache and must not be modified. LoadSlice
// returns a private copy.
func Load[T any](ctx context.Context, c *Chain, key string, load func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		if cached, err := c.Get(ctx, key); err == nil {
			t, decErr := decode[T](cached)
			if decErr == nil {
				return t, nil
			}
			c.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(decErr))
		}

		gen := c.generation(key)
		t, err := load(ctx)
		if err != nil {
			return nil, err
		}

		if c.generation(key) == gen {
			if err := c.Set(ctx, key, t); err != nil {
				c.logger.Debug("cache fill failed", zap.String("key", key), zap.Error(err))
			}
		}
		return t, nil
	})
	if err != nil {
		return zero, err
	}

	return v.(T), nil
}

// LoadSlice is Load for slice values. The caller owns the returned slice.
func LoadSlice[E any](ctx context.Context, c *Chain, key string, load func(ctx context.Context) ([]E, error)) ([]E, error) {
	s, err := Load(ctx, c, key, load)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s), nil
}

// decode converts a cached value into T. L1 holds typed values; serializing
// layers return json.RawMessage.
func decode[T any](v interface{}) (T, error) {
	var out T
	if t, ok := v.(T); ok {
		return t, nil
	}

	var raw []byte
	switch x := v.(type) {
	case json.RawMessage:
		raw = x
	case []byte:
		raw = x
	default:
		return out, fmt.Errorf("%w: unexpected type %T", cache.ErrInvalidValue, v)
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %v", cache.ErrInvalidValue, err)
	}
	return out, nil
}

// Close closes all layers in the chain.
func (c *Chain) Close() error {
	var errs []error
	for _, layer := range c.layers {
		if err := layer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of layers in the chain.
func (c *Chain) Len() int {
	return len(c.layers)
}

// String returns a string representation of the chain.
func (c *Chain) String() string {
	names := make([]string, len(c.layers))
	for i, layer := range c.layers {
		names[i] = layer.Name()
	}
	return fmt.Sprintf("chain(%d layers): %s", len(c.layers), strings.Join(names, " -> "))
}
