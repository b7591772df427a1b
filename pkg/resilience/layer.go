package resilience

import (
	"context"
	"errors"
	"time"

	"txflow/pkg/cache"
	"txflow/pkg/metrics"
)

// ResilientLayer wraps a CacheLayer with a Breaker so an unreachable shared
// cache (e.g. Redis) degrades to a miss instead of stalling the workflow.
type ResilientLayer struct {
	layer   cache.CacheLayer
	breaker *Breaker
	metrics metrics.MetricsCollector
}

// NewResilientLayer creates a new resilient layer wrapper around the given cache layer.
func NewResilientLayer(layer cache.CacheLayer, config ResilientConfig, mc metrics.MetricsCollector) *ResilientLayer {
	if mc == nil {
		mc = metrics.NoOpCollector{}
	}
	// Misses are a healthy answer from the layer.
	config.IsSuccessful = func(err error) bool {
		return err == nil || cache.IsNotFound(err)
	}
	return &ResilientLayer{
		layer:   layer,
		breaker: NewBreaker("cache-"+layer.Name(), config, mc),
		metrics: mc,
	}
}

// Name returns the name of the underlying cache layer.
func (rl *ResilientLayer) Name() string {
	return rl.layer.Name()
}

// Get retrieves a value with timeout and circuit breaker protection.
func (rl *ResilientLayer) Get(ctx context.Context, key string) (interface{}, error) {
	start := time.Now()
	value, err := rl.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return rl.layer.Get(ctx, key)
	})
	rl.metrics.RecordGet(rl.layer.Name(), err == nil, time.Since(start))
	return value, rl.translate(err, "get")
}

// Set stores a value with timeout and circuit breaker protection.
func (rl *ResilientLayer) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	_, err := rl.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, rl.layer.Set(ctx, key, value, ttl)
	})
	rl.metrics.RecordSet(rl.layer.Name(), err == nil, time.Since(start))
	return rl.translate(err, "set")
}

// Delete removes a value with timeout and circuit breaker protection.
func (rl *ResilientLayer) Delete(ctx context.Context, key string) error {
	start := time.Now()
	_, err := rl.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, rl.layer.Delete(ctx, key)
	})
	rl.metrics.RecordDelete(rl.layer.Name(), err == nil, time.Since(start))
	return rl.translate(err, "delete")
}

// DeleteMulti removes keys as one protected call, batched when the
// underlying layer supports it.
func (rl *ResilientLayer) DeleteMulti(ctx context.Context, keys []string) error {
	start := time.Now()
	_, err := rl.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, cache.DeleteMulti(ctx, rl.layer, keys)
	})
	for range keys {
		rl.metrics.RecordDelete(rl.layer.Name(), err == nil, time.Since(start))
	}
	return rl.translate(err, "delete")
}

// Close closes the underlying cache layer.
func (rl *ResilientLayer) Close() error {
	return rl.layer.Close()
}

func (rl *ResilientLayer) translate(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCircuitOpen):
		return cache.WrapError(cache.ErrCircuitOpen, rl.layer.Name(), op)
	case errors.Is(err, ErrTimeout):
		return cache.WrapError(cache.ErrTimeout, rl.layer.Name(), op)
	default:
		return err
	}
}
