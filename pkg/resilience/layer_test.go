package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"txflow/pkg/cache"
	"txflow/pkg/cache/memory"
	"txflow/pkg/cache/mock"
	metricsmem "txflow/pkg/metrics/memory"
)

func TestResilientLayer_SetGetDelete(t *testing.T) {
	mc := metricsmem.NewMemoryCollector()
	memCache := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "test"})
	rl := NewResilientLayer(memCache, DefaultResilientConfig(), mc)
	defer rl.Close()

	ctx := context.Background()

	if err := rl.Set(ctx, "key1", "value1", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := rl.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != "value1" {
		t.Errorf("Expected 'value1', got '%v'", val)
	}

	if err := rl.Delete(ctx, "key1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := rl.Get(ctx, "key1"); !cache.IsNotFound(err) {
		t.Errorf("Expected ErrKeyNotFound after delete, got %v", err)
	}

	lm := mc.Snapshot().Layers["test"]
	if lm.Hits != 1 || lm.Misses != 1 || lm.Sets != 1 || lm.Deletes != 1 {
		t.Errorf("Unexpected layer metrics: %+v", lm)
	}
}

func TestResilientLayer_CacheMissDoesNotTripCircuit(t *testing.T) {
	memCache := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "test"})

	config := DefaultResilientConfig()
	config.CircuitBreakerConfig.ReadyToTrip = func(counts Counts) bool {
		return counts.TotalFailures >= 3
	}
	rl := NewResilientLayer(memCache, config, nil)
	defer rl.Close()

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		_, err := rl.Get(ctx, "nonexistent-key")
		if cache.IsCircuitOpen(err) {
			t.Fatalf("Circuit breaker opened after %d cache misses", i+1)
		}
		if !cache.IsNotFound(err) {
			t.Fatalf("Expected ErrKeyNotFound, got: %v", err)
		}
	}
}

func TestResilientLayer_CircuitBreaker(t *testing.T) {
	failing := mock.NewMockLayer("failing")
	failing.GetFunc = func(ctx context.Context, key string) (interface{}, error) {
		return nil, errors.New("redis: connection refused")
	}

	config := ResilientConfig{
		Timeout: time.Second,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests:         1,
			Timeout:             time.Minute,
			ConsecutiveFailures: 3,
		},
	}
	rl := NewResilientLayer(failing, config, nil)
	defer rl.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := rl.Get(ctx, "key1")
		if err == nil || cache.IsCircuitOpen(err) {
			t.Fatalf("Call %d: expected layer error, got %v", i, err)
		}
	}

	_, err := rl.Get(ctx, "key1")
	if !cache.IsCircuitOpen(err) {
		t.Errorf("Expected circuit open error, got %v", err)
	}
	if failing.GetCalls() != 3 {
		t.Errorf("Expected 3 calls to reach the layer, got %d", failing.GetCalls())
	}
}

func TestResilientLayer_Timeout(t *testing.T) {
	slow := mock.NewMockLayer("slow")
	slow.GetFunc = func(ctx context.Context, key string) (interface{}, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return "value", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	rl := NewResilientLayer(slow, DefaultResilientConfig().WithTimeout(50*time.Millisecond), nil)
	defer rl.Close()

	_, err := rl.Get(context.Background(), "key1")
	if !cache.IsTimeout(err) {
		t.Errorf("Expected timeout error, got %v", err)
	}
}
