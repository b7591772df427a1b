package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"txflow/pkg/cache"
)

// MockLayer is a mock implementation of CacheLayer for testing.
// It allows injecting custom behavior for each method and tracks call counts.
// Without hooks it behaves like a plain map.
type MockLayer struct {
	// Function hooks - set these to customize behavior
	GetFunc    func(ctx context.Context, key string) (interface{}, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteFunc func(ctx context.Context, key string) error

	name string

	mu   sync.Mutex
	data map[string]interface{}

	getCalls    int64
	setCalls    int64
	deleteCalls int64
	closeCalls  int64
}

// NewMockLayer creates a new MockLayer backed by a map.
func NewMockLayer(name string) *MockLayer {
	return &MockLayer{
		name: name,
		data: make(map[string]interface{}),
	}
}

// Get implements CacheLayer.Get.
func (m *MockLayer) Get(ctx context.Context, key string) (interface{}, error) {
	atomic.AddInt64(&m.getCalls, 1)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, cache.ErrKeyNotFound
	}
	return v, nil
}

// Set implements CacheLayer.Set.
func (m *MockLayer) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	atomic.AddInt64(&m.setCalls, 1)
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Delete implements CacheLayer.Delete.
func (m *MockLayer) Delete(ctx context.Context, key string) error {
	atomic.AddInt64(&m.deleteCalls, 1)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Name implements CacheLayer.Name.
func (m *MockLayer) Name() string {
	return m.name
}

// Close implements CacheLayer.Close.
func (m *MockLayer) Close() error {
	atomic.AddInt64(&m.closeCalls, 1)
	return nil
}

// Has reports whether the backing map holds key (ignores hooks).
func (m *MockLayer) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// GetCalls returns the number of Get calls (thread-safe).
func (m *MockLayer) GetCalls() int { return int(atomic.LoadInt64(&m.getCalls)) }

// SetCalls returns the number of Set calls (thread-safe).
func (m *MockLayer) SetCalls() int { return int(atomic.LoadInt64(&m.setCalls)) }

// DeleteCalls returns the number of Delete calls (thread-safe).
func (m *MockLayer) DeleteCalls() int { return int(atomic.LoadInt64(&m.deleteCalls)) }

// CloseCalls returns the number of Close calls (thread-safe).
func (m *MockLayer) CloseCalls() int { return int(atomic.LoadInt64(&m.closeCalls)) }
