package chain

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"txflow/pkg/cache"
	"txflow/pkg/cache/mock"
)

type balance struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

func newTestChain(t *testing.T, layers ...cache.CacheLayer) *Chain {
	t.Helper()
	c, err := New(Config{TTL: time.Minute}, layers...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		layers      []cache.CacheLayer
		expectError bool
		expectedLen int
	}{
		{"empty layers", nil, true, 0},
		{"single layer", []cache.CacheLayer{mock.NewMockLayer("L1")}, false, 1},
		{"two layers", []cache.CacheLayer{mock.NewMockLayer("L1"), mock.NewMockLayer("L2")}, false, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(Config{}, tt.layers...)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if c.Len() != tt.expectedLen {
				t.Errorf("Expected length %d, got %d", tt.expectedLen, c.Len())
			}
		})
	}
}

func TestChain_Get_L2HitWarmsL1(t *testing.T) {
	l1 := mock.NewMockLayer("L1")
	l2 := mock.NewMockLayer("L2")
	l2.Set(context.Background(), "k", "from-l2", 0)

	c := newTestChain(t, l1, l2)

	value, err := c.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != "from-l2" {
		t.Errorf("Expected 'from-l2', got %v", value)
	}
	if !l1.Has("k") {
		t.Error("L1 should be warmed after an L2 hit")
	}
}

func TestChain_Get_AllMiss(t *testing.T) {
	c := newTestChain(t, mock.NewMockLayer("L1"), mock.NewMockLayer("L2"))

	_, err := c.Get(context.Background(), "missing")
	if !cache.IsNotFound(err) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

func TestChain_Get_SkipsFailingLayer(t *testing.T) {
	l1 := mock.NewMockLayer("L1")
	l1.GetFunc = func(ctx context.Context, key string) (interface{}, error) {
		return nil, errors.New("redis: connection refused")
	}
	l2 := mock.NewMockLayer("L2")
	l2.Set(context.Background(), "k", "v", 0)

	c := newTestChain(t, l1, l2)
	value, err := c.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != "v" {
		t.Errorf("Expected 'v', got %v", value)
	}
}

func TestLoad_MissThenHit(t *testing.T) {
	l1 := mock.NewMockLayer("L1")
	c := newTestChain(t, l1)

	var calls int32
	loader := func(ctx context.Context) (balance, error) {
		atomic.AddInt32(&calls, 1)
		return balance{Currency: "NGN", Amount: "500"}, nil
	}

	for i := 0; i < 3; i++ {
		b, err := Load(context.Background(), c, "wallet", loader)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if b.Amount != "500" {
			t.Errorf("Expected 500, got %s", b.Amount)
		}
	}

	if calls != 1 {
		t.Errorf("Expected loader to run once, ran %d times", calls)
	}
}

func TestLoad_ErrorNotCached(t *testing.T) {
	c := newTestChain(t, mock.NewMockLayer("L1"))

	boom := errors.New("backend down")
	_, err := Load(context.Background(), c, "wallet", func(ctx context.Context) (balance, error) {
		return balance{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected loader error, got %v", err)
	}

	b, err := Load(context.Background(), c, "wallet", func(ctx context.Context) (balance, error) {
		return balance{Amount: "1"}, nil
	})
	if err != nil || b.Amount != "1" {
		t.Errorf("Expected reload after error, got %v %v", b, err)
	}
}

func TestLoad_DecodesSerializedLayer(t *testing.T) {
	l1 := mock.NewMockLayer("L1")
	l1.GetFunc = func(ctx context.Context, key string) (interface{}, error) {
		return json.RawMessage(`{"currency":"NGN","amount":"750"}`), nil
	}
	c := newTestChain(t, l1)

	b, err := Load(context.Background(), c, "wallet", func(ctx context.Context) (balance, error) {
		t.Error("loader should not run on a decodable hit")
		return balance{}, nil
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if b.Amount != "750" {
		t.Errorf("Expected 750, got %s", b.Amount)
	}
}

func TestLoad_UndecodableEntryReloads(t *testing.T) {
	l1 := mock.NewMockLayer("L1")
	l1.Set(context.Background(), "wallet", 42, 0)
	c := newTestChain(t, l1)

	b, err := Load(context.Background(), c, "wallet", func(ctx context.Context) (balance, error) {
		return balance{Amount: "9"}, nil
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if b.Amount != "9" {
		t.Errorf("Expected reload, got %+v", b)
	}
}

func TestLoadSlice_ReturnsCopies(t *testing.T) {
	c := newTestChain(t, mock.NewMockLayer("L1"))
	loader := func(ctx context.Context) ([]balance, error) {
		return []balance{{Currency: "NGN", Amount: "500"}, {Currency: "USD", Amount: "3"}}, nil
	}

	first, err := LoadSlice(context.Background(), c, "wallet", loader)
	if err != nil {
		t.Fatalf("LoadSlice failed: %v", err)
	}
	first[0].Amount = "0"

	second, err := LoadSlice(context.Background(), c, "wallet", loader)
	if err != nil {
		t.Fatalf("LoadSlice failed: %v", err)
	}
	if second[0].Amount != "500" {
		t.Errorf("Expected cached value to be untouched, got %s", second[0].Amount)
	}
}

func TestLoad_CoalescesConcurrentLoads(t *testing.T) {
	c := newTestChain(t, mock.NewMockLayer("L1"))

	var calls int32
	release := make(chan struct{})
	loader := func(ctx context.Context) (balance, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return balance{Amount: "1"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := Load(context.Background(), c, "wallet", loader); err != nil {
				t.Errorf("Load failed: %v", err)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Errorf("Expected a single backend load, got %d", calls)
	}
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	l1 := mock.NewMockLayer("L1")
	l2 := mock.NewMockLayer("L2")
	c := newTestChain(t, l1, l2)

	amount := "500"
	loader := func(ctx context.Context) (balance, error) {
		return balance{Amount: amount}, nil
	}

	Load(context.Background(), c, "wallet", loader)
	amount = "300"

	if err := c.Invalidate(context.Background(), "wallet"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if l1.Has("wallet") || l2.Has("wallet") {
		t.Error("Invalidate should remove the key from every layer")
	}

	b, _ := Load(context.Background(), c, "wallet", loader)
	if b.Amount != "300" {
		t.Errorf("Expected refetched 300, got %s", b.Amount)
	}
}

func TestInvalidate_MultipleKeys(t *testing.T) {
	l1 := mock.NewMockLayer("L1")
	l2 := mock.NewMockLayer("L2")
	c := newTestChain(t, l1, l2)
	ctx := context.Background()

	for _, key := range []string{"wallet", "beneficiaries:airtime"} {
		if err := c.Set(ctx, key, balance{Amount: "1"}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	if err := c.Invalidate(ctx, "wallet", "beneficiaries:airtime"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	for _, l := range []*mock.MockLayer{l1, l2} {
		if l.Has("wallet") || l.Has("beneficiaries:airtime") {
			t.Errorf("Expected %s to drop both keys", l.Name())
		}
	}
}

func TestInvalidate_DuringLoadSkipsFill(t *testing.T) {
	l1 := mock.NewMockLayer("L1")
	c := newTestChain(t, l1)

	b, err := Load(context.Background(), c, "wallet", func(ctx context.Context) (balance, error) {
		c.Invalidate(ctx, "wallet")
		return balance{Amount: "stale"}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.Amount != "stale" {
		t.Errorf("Caller should still receive the loaded value, got %s", b.Amount)
	}
	if l1.Has("wallet") {
		t.Error("A value loaded across an invalidation must not be cached")
	}
}

func TestChain_String(t *testing.T) {
	c := newTestChain(t, mock.NewMockLayer("L1"), mock.NewMockLayer("L2"))
	if got := c.String(); got != "chain(2 layers): L1 -> L2" {
		t.Errorf("Unexpected String(): %q", got)
	}
}
