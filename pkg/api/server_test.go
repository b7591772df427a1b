package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"txflow/pkg/balance"
	"txflow/pkg/cache/memory"
	"txflow/pkg/chain"
	"txflow/pkg/metrics"
	metricsmemory "txflow/pkg/metrics/memory"
	prommetrics "txflow/pkg/metrics/prometheus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

type stubBreaker struct {
	state metrics.CircuitState
}

func (b *stubBreaker) Name() string                { return "backend" }
func (b *stubBreaker) State() metrics.CircuitState { return b.state }

func setupTestServer(t *testing.T, opts ...Option) (*Server, *chain.Chain) {
	l1 := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L1", MaxSize: 100})
	l2 := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L2", MaxSize: 100})

	c, err := chain.New(chain.Config{TTL: time.Minute}, l1, l2)
	if err != nil {
		t.Fatalf("Failed to create chain: %v", err)
	}

	server := NewServer(c, DefaultServerConfig(), opts...)
	return server, c
}

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var response map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode %s: %v", path, err)
		}
	}
	return w, response
}

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name       string
		state      metrics.CircuitState
		wantCode   int
		wantStatus string
	}{
		{"closed", metrics.CircuitClosed, http.StatusOK, "healthy"},
		{"half-open", metrics.CircuitHalfOpen, http.StatusOK, "healthy"},
		{"open", metrics.CircuitOpen, http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, c := setupTestServer(t, WithBreaker(&stubBreaker{state: tt.state}))
			defer c.Close()

			w, response := get(t, server, "/health")
			if w.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, w.Code)
			}
			if response["status"] != tt.wantStatus {
				t.Errorf("Expected status %s, got %v", tt.wantStatus, response["status"])
			}
		})
	}
}

func TestServer_HealthWithoutBreaker(t *testing.T) {
	server, c := setupTestServer(t)
	defer c.Close()

	w, response := get(t, server, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if response["status"] != "healthy" {
		t.Errorf("Expected status healthy, got %v", response["status"])
	}
}

func TestServer_Status(t *testing.T) {
	guard := balance.NewGuard(nil, nil)
	guard.Set(balance.Snapshot{
		Balances:  map[string]decimal.Decimal{"NGN": decimal.NewFromInt(5000)},
		FetchedAt: time.Unix(1700000000, 0),
	})

	server, c := setupTestServer(t, WithBreaker(&stubBreaker{state: metrics.CircuitOpen}), WithGuard(guard))
	defer c.Close()

	w, response := get(t, server, "/status")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if response["status"] != "running" {
		t.Errorf("Expected status running, got %v", response["status"])
	}

	circuit, ok := response["circuit"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected circuit object, got %v", response["circuit"])
	}
	if circuit["state"] != "open" {
		t.Errorf("Expected circuit state open, got %v", circuit["state"])
	}
	if response["wallet_fetched_at"] != float64(1700000000) {
		t.Errorf("Expected wallet_fetched_at 1700000000, got %v", response["wallet_fetched_at"])
	}
}

func TestServer_MetricsJSON(t *testing.T) {
	mc := metricsmemory.NewMemoryCollector()
	mc.RecordConfirm("airtime", "success", time.Millisecond)

	server, c := setupTestServer(t, WithMemoryMetrics(mc))
	defer c.Close()

	w, response := get(t, server, "/metrics/json")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	confirms, ok := response["confirms"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected confirms object, got %v", response["confirms"])
	}
	if confirms["airtime/success"] != float64(1) {
		t.Errorf("Expected 1 successful airtime confirm, got %v", confirms["airtime/success"])
	}
}

func TestServer_MetricsJSONDisabled(t *testing.T) {
	server, c := setupTestServer(t)
	defer c.Close()

	w, _ := get(t, server, "/metrics/json")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_PrometheusMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	pc := prommetrics.NewPrometheusCollector("txflow")
	if err := pc.Register(registry); err != nil {
		t.Fatalf("Failed to register collector: %v", err)
	}
	pc.RecordQuote("airtime", "success", 10*time.Millisecond)

	server, c := setupTestServer(t, WithGatherer(registry))
	defer c.Close()

	w, _ := get(t, server, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `txflow_quotes_total{category="airtime",outcome="success"} 1`) {
		t.Errorf("Expected quote counter in output, got:\n%s", body)
	}
}

func TestServer_MetricsNotRoutedWithoutGatherer(t *testing.T) {
	server, c := setupTestServer(t)
	defer c.Close()

	w, _ := get(t, server, "/metrics")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_CacheStats(t *testing.T) {
	server, c := setupTestServer(t)
	defer c.Close()

	w, response := get(t, server, "/cache/stats")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if response["layers"] != float64(2) {
		t.Errorf("Expected 2 layers, got %v", response["layers"])
	}
	if response["chain"] != "chain(2 layers): L1 -> L2" {
		t.Errorf("Unexpected chain description %v", response["chain"])
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	server, c := setupTestServer(t)
	defer c.Close()

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}
