package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"txflow/pkg/balance"
	"txflow/pkg/chain"
	"txflow/pkg/logging"
	"txflow/pkg/metrics"
	metricsmemory "txflow/pkg/metrics/memory"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// BreakerState reports the state of a circuit breaker. *resilience.Breaker
// implements it.
type BreakerState interface {
	Name() string
	State() metrics.CircuitState
}

// Server provides HTTP endpoints for health and monitoring of the client.
type Server struct {
	chain    *chain.Chain
	breaker  BreakerState
	guard    *balance.Guard
	memory   *metricsmemory.MemoryCollector
	gatherer prometheus.Gatherer
	server   *http.Server
	config   ServerConfig
	started  time.Time
	logger   *logging.Logger
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":9090")
	Address string `yaml:"address"`

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout for HTTP responses
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":9090",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Option configures optional sources of a Server.
type Option func(*Server)

// WithBreaker reports b in /health and /status.
func WithBreaker(b BreakerState) Option {
	return func(s *Server) { s.breaker = b }
}

// WithGuard reports the wallet snapshot age in /status.
func WithGuard(g *balance.Guard) Option {
	return func(s *Server) { s.guard = g }
}

// WithMemoryMetrics serves the collector's snapshot at /metrics/json.
func WithMemoryMetrics(mc *metricsmemory.MemoryCollector) Option {
	return func(s *Server) { s.memory = mc }
}

// WithGatherer serves g in Prometheus text format at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates a new status server.
func NewServer(c *chain.Chain, config ServerConfig, opts ...Option) *Server {
	s := &Server{
		chain:   c,
		config:  config,
		started: time.Now(),
		logger:  logging.L().Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/metrics/json", s.handleMetricsJSON).Methods(http.MethodGet)
	r.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server failed", zap.Error(err))
		}
	}()
	s.logger.Info("status server listening", zap.String("address", s.config.Address))
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth reports unhealthy while the backend circuit is open.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if s.breaker != nil && s.breaker.State() == metrics.CircuitOpen {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Unix(),
	})
}

// handleStatus returns detailed status information.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "running",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).String(),
	}
	if s.breaker != nil {
		response["circuit"] = map[string]string{
			"name":  s.breaker.Name(),
			"state": s.breaker.State().String(),
		}
	}
	if s.guard != nil {
		if snap, ok := s.guard.Snapshot(); ok {
			response["wallet_fetched_at"] = snap.FetchedAt.Unix()
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// handleMetricsJSON returns the in-memory metrics snapshot.
func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": "in-memory metrics are not enabled",
		})
		return
	}
	writeJSON(w, http.StatusOK, s.memory.Snapshot())
}

// handleCacheStats describes the cache chain.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"timestamp": time.Now().Unix(),
	}
	if s.chain != nil {
		response["layers"] = s.chain.Len()
		response["chain"] = s.chain.String()
	}

	writeJSON(w, http.StatusOK, response)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
