package prometheus

import (
	"strconv"
	"time"

	"txflow/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements MetricsCollector for Prometheus.
type PrometheusCollector struct {
	namespace string

	// Cache
	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	cacheSets     *prometheus.CounterVec
	cacheDeletes  *prometheus.CounterVec
	cacheErrors   *prometheus.CounterVec
	getLatency    *prometheus.HistogramVec
	invalidations *prometheus.CounterVec

	// Circuit breaker
	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	// Workflow
	quotes         *prometheus.CounterVec
	quoteLatency   *prometheus.HistogramVec
	confirms       *prometheus.CounterVec
	confirmLatency *prometheus.HistogramVec
	transitions    *prometheus.CounterVec
	balanceChecks  *prometheus.CounterVec
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	requestBuckets := prometheus.ExponentialBuckets(0.005, 2, 12) // 5ms to ~10s

	return &PrometheusCollector{
		namespace: namespace,
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits per layer",
			},
			[]string{"layer"},
		),
		cacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses per layer",
			},
			[]string{"layer"},
		),
		cacheSets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_sets_total",
				Help:      "Total number of cache set operations per layer",
			},
			[]string{"layer"},
		),
		cacheDeletes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_deletes_total",
				Help:      "Total number of cache delete operations per layer",
			},
			[]string{"layer"},
		),
		cacheErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_errors_total",
				Help:      "Total number of cache errors per layer and operation",
			},
			[]string{"layer", "operation"},
		),
		getLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_get_duration_seconds",
				Help:      "Cache get operation latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"layer"},
		),
		invalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidations_total",
				Help:      "Total number of workflow-triggered invalidations per resource",
			},
			[]string{"resource"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens",
			},
			[]string{"name"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		quotes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quotes_total",
				Help:      "Total number of initiate calls per category and outcome",
			},
			[]string{"category", "outcome"},
		),
		quoteLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "quote_duration_seconds",
				Help:      "Initiate call latency",
				Buckets:   requestBuckets,
			},
			[]string{"category"},
		),
		confirms: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "confirms_total",
				Help:      "Total number of confirm calls per category and outcome",
			},
			[]string{"category", "outcome"},
		),
		confirmLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "confirm_duration_seconds",
				Help:      "Confirm call latency",
				Buckets:   requestBuckets,
			},
			[]string{"category"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_transitions_total",
				Help:      "Total number of transaction session state transitions",
			},
			[]string{"from", "to"},
		),
		balanceChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "balance_checks_total",
				Help:      "Total number of advisory balance checks per phase and result",
			},
			[]string{"phase", "sufficient"},
		),
	}
}

// Describe implements prometheus.Collector.
func (pc *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range pc.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (pc *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	for _, c := range pc.collectors() {
		c.Collect(ch)
	}
}

// Register registers all metrics with the given Prometheus registerer.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	for _, collector := range pc.collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

func (pc *PrometheusCollector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		pc.cacheHits,
		pc.cacheMisses,
		pc.cacheSets,
		pc.cacheDeletes,
		pc.cacheErrors,
		pc.getLatency,
		pc.invalidations,
		pc.circuitOpens,
		pc.circuitState,
		pc.quotes,
		pc.quoteLatency,
		pc.confirms,
		pc.confirmLatency,
		pc.transitions,
		pc.balanceChecks,
	}
}

// RecordGet records a cache get operation.
func (pc *PrometheusCollector) RecordGet(layer string, hit bool, duration time.Duration) {
	if hit {
		pc.cacheHits.WithLabelValues(layer).Inc()
	} else {
		pc.cacheMisses.WithLabelValues(layer).Inc()
	}
	pc.getLatency.WithLabelValues(layer).Observe(duration.Seconds())
}

// RecordSet records a cache set operation.
func (pc *PrometheusCollector) RecordSet(layer string, success bool, duration time.Duration) {
	pc.cacheSets.WithLabelValues(layer).Inc()
	if !success {
		pc.cacheErrors.WithLabelValues(layer, "set").Inc()
	}
}

// RecordDelete records a cache delete operation.
func (pc *PrometheusCollector) RecordDelete(layer string, success bool, duration time.Duration) {
	pc.cacheDeletes.WithLabelValues(layer).Inc()
	if !success {
		pc.cacheErrors.WithLabelValues(layer, "delete").Inc()
	}
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(name).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(name).Inc()
	}
}

// RecordQuote records an initiate call.
func (pc *PrometheusCollector) RecordQuote(category, outcome string, duration time.Duration) {
	pc.quotes.WithLabelValues(category, outcome).Inc()
	pc.quoteLatency.WithLabelValues(category).Observe(duration.Seconds())
}

// RecordConfirm records a confirm call.
func (pc *PrometheusCollector) RecordConfirm(category, outcome string, duration time.Duration) {
	pc.confirms.WithLabelValues(category, outcome).Inc()
	pc.confirmLatency.WithLabelValues(category).Observe(duration.Seconds())
}

// RecordTransition records a session state transition.
func (pc *PrometheusCollector) RecordTransition(from, to string) {
	pc.transitions.WithLabelValues(from, to).Inc()
}

// RecordBalanceCheck records an advisory balance check.
func (pc *PrometheusCollector) RecordBalanceCheck(phase string, sufficient bool) {
	pc.balanceChecks.WithLabelValues(phase, strconv.FormatBool(sufficient)).Inc()
}

// RecordInvalidation records a cache invalidation triggered by the workflow.
func (pc *PrometheusCollector) RecordInvalidation(resource string) {
	pc.invalidations.WithLabelValues(resource).Inc()
}
