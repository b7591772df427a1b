package metrics

import (
	"time"
)

// MetricsCollector defines the interface for collecting workflow and cache metrics.
// Implementations can export metrics to various backends (Prometheus, in-memory for tests).
type MetricsCollector interface {
	// Cache operations
	RecordGet(layer string, hit bool, duration time.Duration)
	RecordSet(layer string, success bool, duration time.Duration)
	RecordDelete(layer string, success bool, duration time.Duration)

	// Circuit breaker around the backend transport
	RecordCircuitState(name string, state CircuitState)

	// Transaction workflow. outcome is "success" or an error class label.
	RecordQuote(category string, outcome string, duration time.Duration)
	RecordConfirm(category string, outcome string, duration time.Duration)
	RecordTransition(from, to string)
	RecordBalanceCheck(phase string, sufficient bool)
	RecordInvalidation(resource string)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the service has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is a no-op implementation of MetricsCollector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

func (NoOpCollector) RecordGet(layer string, hit bool, duration time.Duration)        {}
func (NoOpCollector) RecordSet(layer string, success bool, duration time.Duration)    {}
func (NoOpCollector) RecordDelete(layer string, success bool, duration time.Duration) {}
func (NoOpCollector) RecordCircuitState(name string, state CircuitState)              {}
func (NoOpCollector) RecordQuote(category, outcome string, duration time.Duration)    {}
func (NoOpCollector) RecordConfirm(category, outcome string, duration time.Duration)  {}
func (NoOpCollector) RecordTransition(from, to string)                                {}
func (NoOpCollector) RecordBalanceCheck(phase string, sufficient bool)                {}
func (NoOpCollector) RecordInvalidation(resource string)                              {}
