package resilience

import (
	"time"
)

// ResilientConfig configures the circuit breaker and timeout applied to a
// dependency (the backend API or a cache layer).
type ResilientConfig struct {
	// Timeout for a single operation. Zero disables the per-operation timeout.
	Timeout time.Duration `yaml:"timeout"`

	// CircuitBreakerConfig configures the circuit breaker behavior
	CircuitBreakerConfig CircuitBreakerConfig `yaml:"circuit_breaker"`

	// IsSuccessful decides whether an error returned by the operation should
	// count as a success for the breaker. Business rejections from a healthy
	// backend (wrong PIN, validation errors) must not trip the breaker.
	// If nil, only a nil error counts as success.
	IsSuccessful func(err error) bool `yaml:"-"`
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the CircuitBreaker is half-open.
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state for the CircuitBreaker
	// to clear the internal counts. If Interval is 0, it never clears.
	Interval time.Duration `yaml:"interval"`

	// Timeout is the period of the open state after which the state becomes half-open.
	Timeout time.Duration `yaml:"timeout"`

	// ConsecutiveFailures trips the breaker when ReadyToTrip is nil.
	ConsecutiveFailures uint32 `yaml:"consecutive_failures"`

	// ReadyToTrip is called with a copy of Counts whenever a request fails.
	ReadyToTrip func(counts Counts) bool `yaml:"-"`
}

// Counts holds the numbers of requests and their successes/failures.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// DefaultResilientConfig returns defaults suited to the backend API: trip
// after 5 consecutive transport failures, probe again after 30s.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Timeout: 15 * time.Second,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests:         1,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
		},
	}
}

// WithTimeout returns a copy of the config with the specified timeout.
func (c ResilientConfig) WithTimeout(timeout time.Duration) ResilientConfig {
	c.Timeout = timeout
	return c
}

// WithIsSuccessful returns a copy of the config with the given success classifier.
func (c ResilientConfig) WithIsSuccessful(fn func(err error) bool) ResilientConfig {
	c.IsSuccessful = fn
	return c
}
