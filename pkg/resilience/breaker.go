package resilience

import (
	"context"
	"errors"
	"time"

	"txflow/pkg/logging"
	"txflow/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	// ErrCircuitOpen is returned when the breaker rejects a call without running it.
	ErrCircuitOpen = errors.New("resilience: circuit breaker open")

	// ErrTimeout is returned when the operation exceeded the configured timeout.
	ErrTimeout = errors.New("resilience: operation timeout")
)

// Breaker runs operations through a circuit breaker with an optional
// per-operation timeout. It never retries.
type Breaker struct {
	name    string
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// NewBreaker creates a breaker named after the dependency it protects.
func NewBreaker(name string, config ResilientConfig, mc metrics.MetricsCollector) *Breaker {
	if mc == nil {
		mc = metrics.NoOpCollector{}
	}
	logger := logging.L().Named("resilience").Named(name)

	b := &Breaker{
		name:    name,
		timeout: config.Timeout,
		metrics: mc,
		logger:  logger,
	}

	cbConfig := config.CircuitBreakerConfig
	threshold := cbConfig.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}

	settings := gobreaker.Settings{
		Name:         name,
		MaxRequests:  cbConfig.MaxRequests,
		Interval:     cbConfig.Interval,
		Timeout:      cbConfig.Timeout,
		IsSuccessful: config.IsSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cbConfig.ReadyToTrip != nil {
				return cbConfig.ReadyToTrip(Counts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				})
			}
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			b.metrics.RecordCircuitState(name, toCircuitState(to))
		},
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)

	logger.Debug("breaker initialized",
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", cbConfig.MaxRequests),
		zap.Duration("circuit_timeout", cbConfig.Timeout),
	)

	return b
}

func toCircuitState(s gobreaker.State) metrics.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// Name returns the name of the protected dependency.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current breaker state.
func (b *Breaker) State() metrics.CircuitState {
	return toCircuitState(b.cb.State())
}

// Execute runs fn through the breaker. The context passed to fn carries the
// configured timeout. Open-state rejections return ErrCircuitOpen and
// deadline expiries return ErrTimeout wrapped around the cause.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err == nil {
		return result, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.Warn("circuit breaker open - request rejected")
		return nil, ErrCircuitOpen
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		b.logger.Warn("operation timeout", zap.Duration("timeout", b.timeout))
		return result, errors.Join(ErrTimeout, err)
	}
	return result, err
}
