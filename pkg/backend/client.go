package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"txflow/pkg/logging"
	"txflow/pkg/metrics"
	"txflow/pkg/resilience"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	// IdempotencyHeader carries a key that is stable across confirm retries
	// of the same session.
	IdempotencyHeader = "X-Idempotency-Key"

	maxResponseBytes = 1 << 20
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenSourceFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// UnauthorizedHandler is notified of a 401 so the credential owner can
// invalidate its token.
type UnauthorizedHandler func(ctx context.Context)

// Config configures a Client.
type Config struct {
	// BaseURL of the backend API, without a trailing slash.
	BaseURL string

	// HTTPClient defaults to a client without timeout; per-request timeouts
	// come from Resilience.Timeout.
	HTTPClient *http.Client

	Tokens         TokenSource
	OnUnauthorized UnauthorizedHandler

	// Resilience configures the breaker around every request.
	Resilience resilience.ResilientConfig

	// ReadRetries is the number of retries of a failed GET. Mutations are
	// never retried.
	ReadRetries uint64

	// RetryInitialInterval is the first backoff interval between GET retries.
	RetryInitialInterval time.Duration

	Metrics metrics.MetricsCollector
}

// DefaultConfig returns a config for baseURL with default resilience settings.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:              baseURL,
		Resilience:           resilience.DefaultResilientConfig(),
		ReadRetries:          2,
		RetryInitialInterval: 200 * time.Millisecond,
	}
}

// Client talks to the transaction backend.
type Client struct {
	baseURL        string
	http           *http.Client
	tokens         TokenSource
	onUnauthorized UnauthorizedHandler
	breaker        *resilience.Breaker
	readRetries    uint64
	retryInterval  time.Duration
	logger         *logging.Logger
}

// NewClient creates a backend client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("backend: base URL required")
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.RetryInitialInterval <= 0 {
		config.RetryInitialInterval = 200 * time.Millisecond
	}

	rc := config.Resilience.WithIsSuccessful(healthy)

	return &Client{
		baseURL:        strings.TrimRight(config.BaseURL, "/"),
		http:           config.HTTPClient,
		tokens:         config.Tokens,
		onUnauthorized: config.OnUnauthorized,
		breaker:        resilience.NewBreaker("backend", rc, config.Metrics),
		readRetries:    config.ReadRetries,
		retryInterval:  config.RetryInitialInterval,
		logger:         logging.L().Named("backend"),
	}, nil
}

// Breaker exposes the circuit breaker guarding the backend.
func (c *Client) Breaker() *resilience.Breaker {
	return c.breaker
}

type request struct {
	op     string
	method string
	path   string
	body   interface{}
	header http.Header
}

// call sends req through the breaker. GETs are retried with exponential
// backoff on transport failures and 5xx responses.
func (c *Client) call(ctx context.Context, req request) (*envelope, error) {
	var payload []byte
	if req.body != nil {
		var err error
		payload, err = json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("backend: %s: encode request: %w", req.op, err)
		}
	}

	if req.method != http.MethodGet || c.readRetries == 0 {
		return c.roundTrip(ctx, req, payload)
	}

	var env *envelope
	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(backoff.WithInitialInterval(c.retryInterval)),
			c.readRetries,
		),
		ctx,
	)
	err := backoff.Retry(func() error {
		e, err := c.roundTrip(ctx, req, payload)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			c.logger.Debug("retrying read", zap.String("op", req.op), zap.Error(err))
			return err
		}
		env = e
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (c *Client) roundTrip(ctx context.Context, req request, payload []byte) (*envelope, error) {
	v, err := c.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return c.send(ctx, req, payload)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) && !IsNetwork(err) {
			return nil, &NetworkError{Op: req.op, Err: err}
		}
		if errors.Is(err, resilience.ErrTimeout) && !IsNetwork(err) {
			return nil, &NetworkError{Op: req.op, Err: err}
		}
		return nil, err
	}
	return v.(*envelope), nil
}

func (c *Client) send(ctx context.Context, req request, payload []byte) (*envelope, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: %w", req.op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range req.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("backend: %s: token: %w", req.op, err)
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Op: req.op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{Op: req.op, Err: err}
	}

	c.logger.Debug("backend response",
		zap.String("op", req.op),
		zap.String("method", req.method),
		zap.String("path", req.path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode == http.StatusUnauthorized {
		if c.onUnauthorized != nil {
			c.onUnauthorized(ctx)
		}
		return nil, fmt.Errorf("%s: %w", req.op, ErrUnauthorized)
	}

	var env envelope
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &env); err != nil {
			if resp.StatusCode < 300 {
				return nil, malformed(req.op, "envelope", err)
			}
			return nil, &APIError{
				Op:         req.op,
				StatusCode: resp.StatusCode,
				Message:    "malformed response body",
			}
		}
	} else if resp.StatusCode < 300 {
		// Empty 2xx bodies (e.g. 204 on delete) are a success.
		env.Success = true
	}

	if resp.StatusCode >= 300 || !env.Success {
		return nil, &APIError{
			Op:         req.op,
			StatusCode: resp.StatusCode,
			Code:       env.Code,
			Message:    env.Message,
			Fields:     env.Errors,
		}
	}
	return &env, nil
}
