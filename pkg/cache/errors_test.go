package cache

import (
	"errors"
	"testing"
)

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"ErrKeyNotFound", ErrKeyNotFound, true},
		{"wrapped ErrKeyNotFound", WrapError(ErrKeyNotFound, "L1", "get"), true},
		{"other error", ErrInvalidKey, false},
		{"nil error", nil, false},
		{"custom error", errors.New("custom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := IsNotFound(tt.err); result != tt.expected {
				t.Errorf("IsNotFound(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestIsTimeoutAndCircuitOpen(t *testing.T) {
	if !IsTimeout(WrapError(ErrTimeout, "redis", "set")) {
		t.Error("wrapped ErrTimeout should be a timeout")
	}
	if IsTimeout(errors.New("network timeout")) {
		t.Error("plain error should not be a timeout")
	}
	if !IsCircuitOpen(WrapError(ErrCircuitOpen, "redis", "get")) {
		t.Error("wrapped ErrCircuitOpen should be circuit open")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, "none"},
		{"circuit open", ErrCircuitOpen, "circuit_breaker_open"},
		{"timeout", WrapError(ErrTimeout, "L2", "get"), "timeout"},
		{"not found", ErrKeyNotFound, "key_not_found"},
		{"invalid key", ErrInvalidKey, "invalid_key"},
		{"invalid value", ErrInvalidValue, "invalid_value"},
		{"connection", errors.New("dial tcp: Connection refused"), "connection"},
		{"serialization", errors.New("json: cannot unmarshal"), "serialization"},
		{"backend", errors.New("redis: READONLY"), "backend"},
		{"other", errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.expected {
				t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestWrapError(t *testing.T) {
	if WrapError(nil, "L1", "get") != nil {
		t.Error("WrapError(nil) should return nil")
	}

	err := WrapError(ErrKeyNotFound, "L1", "get")
	if err.Error() != "cache layer L1 get: cache: key not found" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, ErrKeyNotFound) {
		t.Error("WrapError should preserve original error for errors.Is()")
	}
}
