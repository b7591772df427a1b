package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestMaskAccount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"08011112222", "*******2222"},
		{"1234", "****"},
		{"12", "**"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := MaskAccount(tt.in); got != tt.want {
				t.Errorf("MaskAccount(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"bogus", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("TXFLOW_LOG_LEVEL", "debug")
	t.Setenv("TXFLOW_LOG_DEV", "true")

	cfg := ApplyEnv(DefaultConfig())
	if cfg.Level != "debug" {
		t.Errorf("Expected level debug, got %s", cfg.Level)
	}
	if !cfg.Development {
		t.Error("Expected development mode")
	}
	if cfg.Format != "console" {
		t.Errorf("Expected console format in dev mode, got %s", cfg.Format)
	}
}

func TestSetGlobalNil(t *testing.T) {
	SetGlobal(nil)
	if L() == nil {
		t.Fatal("global logger should never be nil")
	}
}
