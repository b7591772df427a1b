package chain

import (
	"testing"
	"time"
)

func TestUniformTTLStrategy(t *testing.T) {
	s := UniformTTLStrategy{}
	for i := 0; i < 3; i++ {
		if got := s.GetTTL(i, 3, time.Minute); got != time.Minute {
			t.Errorf("layer %d: expected 1m, got %v", i, got)
		}
	}
}

func TestDecayingTTLStrategy(t *testing.T) {
	tests := []struct {
		name     string
		factor   float64
		index    int
		layers   int
		expected time.Duration
	}{
		{"L1 of 3", 0.5, 0, 3, 15 * time.Second},
		{"L2 of 3", 0.5, 1, 3, 30 * time.Second},
		{"last layer", 0.5, 2, 3, time.Minute},
		{"single layer", 0.5, 0, 1, time.Minute},
		{"invalid factor", 1.5, 0, 3, time.Minute},
		{"zero factor", 0, 0, 3, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DecayingTTLStrategy{DecayFactor: tt.factor}
			if got := s.GetTTL(tt.index, tt.layers, time.Minute); got != tt.expected {
				t.Errorf("GetTTL(%d, %d) = %v, want %v", tt.index, tt.layers, got, tt.expected)
			}
		})
	}
}
