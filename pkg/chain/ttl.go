package chain

import (
	"math"
	"time"
)

// TTLStrategy determines TTL for each layer in the chain.
type TTLStrategy interface {
	// GetTTL returns the TTL for the layer at layerIndex out of numLayers.
	GetTTL(layerIndex, numLayers int, baseTTL time.Duration) time.Duration
}

// UniformTTLStrategy uses the same TTL for all layers.
type UniformTTLStrategy struct{}

// GetTTL returns the base TTL for all layers.
func (UniformTTLStrategy) GetTTL(layerIndex, numLayers int, baseTTL time.Duration) time.Duration {
	return baseTTL
}

// DecayingTTLStrategy shortens TTLs in the faster layers, so an in-process
// copy of a balance goes stale sooner than the shared copy.
type DecayingTTLStrategy struct {
	DecayFactor float64 // e.g. 0.5: each layer has half the TTL of the next
}

// GetTTL returns baseTTL * DecayFactor^(numLayers-1-layerIndex).
// The last layer gets the full baseTTL.
func (s DecayingTTLStrategy) GetTTL(layerIndex, numLayers int, baseTTL time.Duration) time.Duration {
	if s.DecayFactor <= 0 || s.DecayFactor >= 1 || numLayers <= 1 {
		return baseTTL
	}

	exponent := float64(numLayers - 1 - layerIndex)
	if exponent < 0 {
		exponent = 0
	}
	return time.Duration(float64(baseTTL) * math.Pow(s.DecayFactor, exponent))
}
