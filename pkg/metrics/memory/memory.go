package memory

import (
	"sync"
	"time"

	"txflow/pkg/metrics"
)

// MemoryCollector implements MetricsCollector in memory, for tests and
// for the CLI's JSON status output.
type MemoryCollector struct {
	mu sync.RWMutex

	layerMetrics map[string]*LayerMetrics
	circuits     map[string]metrics.CircuitState

	quotes        map[string]int64 // "category/outcome"
	confirms      map[string]int64 // "category/outcome"
	transitions   map[string]int64 // "from->to"
	balanceChecks map[string]int64 // "phase/true|false"
	invalidations map[string]int64
}

// LayerMetrics holds metrics for a single cache layer.
type LayerMetrics struct {
	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
	Errors  int64
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	mc := &MemoryCollector{}
	mc.reset()
	return mc
}

func (mc *MemoryCollector) reset() {
	mc.layerMetrics = make(map[string]*LayerMetrics)
	mc.circuits = make(map[string]metrics.CircuitState)
	mc.quotes = make(map[string]int64)
	mc.confirms = make(map[string]int64)
	mc.transitions = make(map[string]int64)
	mc.balanceChecks = make(map[string]int64)
	mc.invalidations = make(map[string]int64)
}

// layer must be called with mc.mu held.
func (mc *MemoryCollector) layer(name string) *LayerMetrics {
	lm, ok := mc.layerMetrics[name]
	if !ok {
		lm = &LayerMetrics{}
		mc.layerMetrics[name] = lm
	}
	return lm
}

// RecordGet records a cache get operation.
func (mc *MemoryCollector) RecordGet(layer string, hit bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	if hit {
		lm.Hits++
	} else {
		lm.Misses++
	}
}

// RecordSet records a cache set operation.
func (mc *MemoryCollector) RecordSet(layer string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	lm.Sets++
	if !success {
		lm.Errors++
	}
}

// RecordDelete records a cache delete operation.
func (mc *MemoryCollector) RecordDelete(layer string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	lm.Deletes++
	if !success {
		lm.Errors++
	}
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.circuits[name] = state
}

// RecordQuote records an initiate call.
func (mc *MemoryCollector) RecordQuote(category, outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.quotes[category+"/"+outcome]++
}

// RecordConfirm records a confirm call.
func (mc *MemoryCollector) RecordConfirm(category, outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.confirms[category+"/"+outcome]++
}

// RecordTransition records a session state transition.
func (mc *MemoryCollector) RecordTransition(from, to string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.transitions[from+"->"+to]++
}

// RecordBalanceCheck records an advisory balance check.
func (mc *MemoryCollector) RecordBalanceCheck(phase string, sufficient bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	key := phase + "/false"
	if sufficient {
		key = phase + "/true"
	}
	mc.balanceChecks[key]++
}

// RecordInvalidation records a workflow-triggered cache invalidation.
func (mc *MemoryCollector) RecordInvalidation(resource string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.invalidations[resource]++
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	Layers        map[string]LayerMetrics         `json:"layers"`
	Circuits      map[string]metrics.CircuitState `json:"circuits"`
	Quotes        map[string]int64                `json:"quotes"`
	Confirms      map[string]int64                `json:"confirms"`
	Transitions   map[string]int64                `json:"transitions"`
	BalanceChecks map[string]int64                `json:"balance_checks"`
	Invalidations map[string]int64                `json:"invalidations"`
}

// Snapshot returns a copy of the current metrics state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	s := Snapshot{
		Layers:        make(map[string]LayerMetrics, len(mc.layerMetrics)),
		Circuits:      make(map[string]metrics.CircuitState, len(mc.circuits)),
		Quotes:        copyCounts(mc.quotes),
		Confirms:      copyCounts(mc.confirms),
		Transitions:   copyCounts(mc.transitions),
		BalanceChecks: copyCounts(mc.balanceChecks),
		Invalidations: copyCounts(mc.invalidations),
	}
	for name, lm := range mc.layerMetrics {
		s.Layers[name] = *lm
	}
	for name, state := range mc.circuits {
		s.Circuits[name] = state
	}
	return s
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.reset()
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
