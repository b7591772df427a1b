package balance

import (
	"context"
	"maps"
	"sync"
	"time"

	"txflow/pkg/backend"
	"txflow/pkg/cache"
	"txflow/pkg/chain"
	"txflow/pkg/logging"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Snapshot is the last fetched wallet balance per currency.
type Snapshot struct {
	Balances  map[string]decimal.Decimal `json:"balances"`
	FetchedAt time.Time                  `json:"fetchedAt"`
}

// Result is the outcome of an advisory balance check.
type Result struct {
	// Sufficient is false only when the snapshot shows less than the total.
	Sufficient bool
	// Shortfall is total - balance when not Sufficient.
	Shortfall decimal.Decimal
	// Known is false when there is no balance for the currency; such
	// checks pass.
	Known bool
}

// Check compares total against the snapshot's balance for currency. It is a
// pure function of its inputs.
func Check(snap *Snapshot, total decimal.Decimal, currency string) Result {
	if snap == nil {
		return Result{Sufficient: true}
	}
	bal, ok := snap.Balances[currency]
	if !ok {
		return Result{Sufficient: true}
	}
	if bal.GreaterThanOrEqual(total) {
		return Result{Sufficient: true, Known: true}
	}
	return Result{Shortfall: total.Sub(bal), Known: true}
}

// Fetcher fetches wallet balances. *backend.Client implements it.
type Fetcher interface {
	FetchWallet(ctx context.Context) ([]backend.WalletBalance, error)
}

// Guard holds the wallet snapshot and answers advisory checks against it.
// The snapshot is only ever replaced by a fresh fetch.
type Guard struct {
	chain   *chain.Chain
	fetcher Fetcher
	now     func() time.Time
	logger  *logging.Logger

	mu       sync.RWMutex
	snapshot *Snapshot
}

// NewGuard creates a guard loading through c. A nil chain loads directly.
func NewGuard(c *chain.Chain, f Fetcher) *Guard {
	return &Guard{
		chain:   c,
		fetcher: f,
		now:     time.Now,
		logger:  logging.L().Named("balance"),
	}
}

// Refresh loads the wallet through the read-through cache and replaces the
// snapshot.
func (g *Guard) Refresh(ctx context.Context) (Snapshot, error) {
	load := func(ctx context.Context) (Snapshot, error) {
		balances, err := g.fetcher.FetchWallet(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		snap := Snapshot{Balances: make(map[string]decimal.Decimal, len(balances)), FetchedAt: g.now()}
		for _, b := range balances {
			snap.Balances[b.Currency] = b.Balance
		}
		return snap, nil
	}

	var snap Snapshot
	var err error
	if g.chain != nil {
		snap, err = chain.Load(ctx, g.chain, cache.WalletKey(), load)
		snap.Balances = maps.Clone(snap.Balances)
	} else {
		snap, err = load(ctx)
	}
	if err != nil {
		g.logger.Warn("wallet refresh failed", zap.Error(err))
		return Snapshot{}, err
	}

	g.Set(snap)
	return snap, nil
}

// Invalidate drops the cached wallet so the next Refresh hits the backend.
// The in-memory snapshot stays until then.
func (g *Guard) Invalidate(ctx context.Context) error {
	if g.chain == nil {
		return nil
	}
	return g.chain.Invalidate(ctx, cache.WalletKey())
}

// Set replaces the snapshot.
func (g *Guard) Set(snap Snapshot) {
	snap.Balances = maps.Clone(snap.Balances)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snapshot = &snap
}

// Snapshot returns the current snapshot, if any.
func (g *Guard) Snapshot() (Snapshot, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.snapshot == nil {
		return Snapshot{}, false
	}
	snap := *g.snapshot
	snap.Balances = maps.Clone(snap.Balances)
	return snap, true
}

// Check runs the advisory check against the current snapshot. It performs
// no I/O.
func (g *Guard) Check(total decimal.Decimal, currency string) Result {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Check(g.snapshot, total, currency)
}
