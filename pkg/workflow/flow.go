// Package workflow wires the quote, balance, confirmation and beneficiary
// steps into one user flow.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"txflow/pkg/backend"
	"txflow/pkg/balance"
	"txflow/pkg/beneficiary"
	"txflow/pkg/gate"
	"txflow/pkg/logging"
	"txflow/pkg/metrics"
	"txflow/pkg/quote"
	"txflow/pkg/txn"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Check phases.
const (
	PhaseCoarse = "coarse"
	PhaseFine   = "fine"
)

var (
	// ErrNoSession is returned when confirming or saving before a quote.
	ErrNoSession = errors.New("workflow: no active session")
)

// ShortfallError is the advisory balance check refusing to proceed.
type ShortfallError struct {
	Phase     string
	Currency  string
	Total     decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("workflow: %s balance check: short by %s %s", e.Phase, e.Shortfall, e.Currency)
}

// Deps are the collaborators of a Flow.
type Deps struct {
	Resolver  *quote.Resolver
	Gate      *gate.Gate
	Guard     *balance.Guard
	Directory *beneficiary.Directory
	Metrics   metrics.MetricsCollector
}

// Flow runs one user's transaction flow: quote, confirm, and the optional
// beneficiary save. A Flow holds at most one session; quoting again
// replaces it.
type Flow struct {
	resolver  *quote.Resolver
	gate      *gate.Gate
	guard     *balance.Guard
	directory *beneficiary.Directory
	metrics   metrics.MetricsCollector
	logger    *logging.Logger

	mu      sync.Mutex
	session *txn.Session
	intent  quote.Intent
}

// New creates a Flow.
func New(deps Deps) *Flow {
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.NoOpCollector{}
	}
	return &Flow{
		resolver:  deps.Resolver,
		gate:      deps.Gate,
		guard:     deps.Guard,
		directory: deps.Directory,
		metrics:   mc,
		logger:    logging.L().Named("workflow"),
	}
}

// Session returns the current session, or nil.
func (f *Flow) Session() *txn.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *Flow) current() (*txn.Session, quote.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil, quote.Intent{}, ErrNoSession
	}
	return f.session, f.intent, nil
}

// Quote runs the coarse balance check and reserves a quote. Any previous
// session of the flow is abandoned.
func (f *Flow) Quote(ctx context.Context, in quote.Intent) (*txn.Session, error) {
	cat, amount, err := f.resolver.Validate(in)
	if err != nil {
		return nil, err
	}

	currency := in.Currency
	if currency == "" {
		currency = cat.Currency
	}
	if err := f.check(ctx, PhaseCoarse, amount, currency); err != nil {
		return nil, err
	}

	s, err := f.resolver.Initiate(ctx, in, f.observe)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	if f.session != nil {
		f.session.Reset()
	}
	f.session = s
	f.intent = in
	f.mu.Unlock()
	return s, nil
}

// Confirm runs the fine balance check and confirms the session with the
// PIN or biometric factor. The factor is cleared on every path.
func (f *Flow) Confirm(ctx context.Context, factor gate.Factor) (*backend.Record, error) {
	s, _, err := f.current()
	if err != nil {
		factor.Clear()
		return nil, err
	}

	v := s.View()
	if v.Status == txn.Quoted {
		if err := f.check(ctx, PhaseFine, v.TotalAmount, v.Currency); err != nil {
			factor.Clear()
			return nil, err
		}
	}

	rec, err := f.gate.Confirm(ctx, s, factor)
	f.afterConfirm(ctx, s, err)
	return rec, err
}

// ConfirmBiometric is Confirm with a platform biometric challenge. A
// cancelled challenge returns (nil, nil).
func (f *Flow) ConfirmBiometric(ctx context.Context, auth gate.Authenticator) (*backend.Record, error) {
	s, _, err := f.current()
	if err != nil {
		return nil, err
	}

	v := s.View()
	if v.Status == txn.Quoted {
		if err := f.check(ctx, PhaseFine, v.TotalAmount, v.Currency); err != nil {
			return nil, err
		}
	}

	rec, err := f.gate.ConfirmBiometric(ctx, s, auth)
	f.afterConfirm(ctx, s, err)
	return rec, err
}

// afterConfirm refetches server state the confirm may have changed. Cached
// copies are invalidated, never patched.
func (f *Flow) afterConfirm(ctx context.Context, s *txn.Session, err error) {
	switch {
	case err == nil && s.Status() == txn.Succeeded:
		f.invalidateWallet(ctx)
		if f.directory != nil {
			if err := f.directory.Invalidate(ctx, s.Category()); err != nil {
				f.logger.Warn("beneficiary invalidation failed", zap.Error(err))
			}
		}
		f.refresh(ctx)
	case txn.IsInsufficientBalance(err):
		// The snapshot was stale.
		f.invalidateWallet(ctx)
		f.refresh(ctx)
	}
}

func (f *Flow) invalidateWallet(ctx context.Context) {
	if f.guard == nil {
		return
	}
	f.metrics.RecordInvalidation("wallet")
	if err := f.guard.Invalidate(ctx); err != nil {
		f.logger.Warn("wallet invalidation failed", zap.Error(err))
	}
}

func (f *Flow) refresh(ctx context.Context) {
	if f.guard == nil {
		return
	}
	if _, err := f.guard.Refresh(ctx); err != nil {
		f.logger.Debug("wallet refresh failed", zap.Error(err))
	}
}

// check runs the advisory balance check. A failed refresh leaves the last
// snapshot in place; no data means the check passes.
func (f *Flow) check(ctx context.Context, phase string, total decimal.Decimal, currency string) error {
	if f.guard == nil {
		return nil
	}
	f.refresh(ctx)

	res := f.guard.Check(total, currency)
	f.metrics.RecordBalanceCheck(phase, res.Sufficient)
	if res.Sufficient {
		return nil
	}

	f.logger.Info("advisory balance check failed",
		zap.String("phase", phase),
		zap.String("currency", currency),
		zap.String("total", total.String()),
		zap.String("shortfall", res.Shortfall.String()),
	)
	return &ShortfallError{Phase: phase, Currency: currency, Total: total, Shortfall: res.Shortfall}
}

// OfferSave reports whether the destination of a succeeded session may be
// offered for saving.
func (f *Flow) OfferSave(ctx context.Context) (bool, error) {
	if f.directory == nil {
		return false, nil
	}
	s, in, err := f.current()
	if err != nil {
		return false, err
	}
	return f.directory.ShouldOffer(ctx, s, beneficiaryIntent(s, in, ""))
}

// SaveBeneficiary saves the destination of the succeeded session under name.
func (f *Flow) SaveBeneficiary(ctx context.Context, name string) (*beneficiary.Beneficiary, error) {
	if f.directory == nil {
		return nil, beneficiary.ErrNotEligible
	}
	s, in, err := f.current()
	if err != nil {
		return nil, err
	}
	return f.directory.Save(ctx, s, beneficiaryIntent(s, in, name))
}

func beneficiaryIntent(s *txn.Session, in quote.Intent, name string) beneficiary.Intent {
	if name == "" {
		name = in.Name
	}
	return beneficiary.Intent{
		Category:      s.Category(),
		ProviderID:    in.ProviderID,
		AccountNumber: in.AccountNumber,
		Name:          name,
	}
}

// Close abandons the current session. A confirm still in flight completes
// on the server but its result is discarded.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session != nil {
		f.session.Reset()
		f.session = nil
	}
}

func (f *Flow) observe(from, to txn.Status) {
	f.metrics.RecordTransition(from.String(), to.String())
	f.logger.Debug("session transition", zap.String("from", from.String()), zap.String("to", to.String()))
}

// UserMessage returns the single message shown to the user for err.
func UserMessage(err error) string {
	var se *ShortfallError
	if errors.As(err, &se) {
		return fmt.Sprintf("Insufficient balance. You need %s %s more to complete this transaction.", se.Shortfall.StringFixed(2), se.Currency)
	}
	if errors.Is(err, ErrNoSession) {
		return "Please get a quote first."
	}
	return txn.UserMessage(err)
}

// Classify returns a metric label for err.
func Classify(err error) string {
	var se *ShortfallError
	if errors.As(err, &se) {
		return "shortfall_" + se.Phase
	}
	return txn.Classify(err)
}
