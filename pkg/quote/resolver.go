package quote

import (
	"context"
	"strings"
	"sync"
	"time"

	"txflow/pkg/backend"
	"txflow/pkg/cache"
	"txflow/pkg/chain"
	"txflow/pkg/logging"
	"txflow/pkg/metrics"
	"txflow/pkg/txn"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Backend is the subset of *backend.Client the resolver calls.
type Backend interface {
	Preview(ctx context.Context, category string, req backend.QuoteRequest) (*backend.Quote, error)
	Initiate(ctx context.Context, category string, req backend.QuoteRequest) (*backend.Quote, error)
	Plans(ctx context.Context, category, providerID string) ([]backend.Plan, error)
}

// Resolver turns intents into quoted sessions. It remembers the plans it
// fetched so plan-based intents can be checked against them.
type Resolver struct {
	backend    Backend
	cache      *chain.Chain
	categories map[string]Category
	metrics    metrics.MetricsCollector
	logger     *logging.Logger

	mu      sync.RWMutex
	catalog map[string]map[string]backend.Plan // category -> plan id -> plan
}

// NewResolver creates a resolver for the given categories.
func NewResolver(b Backend, categories []Category, mc metrics.MetricsCollector) *Resolver {
	if mc == nil {
		mc = metrics.NoOpCollector{}
	}
	byCode := make(map[string]Category, len(categories))
	for _, c := range categories {
		if c.Reserve == "" {
			c.Reserve = EndpointInitiate
		}
		byCode[c.Code] = c
	}
	return &Resolver{
		backend:    b,
		categories: byCode,
		metrics:    mc,
		logger:     logging.L().Named("quote"),
		catalog:    make(map[string]map[string]backend.Plan),
	}
}

// WithCache makes Plans read through c.
func (r *Resolver) WithCache(c *chain.Chain) *Resolver {
	r.cache = c
	return r
}

// Category returns the category registered under code.
func (r *Resolver) Category(code string) (Category, bool) {
	c, ok := r.categories[code]
	return c, ok
}

// Plans fetches a provider's plans and adds them to the catalog.
func (r *Resolver) Plans(ctx context.Context, category, providerID string) ([]backend.Plan, error) {
	load := func(ctx context.Context) ([]backend.Plan, error) {
		return r.backend.Plans(ctx, category, providerID)
	}

	var plans []backend.Plan
	var err error
	if r.cache != nil {
		plans, err = chain.LoadSlice(ctx, r.cache, cache.PlansKey(category, providerID), load)
	} else {
		plans, err = load(ctx)
	}
	if err != nil {
		return nil, txn.Translate(txn.PhaseQuote, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.catalog[category]
	if !ok {
		byID = make(map[string]backend.Plan)
		r.catalog[category] = byID
	}
	for _, p := range plans {
		byID[p.ID.String()] = p
	}
	return plans, nil
}

func (r *Resolver) plan(category, planID string) (backend.Plan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.catalog[category][planID]
	return p, ok
}

// Validate checks an intent against its category and returns the category
// and the amount being paid.
func (r *Resolver) Validate(in Intent) (Category, decimal.Decimal, error) {
	fields := map[string]string{}

	cat, ok := r.categories[in.Category]
	if !ok {
		fields["category"] = "unknown category " + in.Category
		return cat, decimal.Zero, &txn.ValidationError{Message: "invalid intent", Fields: fields}
	}
	if strings.TrimSpace(in.AccountNumber) == "" {
		fields["accountNumber"] = "destination is required"
	}
	if strings.TrimSpace(in.ProviderID) == "" {
		fields["providerId"] = "provider is required"
	}

	amount := in.Amount
	switch cat.Kind {
	case AmountBased:
		if !amount.IsPositive() {
			fields["amount"] = "amount must be greater than zero"
		}
	case PlanBased:
		p, found := r.plan(in.Category, in.PlanID)
		if in.PlanID == "" || !found {
			fields["planId"] = "select a plan from the list"
		}
		amount = p.Amount
	}

	if len(fields) > 0 {
		return cat, decimal.Zero, &txn.ValidationError{Message: "invalid intent", Fields: fields}
	}
	return cat, amount, nil
}

func (r *Resolver) request(cat Category, in Intent, amount decimal.Decimal) backend.QuoteRequest {
	req := backend.QuoteRequest{
		ProviderID:    strings.TrimSpace(in.ProviderID),
		AccountNumber: strings.TrimSpace(in.AccountNumber),
		Currency:      r.currency(cat, in),
	}
	if cat.Kind == PlanBased {
		req.PlanID = in.PlanID
	} else {
		req.Amount = &amount
	}
	return req
}

func (r *Resolver) currency(cat Category, in Intent) string {
	if in.Currency != "" {
		return in.Currency
	}
	if cat.Currency != "" {
		return cat.Currency
	}
	return "NGN"
}

// Preview prices an intent for display without reserving it.
func (r *Resolver) Preview(ctx context.Context, in Intent) (*backend.Quote, error) {
	cat, amount, err := r.Validate(in)
	if err != nil {
		return nil, err
	}

	q, err := r.backend.Preview(ctx, cat.Code, r.request(cat, in, amount))
	if err != nil {
		return nil, txn.Translate(txn.PhaseQuote, err)
	}
	return q, nil
}

// Initiate reserves a quote for the intent and returns a Quoted session.
// The session's totals are the server's, verbatim. Nothing is created on error.
func (r *Resolver) Initiate(ctx context.Context, in Intent, observers ...txn.Observer) (*txn.Session, error) {
	start := time.Now()
	s, err := r.initiate(ctx, in, observers)
	r.metrics.RecordQuote(in.Category, txn.Classify(err), time.Since(start))
	return s, err
}

func (r *Resolver) initiate(ctx context.Context, in Intent, observers []txn.Observer) (*txn.Session, error) {
	cat, amount, err := r.Validate(in)
	if err != nil {
		return nil, err
	}

	req := r.request(cat, in, amount)
	logger := r.logger.With(
		zap.String("category", cat.Code),
		zap.String("provider_id", req.ProviderID),
		logging.Account(req.AccountNumber),
	)

	call := r.backend.Initiate
	if cat.Reserve == EndpointPreview {
		call = r.backend.Preview
	}

	q, err := call(ctx, cat.Code, req)
	if err != nil {
		err = txn.Translate(txn.PhaseQuote, err)
		logger.Info("quote failed", zap.String("outcome", txn.Classify(err)), zap.Error(err))
		return nil, err
	}

	if expected := amount.Add(q.Fee); !expected.Equal(q.TotalAmount) {
		logger.Debug("server total differs from amount+fee",
			zap.String("expected", expected.String()),
			zap.String("total", q.TotalAmount.String()),
		)
	}

	s := txn.NewSession(cat.Code, req.Currency, observers...)
	if err := s.ApplyQuote(*q, amount); err != nil {
		logger.Warn("quote not reservable", zap.Error(err))
		return nil, &txn.RejectedError{
			Phase:   txn.PhaseQuote,
			Reason:  txn.ReasonOther,
			Message: "The quote could not be reserved. Please try again.",
			Err:     err,
		}
	}

	logger.Info("quote reserved",
		zap.String("transaction_id", q.TransactionID.String()),
		zap.String("reference", q.Reference),
		zap.String("total", q.TotalAmount.String()),
	)
	return s, nil
}
