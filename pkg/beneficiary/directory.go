package beneficiary

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"txflow/pkg/backend"
	"txflow/pkg/cache"
	"txflow/pkg/chain"
	"txflow/pkg/logging"
	"txflow/pkg/metrics"
	"txflow/pkg/txn"

	"go.uber.org/zap"
)

var (
	// ErrAlreadySaved is returned when the destination is already a beneficiary.
	ErrAlreadySaved = errors.New("beneficiary: already saved")

	// ErrNotEligible is returned when saving is attempted before the
	// owning session succeeded.
	ErrNotEligible = errors.New("beneficiary: session has not succeeded")
)

// Backend is the subset of *backend.Client the directory calls.
type Backend interface {
	ListBeneficiaries(ctx context.Context, category string) ([]backend.Beneficiary, error)
	SaveBeneficiary(ctx context.Context, category string, req backend.BeneficiaryRequest) (*backend.Beneficiary, error)
	UpdateBeneficiary(ctx context.Context, category string, id backend.ID, req backend.BeneficiaryRequest) (*backend.Beneficiary, error)
	DeleteBeneficiary(ctx context.Context, category string, id backend.ID) error
}

// Intent is the destination offered for saving.
type Intent struct {
	Category      string
	ProviderID    string
	AccountNumber string
	Name          string
}

// Directory reads beneficiary lists through the read-through cache and
// invalidates them after every mutation. Lists are never patched in place.
type Directory struct {
	backend Backend
	chain   *chain.Chain
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// NewDirectory creates a directory. A nil chain reads the backend directly.
func NewDirectory(b Backend, c *chain.Chain, mc metrics.MetricsCollector) *Directory {
	if mc == nil {
		mc = metrics.NoOpCollector{}
	}
	return &Directory{
		backend: b,
		chain:   c,
		metrics: mc,
		logger:  logging.L().Named("beneficiary"),
	}
}

// List returns the saved beneficiaries of category.
func (d *Directory) List(ctx context.Context, category string) ([]Beneficiary, error) {
	load := func(ctx context.Context) ([]Beneficiary, error) {
		list, err := d.backend.ListBeneficiaries(ctx, category)
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = []Beneficiary{}
		}
		return list, nil
	}
	if d.chain == nil {
		return load(ctx)
	}
	return chain.LoadSlice(ctx, d.chain, cache.BeneficiariesKey(category), load)
}

// Recent returns up to limit beneficiaries of category for shortcuts.
func (d *Directory) Recent(ctx context.Context, category string, limit int) ([]Beneficiary, error) {
	list, err := d.List(ctx, category)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Index returns an index over the current list of category.
func (d *Directory) Index(ctx context.Context, category string) (*Index, error) {
	list, err := d.List(ctx, category)
	if err != nil {
		return nil, err
	}
	return NewIndex(list, 0.01), nil
}

// ShouldOffer reports whether saving the destination may be offered: the
// session succeeded and the destination is not already saved.
func (d *Directory) ShouldOffer(ctx context.Context, s *txn.Session, in Intent) (bool, error) {
	if s.Status() != txn.Succeeded {
		return false, nil
	}
	idx, err := d.Index(ctx, in.Category)
	if err != nil {
		return false, err
	}
	return !idx.Contains(in.Category, in.ProviderID, in.AccountNumber), nil
}

// Save persists the destination of a succeeded session.
func (d *Directory) Save(ctx context.Context, s *txn.Session, in Intent) (*Beneficiary, error) {
	if s.Status() != txn.Succeeded {
		return nil, ErrNotEligible
	}

	list, err := d.List(ctx, in.Category)
	if err != nil {
		return nil, err
	}
	if Exists(list, in.Category, in.ProviderID, in.AccountNumber) {
		return nil, ErrAlreadySaved
	}

	b, err := d.backend.SaveBeneficiary(ctx, in.Category, backend.BeneficiaryRequest{
		ProviderID:    in.ProviderID,
		AccountNumber: in.AccountNumber,
		Name:          strings.TrimSpace(in.Name),
	})
	if err != nil {
		apiErr, ok := backend.AsAPIError(err)
		switch {
		case ok && apiErr.StatusCode == http.StatusConflict:
			// Someone else saved it; our list is stale.
			d.invalidate(ctx, in.Category)
			return nil, ErrAlreadySaved
		case !ok || apiErr.Temporary():
			// The write may have been applied.
			d.invalidate(ctx, in.Category)
		}
		return nil, fmt.Errorf("beneficiary: save: %w", err)
	}

	d.invalidate(ctx, in.Category)
	d.logger.Info("beneficiary saved",
		zap.String("category", in.Category),
		zap.String("provider_id", in.ProviderID),
		logging.Account(in.AccountNumber),
	)
	return b, nil
}

// Update renames a beneficiary.
func (d *Directory) Update(ctx context.Context, category string, id backend.ID, name string) (*Beneficiary, error) {
	b, err := d.backend.UpdateBeneficiary(ctx, category, id, backend.BeneficiaryRequest{Name: strings.TrimSpace(name)})
	if err != nil {
		if apiErr, ok := backend.AsAPIError(err); !ok || apiErr.Temporary() {
			d.invalidate(ctx, category)
		}
		return nil, fmt.Errorf("beneficiary: update: %w", err)
	}
	d.invalidate(ctx, category)
	return b, nil
}

// Delete removes a beneficiary. Deleting an id the backend no longer knows
// succeeds.
func (d *Directory) Delete(ctx context.Context, category string, id backend.ID) error {
	err := d.backend.DeleteBeneficiary(ctx, category, id)
	if err != nil && !backend.IsNotFound(err) {
		return fmt.Errorf("beneficiary: delete: %w", err)
	}
	d.invalidate(ctx, category)
	return nil
}

// Invalidate drops the cached list of category.
func (d *Directory) Invalidate(ctx context.Context, category string) error {
	if d.chain == nil {
		return nil
	}
	d.metrics.RecordInvalidation("beneficiaries")
	return d.chain.Invalidate(ctx, cache.BeneficiariesKey(category))
}

func (d *Directory) invalidate(ctx context.Context, category string) {
	if err := d.Invalidate(ctx, category); err != nil {
		d.logger.Warn("beneficiary cache invalidation failed", zap.String("category", category), zap.Error(err))
	}
}
