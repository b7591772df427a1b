package backend

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// ListBeneficiaries returns the saved beneficiaries of a category.
func (c *Client) ListBeneficiaries(ctx context.Context, category string) ([]Beneficiary, error) {
	env, err := c.call(ctx, request{
		op:     "list_beneficiaries",
		method: http.MethodGet,
		path:   categoryPath(category, "/beneficiaries"),
	})
	if err != nil {
		return nil, err
	}

	var list []Beneficiary
	if err := env.decode(&list); err != nil && !errors.Is(err, errEmptyData) {
		return nil, malformed("list_beneficiaries", "list", err)
	}
	for i := range list {
		if list[i].Category == "" {
			list[i].Category = category
		}
	}
	return list, nil
}

// SaveBeneficiary creates a beneficiary.
func (c *Client) SaveBeneficiary(ctx context.Context, category string, req BeneficiaryRequest) (*Beneficiary, error) {
	return c.writeBeneficiary(ctx, "save_beneficiary", http.MethodPost, category, categoryPath(category, "/beneficiaries"), "", req)
}

// UpdateBeneficiary renames a beneficiary.
func (c *Client) UpdateBeneficiary(ctx context.Context, category string, id ID, req BeneficiaryRequest) (*Beneficiary, error) {
	path := categoryPath(category, "/beneficiaries/"+url.PathEscape(id.String()))
	return c.writeBeneficiary(ctx, "update_beneficiary", http.MethodPut, category, path, id, req)
}

// writeBeneficiary returns the stored beneficiary. A successful write whose
// body carries no readable beneficiary is answered from the request.
func (c *Client) writeBeneficiary(ctx context.Context, op, method, category, path string, id ID, req BeneficiaryRequest) (*Beneficiary, error) {
	env, err := c.call(ctx, request{op: op, method: method, path: path, body: req})
	if err != nil {
		return nil, err
	}

	var b Beneficiary
	if err := env.decode(&b); err != nil {
		if !errors.Is(err, errEmptyData) {
			c.logger.Debug("write succeeded with an unreadable beneficiary", zap.String("op", op), zap.Error(err))
		}
		b = Beneficiary{
			ID:            id,
			ProviderID:    ID(req.ProviderID),
			AccountNumber: req.AccountNumber,
			Name:          req.Name,
		}
	}
	if b.Category == "" {
		b.Category = category
	}
	return &b, nil
}

// DeleteBeneficiary deletes a beneficiary. The caller decides how to treat
// a 404 (see IsNotFound).
func (c *Client) DeleteBeneficiary(ctx context.Context, category string, id ID) error {
	_, err := c.call(ctx, request{
		op:     "delete_beneficiary",
		method: http.MethodDelete,
		path:   categoryPath(category, "/beneficiaries/"+url.PathEscape(id.String())),
	})
	return err
}
