package backend

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

func categoryPath(category, suffix string) string {
	return "/" + url.PathEscape(category) + suffix
}

// Preview prices an intent without reserving it.
func (c *Client) Preview(ctx context.Context, category string, req QuoteRequest) (*Quote, error) {
	return c.quote(ctx, "preview", category, req)
}

// Initiate prices an intent and reserves it against a transaction id.
func (c *Client) Initiate(ctx context.Context, category string, req QuoteRequest) (*Quote, error) {
	return c.quote(ctx, "initiate", category, req)
}

func (c *Client) quote(ctx context.Context, op, category string, req QuoteRequest) (*Quote, error) {
	env, err := c.call(ctx, request{
		op:     op,
		method: http.MethodPost,
		path:   categoryPath(category, "/"+op),
		body:   req,
	})
	if err != nil {
		return nil, err
	}

	var q Quote
	if err := env.decode(&q); err != nil {
		return nil, malformed(op, "quote", err)
	}
	return &q, nil
}

// Confirm executes a quoted transaction. idempotencyKey, when set, is sent
// so the backend can recognise retries of the same confirmation.
func (c *Client) Confirm(ctx context.Context, category string, req ConfirmRequest, idempotencyKey string) (*Record, error) {
	header := http.Header{}
	if idempotencyKey != "" {
		header.Set(IdempotencyHeader, idempotencyKey)
	}

	env, err := c.call(ctx, request{
		op:     "confirm",
		method: http.MethodPost,
		path:   categoryPath(category, "/confirm"),
		body:   req,
		header: header,
	})
	if err != nil {
		return nil, err
	}

	// The envelope reports success, so the debit happened even when the
	// record cannot be read.
	rec := Record{TransactionID: req.TransactionID}
	if err := env.decode(&rec); err != nil {
		if !errors.Is(err, errEmptyData) {
			c.logger.Warn("confirm succeeded with an unreadable record",
				zap.String("transaction_id", req.TransactionID.String()),
				zap.Error(err),
			)
		}
		rec = Record{TransactionID: req.TransactionID}
	}
	if rec.TransactionID == "" {
		rec.TransactionID = req.TransactionID
	}
	return &rec, nil
}

// Plans lists the plans a provider offers in a plan-based category.
func (c *Client) Plans(ctx context.Context, category, providerID string) ([]Plan, error) {
	path := categoryPath(category, "/plans") + "?providerId=" + url.QueryEscape(providerID)
	env, err := c.call(ctx, request{op: "plans", method: http.MethodGet, path: path})
	if err != nil {
		return nil, err
	}

	var plans []Plan
	if err := env.decode(&plans); err != nil && !errors.Is(err, errEmptyData) {
		return nil, malformed("plans", "plans", err)
	}
	return plans, nil
}
