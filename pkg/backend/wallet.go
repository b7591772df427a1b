package backend

import (
	"context"
	"net/http"
)

// FetchWallet returns the fiat wallet balances.
func (c *Client) FetchWallet(ctx context.Context) ([]WalletBalance, error) {
	env, err := c.call(ctx, request{op: "wallet", method: http.MethodGet, path: "/wallet/fiat"})
	if err != nil {
		return nil, err
	}

	var balances []WalletBalance
	if err := env.decode(&balances); err != nil {
		return nil, malformed("wallet", "wallet", err)
	}
	return balances, nil
}
