package backend_test

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"txflow/pkg/backend"
	"txflow/pkg/backend/backendtest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, srv *backendtest.Server, opts ...func(*backend.Config)) *backend.Client {
	t.Helper()
	cfg := backend.DefaultConfig(srv.URL)
	cfg.RetryInitialInterval = time.Millisecond
	for _, opt := range opts {
		opt(&cfg)
	}
	c, err := backend.NewClient(cfg)
	require.NoError(t, err)
	return c
}

func amount(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := backend.NewClient(backend.Config{})
	assert.Error(t, err)
}

func TestClient_Initiate(t *testing.T) {
	srv := backendtest.NewServer()
	defer srv.Close()
	c := newClient(t, srv)

	q, err := c.Initiate(context.Background(), "airtime", backend.QuoteRequest{
		ProviderID:    "1",
		Amount:        amount(2000),
		AccountNumber: "08011112222",
	})
	require.NoError(t, err)

	assert.Equal(t, backend.ID("501"), q.TransactionID)
	assert.Equal(t, "REF501", q.Reference)
	assert.True(t, q.Fee.IsZero())
	assert.True(t, q.TotalAmount.Equal(decimal.NewFromInt(2000)))
}

func TestClient_Preview_DoesNotReserve(t *testing.T) {
	srv := backendtest.NewServer()
	defer srv.Close()
	srv.Fee = decimal.NewFromInt(50)
	c := newClient(t, srv)

	q, err := c.Preview(context.Background(), "airtime", backend.QuoteRequest{
		ProviderID:    "1",
		Amount:        amount(1000),
		AccountNumber: "08011112222",
	})
	require.NoError(t, err)

	assert.Empty(t, q.TransactionID)
	assert.True(t, q.TotalAmount.Equal(decimal.NewFromInt(1050)))
}

func TestClient_Initiate_ValidationError(t *testing.T) {
	srv := backendtest.NewServer()
	defer srv.Close()
	c := newClient(t, srv)

	_, err := c.Initiate(context.Background(), "airtime", backend.QuoteRequest{
		ProviderID: "1",
		Amount:     amount(100),
	})
	require.Error(t, err)

	apiErr, ok := backend.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, apiErr.Fields, "accountNumber")
	assert.False(t, apiErr.Temporary())
}

func TestClient_Confirm(t *testing.T) {
	srv := backendtest.NewServer()
	defer srv.Close()
	srv.SetBalance("NGN", decimal.NewFromInt(5000))
	c := newClient(t, srv)
	ctx := context.Background()

	q, err := c.Initiate(ctx, "airtime", backend.QuoteRequest{ProviderID: "1", Amount: amount(2000), AccountNumber: "08011112222"})
	require.NoError(t, err)

	t.Run("wrong pin is rejected in band", func(t *testing.T) {
		_, err := c.Confirm(ctx, "airtime", backend.ConfirmRequest{TransactionID: q.TransactionID, PIN: "0000"}, "key-1")
		apiErr, ok := backend.AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusOK, apiErr.StatusCode)
		assert.Equal(t, backendtest.CodeInvalidPIN, apiErr.Code)
		assert.Equal(t, "Invalid PIN", apiErr.Message)
	})

	t.Run("correct pin returns the canonical record", func(t *testing.T) {
		rec, err := c.Confirm(ctx, "airtime", backend.ConfirmRequest{TransactionID: q.TransactionID, PIN: "1234"}, "key-1")
		require.NoError(t, err)
		assert.Equal(t, q.TransactionID, rec.TransactionID)
		assert.Equal(t, "successful", rec.Status)
		assert.True(t, srv.Balance("NGN").Equal(decimal.NewFromInt(3000)))
	})

	t.Run("replay with the same key is idempotent", func(t *testing.T) {
		rec, err := c.Confirm(ctx, "airtime", backend.ConfirmRequest{TransactionID: q.TransactionID, PIN: "1234"}, "key-1")
		require.NoError(t, err)
		assert.Equal(t, "REF501", rec.Reference)
		assert.True(t, srv.Balance("NGN").Equal(decimal.NewFromInt(3000)))
	})

	t.Run("replay with another key conflicts", func(t *testing.T) {
		_, err := c.Confirm(ctx, "airtime", backend.ConfirmRequest{TransactionID: q.TransactionID, PIN: "1234"}, "key-2")
		apiErr, ok := backend.AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	})
}

func TestClient_Confirm_UnreadableRecordIsSuccess(t *testing.T) {
	srv := backendtest.NewServer()
	defer srv.Close()
	srv.Intercept = func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path != "/airtime/confirm" {
			return false
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"transactionId":501,"reference":"REF501","createdAt":"2025-01-01 10:00:00"}}`))
		return true
	}
	c := newClient(t, srv)

	rec, err := c.Confirm(context.Background(), "airtime", backend.ConfirmRequest{TransactionID: "501", PIN: "1234"}, "key-1")
	require.NoError(t, err)
	assert.Equal(t, backend.ID("501"), rec.TransactionID)
}

func TestClient_MalformedSuccessBodyIsNetworkError(t *testing.T) {
	srv := backendtest.NewServer()
	defer srv.Close()
	srv.Intercept = func(w http.ResponseWriter, r *http.Request) bool {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":tru`))
		return true
	}
	c := newClient(t, srv)

	_, err := c.Confirm(context.Background(), "airtime", backend.ConfirmRequest{TransactionID: "501", PIN: "1234"}, "key-1")
	require.Error(t, err)
	assert.True(t, backend.IsNetwork(err))
	assert.ErrorIs(t, err, backend.ErrMalformedResponse)
	_, isAPI := backend.AsAPIError(err)
	assert.False(t, isAPI)
}

func TestClient_Unauthorized(t *testing.T) {
	srv := backendtest.NewServer()
	defer srv.Close()
	srv.Token = "good"

	var notified int32
	c := newClient(t, srv, func(cfg *backend.Config) {
		cfg.Tokens = backend.StaticToken("stale")
		cfg.OnUnauthorized = func(ctx context.Context) { atomic.AddInt32(&notified, 1) }
	})

	_, err := c.FetchWallet(context.Background())
	assert.ErrorIs(t, err, backend.ErrUnauthorized)
	assert.True(t, backend.IsUnauthorized(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&notified))
	assert.Equal(t, 1, srv.Calls("GET /wallet/fiat"), "a 401 must not be retried")
}

func TestClient_BearerToken(t *testing.T) {
	srv := backendtest.NewServer()
	defer srv.Close()
	srv.Token = "good"
	srv.SetBalance("NGN", decimal.NewFromInt(500))

	c := newClient(t, srv, func(cfg *backend.Config) {
		cfg.Tokens = backend.TokenSourceFunc(func(ctx context.Context) (string, error) { return "good", nil })
	})

	balances, err := c.FetchWallet(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "NGN", balances[0].Currency)
	assert.True(t, balances[0].Balance.Equal(decimal.NewFromInt(500)))
}

func TestClient_ReadsRetryServerErrors(t *testing.T) {
	srv := backendtest.NewServer()
	defer srv.Close()
	srv.SetBalance("NGN", decimal.NewFromInt(500))

	var failures int32 = 2
	srv.Intercept = func(w http.ResponseWriter, r *http.Request) bool {
		if atomic.AddInt32(&failures, -1) >= 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return true
		}
		return false
	}
	c := newClient(t, srv)

	_, err := c.FetchWallet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, srv.Calls("GET /wallet/fiat"))
}

func TestClient_MutationsAreNotRetried(t *testing.T) {
	srv := backendtest.NewServer()
	defer srv.Close()
	srv.Intercept = func(w http.ResponseWriter, r *http.Request) bool {
		w.WriteHeader(http.StatusBadGateway)
		return true
	}
	c := newClient(t, srv)

	_, err := c.Initiate(context.Background(), "airtime", backend.QuoteRequest{ProviderID: "1", Amount: amount(1), AccountNumber: "1"})
	apiErr, ok := backend.AsAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.Temporary())
	assert.Equal(t, 1, srv.Calls("POST /{category}/initiate"))
}

func TestClient_NetworkError(t *testing.T) {
	srv := backendtest.NewServer()
	url := srv.URL
	srv.Close()

	c, err := backend.NewClient(backend.Config{BaseURL: url})
	require.NoError(t, err)

	_, err = c.Initiate(context.Background(), "airtime", backend.QuoteRequest{ProviderID: "1", Amount: amount(1), AccountNumber: "1"})
	assert.True(t, backend.IsNetwork(err))
}

func TestClient_Beneficiaries(t *testing.T) {
	srv := backendtest.NewServer()
	defer srv.Close()
	c := newClient(t, srv)
	ctx := context.Background()

	saved, err := c.SaveBeneficiary(ctx, "airtime", backend.BeneficiaryRequest{ProviderID: "1", AccountNumber: "08011112222", Name: "Mum"})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, "airtime", saved.Category)

	renamed, err := c.UpdateBeneficiary(ctx, "airtime", saved.ID, backend.BeneficiaryRequest{Name: "Mother"})
	require.NoError(t, err)
	assert.Equal(t, "Mother", renamed.Name)

	list, err := c.ListBeneficiaries(ctx, "airtime")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "08011112222", list[0].AccountNumber)

	require.NoError(t, c.DeleteBeneficiary(ctx, "airtime", saved.ID))
	err = c.DeleteBeneficiary(ctx, "airtime", saved.ID)
	assert.True(t, backend.IsNotFound(err))
}

func TestClient_ListBeneficiaries_NumericIDs(t *testing.T) {
	srv := backendtest.NewServer()
	defer srv.Close()
	srv.Intercept = func(w http.ResponseWriter, r *http.Request) bool {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":[{"id":7,"providerId":1,"accountNumber":"08011112222"}]}`))
		return true
	}
	c := newClient(t, srv)

	list, err := c.ListBeneficiaries(context.Background(), "airtime")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, backend.ID("7"), list[0].ID)
	assert.Equal(t, backend.ID("1"), list[0].ProviderID)
	assert.Equal(t, "airtime", list[0].Category)
}

func TestClient_SaveBeneficiary_WithoutData(t *testing.T) {
	srv := backendtest.NewServer()
	defer srv.Close()
	srv.Intercept = func(w http.ResponseWriter, r *http.Request) bool {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"success":true,"message":"Beneficiary saved"}`))
		return true
	}
	c := newClient(t, srv)

	b, err := c.SaveBeneficiary(context.Background(), "airtime", backend.BeneficiaryRequest{ProviderID: "1", AccountNumber: "08011112222", Name: "Mum"})
	require.NoError(t, err)
	assert.Equal(t, backend.ID("1"), b.ProviderID)
	assert.Equal(t, "08011112222", b.AccountNumber)
	assert.Equal(t, "Mum", b.Name)
	assert.Equal(t, "airtime", b.Category)
}

func TestClient_Plans(t *testing.T) {
	srv := backendtest.NewServer()
	defer srv.Close()
	srv.AddPlan("data", "2", backend.Plan{ID: "d-1", Name: "1GB", Amount: decimal.NewFromInt(1000)})
	srv.AddPlan("data", "3", backend.Plan{ID: "d-2", Name: "2GB", Amount: decimal.NewFromInt(1800)})
	c := newClient(t, srv)

	plans, err := c.Plans(context.Background(), "data", "2")
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, backend.ID("d-1"), plans[0].ID)
}
