package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ID is an opaque server identifier. The backend emits ids as JSON numbers
// on some endpoints and as strings on others; both decode to the same ID.
type ID string

// UnmarshalJSON accepts a JSON string, number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*id = ""
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("backend: invalid id %s", data)
		}
		*id = ID(n.String())
		return nil
	}
}

// String returns the id as a string.
func (id ID) String() string { return string(id) }

// QuoteRequest is the intent sent to /{category}/preview and /{category}/initiate.
type QuoteRequest struct {
	ProviderID    string           `json:"providerId"`
	PlanID        string           `json:"planId,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	AccountNumber string           `json:"accountNumber"`
	Currency      string           `json:"currency,omitempty"`
}

// Quote is the priced reservation returned by the backend.
type Quote struct {
	TransactionID ID                  `json:"transactionId"`
	Reference     string              `json:"reference"`
	Amount        decimal.NullDecimal `json:"amount"`
	Fee           decimal.Decimal     `json:"fee"`
	TotalAmount   decimal.Decimal     `json:"totalAmount"`
}

// ConfirmRequest executes a quoted transaction. Exactly one of PIN and
// BiometricToken is set.
type ConfirmRequest struct {
	TransactionID  ID     `json:"transactionId"`
	PIN            string `json:"pin,omitempty"`
	BiometricToken string `json:"biometricToken,omitempty"`
}

// Record is the canonical transaction record returned by a successful confirm.
type Record struct {
	TransactionID ID              `json:"transactionId"`
	Reference     string          `json:"reference"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Currency      string          `json:"currency,omitempty"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Plan is a purchasable bundle of a plan-based category (e.g. data).
type Plan struct {
	ID       ID              `json:"id"`
	Name     string          `json:"name"`
	Amount   decimal.Decimal `json:"amount"`
	Validity string          `json:"validity,omitempty"`
}

// Beneficiary is a saved destination.
type Beneficiary struct {
	ID            ID     `json:"id"`
	Category      string `json:"category"`
	ProviderID    ID     `json:"providerId"`
	AccountNumber string `json:"accountNumber"`
	Name          string `json:"name,omitempty"`
}

// BeneficiaryRequest creates or renames a beneficiary.
type BeneficiaryRequest struct {
	ProviderID    string `json:"providerId,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	Name          string `json:"name,omitempty"`
}

// WalletBalance is the balance of one fiat wallet.
type WalletBalance struct {
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

// envelope is the response wrapper shared by every endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Errors  FieldErrors     `json:"errors"`
}

func (e *envelope) decode(out interface{}) error {
	if len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")) {
		return errEmptyData
	}
	return json.Unmarshal(e.Data, out)
}

// FieldErrors maps request fields to validation messages.
type FieldErrors map[string]string

// UnmarshalJSON accepts {"field":"msg"}, {"field":["msg",...]} and
// [{"field":"f","message":"msg"}].
func (f *FieldErrors) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}

	out := FieldErrors{}
	if data[0] == '[' {
		var items []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		for _, it := range items {
			out[it.Field] = it.Message
		}
		*f = out
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for field, msg := range raw {
		var s string
		if err := json.Unmarshal(msg, &s); err == nil {
			out[field] = s
			continue
		}
		var list []string
		if err := json.Unmarshal(msg, &list); err != nil {
			return fmt.Errorf("backend: unsupported error detail for %q", field)
		}
		if len(list) > 0 {
			out[field] = list[0]
		}
	}
	*f = out
	return nil
}
