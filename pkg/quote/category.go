package quote

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Kind says how a category is priced.
type Kind int

const (
	// AmountBased categories take a user-entered amount (airtime-style).
	AmountBased Kind = iota
	// PlanBased categories take a plan from the provider's catalog (data-style).
	PlanBased
)

func (k Kind) String() string {
	if k == PlanBased {
		return "plan"
	}
	return "amount"
}

// Endpoint names the backend call that returns a reservable quote.
type Endpoint string

const (
	EndpointInitiate Endpoint = "initiate"
	EndpointPreview  Endpoint = "preview"
)

// Category describes one transaction category of the backend.
type Category struct {
	Code     string
	Kind     Kind
	Currency string
	Reserve  Endpoint
}

// DefaultCategories returns the categories served by the backend.
func DefaultCategories() []Category {
	return []Category{
		{Code: "airtime", Kind: AmountBased, Currency: "NGN", Reserve: EndpointInitiate},
		{Code: "data", Kind: PlanBased, Currency: "NGN", Reserve: EndpointInitiate},
		{Code: "electricity", Kind: AmountBased, Currency: "NGN", Reserve: EndpointInitiate},
		{Code: "cable", Kind: PlanBased, Currency: "NGN", Reserve: EndpointInitiate},
		{Code: "withdrawal", Kind: AmountBased, Currency: "NGN", Reserve: EndpointInitiate},
		{Code: "card-funding", Kind: AmountBased, Currency: "USD", Reserve: EndpointInitiate},
	}
}

// ParseKind parses "amount" or "plan".
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(s) {
	case "amount", "":
		return AmountBased, true
	case "plan":
		return PlanBased, true
	}
	return AmountBased, false
}

// Intent is what the user asked for, before pricing.
type Intent struct {
	Category      string
	ProviderID    string
	PlanID        string
	Amount        decimal.Decimal
	AccountNumber string
	Currency      string
	// Name labels the destination if it is later saved as a beneficiary.
	Name string
}
