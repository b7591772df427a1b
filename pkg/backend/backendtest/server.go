// Package backendtest provides an in-process fake of the transaction backend
// for tests and local runs.
package backendtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"txflow/pkg/backend"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// Error codes emitted alongside messages on rejections.
const (
	CodeInvalidPIN          = "INVALID_PIN"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeQuoteExpired        = "QUOTE_EXPIRED"
)

type providerPlan struct {
	providerID string
	plan       backend.Plan
}

type transaction struct {
	category  string
	quote     backend.Quote
	amount    decimal.Decimal
	currency  string
	record    *backend.Record
	failed    bool
	idemKey   string
	createdAt time.Time
}

// Server is a fake backend. Zero-value fields are replaced with defaults by
// NewServer; exported fields may be changed between requests.
type Server struct {
	*httptest.Server

	mu sync.Mutex

	// Token, when set, must be presented as a bearer token.
	Token string
	// PIN is the correct transaction PIN.
	PIN string
	// BiometricToken is the accepted biometric assertion.
	BiometricToken string
	// Fee is added to every quote.
	Fee decimal.Decimal

	wallet        map[string]decimal.Decimal
	plans         map[string][]providerPlan
	beneficiaries map[string][]backend.Beneficiary
	transactions  map[string]*transaction
	nextID        int

	// Intercept runs before routing. Returning true marks the request
	// handled, letting tests inject outages and odd responses.
	Intercept func(w http.ResponseWriter, r *http.Request) bool

	calls sync.Map // route -> *int64
}

// NewServer starts a fake backend. Transaction ids start at 501.
func NewServer() *Server {
	s := &Server{
		PIN:           "1234",
		Fee:           decimal.Zero,
		wallet:        map[string]decimal.Decimal{},
		plans:         map[string][]providerPlan{},
		beneficiaries: map[string][]backend.Beneficiary{},
		transactions:  map[string]*transaction{},
		nextID:        501,
	}

	r := mux.NewRouter()
	r.Use(s.intercept, s.auth)
	r.HandleFunc("/wallet/fiat", s.handleWallet).Methods(http.MethodGet)
	r.HandleFunc("/{category}/preview", s.handleQuote(false)).Methods(http.MethodPost)
	r.HandleFunc("/{category}/initiate", s.handleQuote(true)).Methods(http.MethodPost)
	r.HandleFunc("/{category}/confirm", s.handleConfirm).Methods(http.MethodPost)
	r.HandleFunc("/{category}/plans", s.handlePlans).Methods(http.MethodGet)
	r.HandleFunc("/{category}/beneficiaries", s.handleListBeneficiaries).Methods(http.MethodGet)
	r.HandleFunc("/{category}/beneficiaries", s.handleCreateBeneficiary).Methods(http.MethodPost)
	r.HandleFunc("/{category}/beneficiaries/{id}", s.handleUpdateBeneficiary).Methods(http.MethodPut)
	r.HandleFunc("/{category}/beneficiaries/{id}", s.handleDeleteBeneficiary).Methods(http.MethodDelete)

	s.Server = httptest.NewServer(r)
	return s
}

// SetBalance sets the wallet balance of a currency.
func (s *Server) SetBalance(currency string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallet[currency] = amount
}

// Balance returns the wallet balance of a currency.
func (s *Server) Balance(currency string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallet[currency]
}

// AddPlan registers a plan a provider offers under category.
func (s *Server) AddPlan(category, providerID string, plan backend.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[category] = append(s.plans[category], providerPlan{providerID: providerID, plan: plan})
}

// AddBeneficiary stores a beneficiary and returns it with its id.
func (s *Server) AddBeneficiary(b backend.Beneficiary) backend.Beneficiary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = backend.ID(uuid.NewString())
	}
	s.beneficiaries[b.Category] = append(s.beneficiaries[b.Category], b)
	return b
}

// Beneficiaries returns a copy of the stored beneficiaries of category.
func (s *Server) Beneficiaries(category string) []backend.Beneficiary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]backend.Beneficiary(nil), s.beneficiaries[category]...)
}

// ExpireQuote makes the next confirm of id fail with a quote-expired rejection.
func (s *Server) ExpireQuote(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.transactions[id]; ok {
		tx.failed = true
	}
}

// Calls returns how many requests reached route, e.g. "POST /{category}/confirm".
func (s *Server) Calls(route string) int {
	if v, ok := s.calls.Load(route); ok {
		return int(atomic.LoadInt64(v.(*int64)))
	}
	return 0
}

func (s *Server) count(r *http.Request) {
	route := r.Method + " " + r.URL.Path
	if cr := mux.CurrentRoute(r); cr != nil {
		if tpl, err := cr.GetPathTemplate(); err == nil {
			route = r.Method + " " + tpl
		}
	}
	v, _ := s.calls.LoadOrStore(route, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.count(r)
		if s.Intercept != nil && s.Intercept(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"success": false,
				"message": "Unauthenticated",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	balances := make([]backend.WalletBalance, 0, len(s.wallet))
	for currency, amount := range s.wallet {
		balances = append(balances, backend.WalletBalance{Currency: currency, Balance: amount})
	}
	s.mu.Unlock()

	ok(w, balances)
}

func (s *Server) handleQuote(reserve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category := mux.Vars(r)["category"]

		var req backend.QuoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			reject(w, http.StatusBadRequest, "", "malformed request")
			return
		}

		fields := map[string]string{}
		if strings.TrimSpace(req.AccountNumber) == "" {
			fields["accountNumber"] = "The account number field is required."
		}
		if req.ProviderID == "" {
			fields["providerId"] = "The provider field is required."
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		var amount decimal.Decimal
		switch {
		case req.PlanID != "":
			plan, found := s.findPlan(category, req.PlanID)
			if !found {
				fields["planId"] = "The selected plan is invalid."
			}
			amount = plan.Amount
		case req.Amount != nil && req.Amount.IsPositive():
			amount = *req.Amount
		default:
			fields["amount"] = "The amount must be greater than zero."
		}

		if len(fields) > 0 {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"success": false,
				"message": "The given data was invalid.",
				"errors":  fields,
			})
			return
		}

		fee := s.Fee
		data := map[string]interface{}{
			"amount":      amount,
			"fee":         fee,
			"totalAmount": amount.Add(fee),
		}

		if reserve {
			id := strconv.Itoa(s.nextID)
			s.nextID++
			reference := "REF" + id
			currency := req.Currency
			if currency == "" {
				currency = "NGN"
			}
			s.transactions[id] = &transaction{
				category: category,
				quote: backend.Quote{
					TransactionID: backend.ID(id),
					Reference:     reference,
					Fee:           fee,
					TotalAmount:   amount.Add(fee),
				},
				amount:    amount,
				currency:  currency,
				createdAt: time.Now().UTC(),
			}
			data["transactionId"] = json.Number(id)
			data["reference"] = reference
		}

		ok(w, data)
	}
}

func (s *Server) findPlan(category, planID string) (backend.Plan, bool) {
	for _, p := range s.plans[category] {
		if p.plan.ID.String() == planID {
			return p.plan, true
		}
	}
	return backend.Plan{}, false
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req backend.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reject(w, http.StatusBadRequest, "", "malformed request")
		return
	}
	key := r.Header.Get(backend.IdempotencyHeader)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, found := s.transactions[req.TransactionID.String()]
	switch {
	case !found:
		reject(w, http.StatusNotFound, "", "Transaction not found")
		return
	case tx.record != nil:
		if key != "" && key == tx.idemKey {
			ok(w, tx.record)
			return
		}
		reject(w, http.StatusConflict, "", "Transaction already completed")
		return
	case tx.failed:
		reject(w, http.StatusBadRequest, CodeQuoteExpired, "Quote has expired, please try again")
		return
	}

	authorized := (req.PIN != "" && req.PIN == s.PIN) ||
		(req.BiometricToken != "" && req.BiometricToken == s.BiometricToken)
	if !authorized {
		// Wrong PIN is reported in-band with HTTP 200.
		reject(w, http.StatusOK, CodeInvalidPIN, "Invalid PIN")
		return
	}

	total := tx.quote.TotalAmount
	if s.wallet[tx.currency].LessThan(total) {
		tx.failed = true
		reject(w, http.StatusBadRequest, CodeInsufficientBalance, "Insufficient balance")
		return
	}

	s.wallet[tx.currency] = s.wallet[tx.currency].Sub(total)
	tx.idemKey = key
	tx.record = &backend.Record{
		TransactionID: tx.quote.TransactionID,
		Reference:     tx.quote.Reference,
		Amount:        tx.amount,
		Fee:           tx.quote.Fee,
		TotalAmount:   total,
		Currency:      tx.currency,
		Status:        "successful",
		CreatedAt:     tx.createdAt,
	}
	ok(w, tx.record)
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	category := mux.Vars(r)["category"]
	providerID := r.URL.Query().Get("providerId")

	s.mu.Lock()
	plans := make([]backend.Plan, 0)
	for _, p := range s.plans[category] {
		if providerID == "" || p.providerID == providerID {
			plans = append(plans, p.plan)
		}
	}
	s.mu.Unlock()

	ok(w, plans)
}

func (s *Server) handleListBeneficiaries(w http.ResponseWriter, r *http.Request) {
	ok(w, s.Beneficiaries(mux.Vars(r)["category"]))
}

func (s *Server) handleCreateBeneficiary(w http.ResponseWriter, r *http.Request) {
	category := mux.Vars(r)["category"]

	var req backend.BeneficiaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reject(w, http.StatusBadRequest, "", "malformed request")
		return
	}

	s.mu.Lock()
	for _, b := range s.beneficiaries[category] {
		if b.ProviderID.String() == req.ProviderID && b.AccountNumber == req.AccountNumber {
			s.mu.Unlock()
			reject(w, http.StatusConflict, "", "Beneficiary already exists")
			return
		}
	}
	s.mu.Unlock()

	b := s.AddBeneficiary(backend.Beneficiary{
		Category:      category,
		ProviderID:    backend.ID(req.ProviderID),
		AccountNumber: req.AccountNumber,
		Name:          req.Name,
	})
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "data": b})
}

func (s *Server) handleUpdateBeneficiary(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req backend.BeneficiaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reject(w, http.StatusBadRequest, "", "malformed request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.beneficiaries[vars["category"]]
	for i := range list {
		if list[i].ID.String() == vars["id"] {
			list[i].Name = req.Name
			ok(w, list[i])
			return
		}
	}
	reject(w, http.StatusNotFound, "", "Beneficiary not found")
}

func (s *Server) handleDeleteBeneficiary(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.beneficiaries[vars["category"]]
	for i := range list {
		if list[i].ID.String() == vars["id"] {
			s.beneficiaries[vars["category"]] = append(list[:i:i], list[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	reject(w, http.StatusNotFound, "", "Beneficiary not found")
}

func ok(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": data})
}

func reject(w http.ResponseWriter, status int, code, message string) {
	body := map[string]interface{}{"success": false, "message": message}
	if code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
