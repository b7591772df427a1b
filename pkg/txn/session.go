package txn

import (
	"sync"

	"txflow/pkg/backend"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Observer is notified after every applied transition, outside the session lock.
type Observer func(from, to Status)

// Session is one in-flight transaction owned by a single flow. Methods are
// safe for concurrent use since responses may land on another goroutine
// after the owner reset the session.
type Session struct {
	mu sync.Mutex

	category string
	currency string

	status         Status
	transactionID  backend.ID
	reference      string
	amount         decimal.Decimal
	fee            decimal.Decimal
	totalAmount    decimal.Decimal
	record         *backend.Record
	idempotencyKey string

	// generation is bumped by Reset; completions carrying an older
	// generation are discarded.
	generation uint64

	observers []Observer
}

// NewSession creates a Draft session for category, settled in currency.
func NewSession(category, currency string, observers ...Observer) *Session {
	return &Session{
		category:  category,
		currency:  currency,
		observers: observers,
	}
}

// View is a consistent copy of a session's fields.
type View struct {
	Category       string
	Currency       string
	Status         Status
	TransactionID  backend.ID
	Reference      string
	Amount         decimal.Decimal
	Fee            decimal.Decimal
	TotalAmount    decimal.Decimal
	// Record is set once Succeeded and is what a receipt shows.
	Record         *backend.Record
	IdempotencyKey string
	Generation     uint64
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		Category:       s.category,
		Currency:       s.currency,
		Status:         s.status,
		TransactionID:  s.transactionID,
		Reference:      s.reference,
		Amount:         s.amount,
		Fee:            s.fee,
		TotalAmount:    s.totalAmount,
		Record:         s.record,
		IdempotencyKey: s.idempotencyKey,
		Generation:     s.generation,
	}
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Category returns the transaction category.
func (s *Session) Category() string { return s.category }

// Currency returns the settlement currency.
func (s *Session) Currency() string { return s.currency }

// Generation returns the current generation.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// ApplyQuote moves Draft -> Quoted with the server's quote. The server's
// totals are stored verbatim; amount is used only when the server omits it.
func (s *Session) ApplyQuote(q backend.Quote, amount decimal.Decimal) error {
	if q.TransactionID == "" {
		return ErrMissingTransactionID
	}

	s.mu.Lock()
	from := s.status
	if err := s.guard(Quoted); err != nil {
		s.mu.Unlock()
		return err
	}
	s.transactionID = q.TransactionID
	s.reference = q.Reference
	s.amount = amount
	if q.Amount.Valid {
		s.amount = q.Amount.Decimal
	}
	s.fee = q.Fee
	s.totalAmount = q.TotalAmount
	s.idempotencyKey = uuid.NewString()
	s.status = Quoted
	s.mu.Unlock()

	s.notify(from, Quoted)
	return nil
}

// BeginConfirm moves Quoted -> Confirming and returns the generation the
// completion must present.
func (s *Session) BeginConfirm() (uint64, error) {
	s.mu.Lock()
	if err := s.guard(Confirming); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	if s.transactionID == "" {
		s.mu.Unlock()
		return 0, ErrMissingTransactionID
	}
	s.status = Confirming
	gen := s.generation
	s.mu.Unlock()

	s.notify(Quoted, Confirming)
	return gen, nil
}

// Succeed moves Confirming -> Succeeded and stores the canonical record.
// The quoted amount, fee and total are replaced by the record's, even when
// the record omits them; a nil record stands for one carrying only the
// transaction id.
func (s *Session) Succeed(gen uint64, rec *backend.Record) error {
	return s.complete(gen, Succeeded, func() {
		if rec == nil {
			rec = &backend.Record{TransactionID: s.transactionID}
		}
		s.record = rec
		s.amount = rec.Amount
		s.fee = rec.Fee
		s.totalAmount = rec.TotalAmount
		if rec.Reference != "" {
			s.reference = rec.Reference
		}
	})
}

// Recover moves Confirming -> Quoted keeping the transaction id and reference.
func (s *Session) Recover(gen uint64) error {
	return s.complete(gen, Quoted, nil)
}

// Fail moves Confirming -> Failed.
func (s *Session) Fail(gen uint64) error {
	return s.complete(gen, Failed, nil)
}

func (s *Session) complete(gen uint64, to Status, apply func()) error {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return ErrSessionAbandoned
	}
	if err := s.guard(to); err != nil {
		s.mu.Unlock()
		return err
	}
	if apply != nil {
		apply()
	}
	s.status = to
	s.mu.Unlock()

	s.notify(Confirming, to)
	return nil
}

// Reset returns the session to Draft from any state, erasing the quote.
// A confirm still in flight will find the session abandoned.
func (s *Session) Reset() {
	s.mu.Lock()
	from := s.status
	s.generation++
	s.status = Draft
	s.transactionID = ""
	s.reference = ""
	s.amount = decimal.Zero
	s.fee = decimal.Zero
	s.totalAmount = decimal.Zero
	s.record = nil
	s.idempotencyKey = ""
	s.mu.Unlock()

	if from != Draft {
		s.notify(from, Draft)
	}
}

// guard must be called with mu held.
func (s *Session) guard(to Status) error {
	if !CanTransition(s.status, to) {
		return &TransitionError{From: s.status, To: to}
	}
	return nil
}

func (s *Session) notify(from, to Status) {
	for _, o := range s.observers {
		o(from, to)
	}
}
