package txn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"txflow/pkg/backend"
)

var (
	// ErrInvalidTransition is returned for any transition the state machine does not allow.
	ErrInvalidTransition = errors.New("txn: invalid transition")

	// ErrSessionAbandoned is returned when a response arrives for a session
	// that was reset while the call was in flight. The response is discarded.
	ErrSessionAbandoned = errors.New("txn: session abandoned")

	// ErrMissingTransactionID is returned when a quote without a transaction
	// id is applied; such a quote can never be confirmed.
	ErrMissingTransactionID = errors.New("txn: quote has no transaction id")
)

// TransitionError describes a rejected transition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("txn: invalid transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Phase is the workflow step an error came from.
type Phase int

const (
	PhaseQuote Phase = iota
	PhaseConfirm
)

func (p Phase) String() string {
	if p == PhaseConfirm {
		return "confirm"
	}
	return "quote"
}

// Reason is the business rule behind a rejection.
type Reason string

const (
	ReasonInsufficientBalance Reason = "insufficient_balance"
	ReasonQuoteExpired        Reason = "quote_expired"
	ReasonInvalidPIN          Reason = "invalid_pin"
	ReasonOther               Reason = "rejected"
)

// ValidationError is a malformed intent. It is fixed by changing the input.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "txn: validation failed: " + e.Message
	}
	return fmt.Sprintf("txn: validation failed: %s", strings.Join(e.fieldMessages(), "; "))
}

func (e *ValidationError) fieldMessages() []string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, len(keys))
	for i, k := range keys {
		msgs[i] = k + ": " + e.Fields[k]
	}
	return msgs
}

// TransportError is a connectivity failure. Retrying as-is is safe.
type TransportError struct {
	Phase Phase
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("txn: %s transport error: %v", e.Phase, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectedError is a business-rule refusal by the backend. The session that
// received it must be re-quoted.
type RejectedError struct {
	Phase   Phase
	Reason  Reason
	Message string
	Err     error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("txn: %s rejected (%s): %s", e.Phase, e.Reason, e.Message)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// InvalidFactorError is a wrong PIN or failed biometric. The same session
// may be retried with a new factor.
type InvalidFactorError struct {
	Message string
	Err     error
}

func (e *InvalidFactorError) Error() string {
	if e.Message == "" {
		return "txn: invalid security factor"
	}
	return "txn: invalid security factor: " + e.Message
}

func (e *InvalidFactorError) Unwrap() error { return e.Err }

// ReasonOf infers the business rule behind a rejection from the backend's
// error code, falling back to its message.
func ReasonOf(code, message string) Reason {
	switch strings.ToUpper(code) {
	case "INSUFFICIENT_BALANCE", "INSUFFICIENT_FUNDS":
		return ReasonInsufficientBalance
	case "QUOTE_EXPIRED", "TRANSACTION_EXPIRED":
		return ReasonQuoteExpired
	case "INVALID_PIN", "INCORRECT_PIN":
		return ReasonInvalidPIN
	}

	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "insufficient"):
		return ReasonInsufficientBalance
	case strings.Contains(m, "expired"):
		return ReasonQuoteExpired
	case strings.Contains(m, "pin"):
		return ReasonInvalidPIN
	}
	return ReasonOther
}

// Translate maps a backend error of the given phase into the workflow taxonomy.
// Errors it does not recognise are returned unchanged.
func Translate(phase Phase, err error) error {
	if err == nil {
		return nil
	}
	if backend.IsNetwork(err) {
		return &TransportError{Phase: phase, Err: err}
	}

	apiErr, ok := backend.AsAPIError(err)
	if !ok {
		return err
	}

	if phase == PhaseQuote {
		if len(apiErr.Fields) > 0 && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return &ValidationError{Message: apiErr.Message, Fields: apiErr.Fields}
		}
		return &RejectedError{Phase: phase, Reason: ReasonOf(apiErr.Code, apiErr.Message), Message: apiErr.Message, Err: err}
	}

	// A 5xx leaves the outcome unknown; the transaction id is idempotent
	// so the confirm is retried like a transport failure.
	if apiErr.Temporary() {
		return &TransportError{Phase: phase, Err: err}
	}

	switch reason := ReasonOf(apiErr.Code, apiErr.Message); {
	case reason == ReasonInvalidPIN:
		return &InvalidFactorError{Message: apiErr.Message, Err: err}
	case reason != ReasonOther:
		return &RejectedError{Phase: phase, Reason: reason, Message: apiErr.Message, Err: err}
	case apiErr.StatusCode == http.StatusOK:
		// success=false without a recognised code.
		return &InvalidFactorError{Message: apiErr.Message, Err: err}
	default:
		return &RejectedError{Phase: phase, Reason: ReasonOther, Message: apiErr.Message, Err: err}
	}
}

// IsRetryable reports whether the user may retry the same session as-is
// (transport) or with a new factor (invalid factor).
func IsRetryable(err error) bool {
	var te *TransportError
	var fe *InvalidFactorError
	return errors.As(err, &te) || errors.As(err, &fe)
}

// IsInsufficientBalance reports whether err is an insufficient-balance rejection.
func IsInsufficientBalance(err error) bool {
	var re *RejectedError
	return errors.As(err, &re) && re.Reason == ReasonInsufficientBalance
}

// Classify returns a short label for metrics.
func Classify(err error) string {
	var (
		ve *ValidationError
		te *TransportError
		re *RejectedError
		fe *InvalidFactorError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &fe):
		return "invalid_factor"
	case errors.As(err, &re):
		return re.Phase.String() + "_rejected"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &te):
		return "transport"
	case errors.Is(err, ErrSessionAbandoned):
		return "abandoned"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, backend.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unknown"
	}
}

// UserMessage returns the single message shown to the user for err.
func UserMessage(err error) string {
	var (
		ve *ValidationError
		te *TransportError
		re *RejectedError
		fe *InvalidFactorError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		if len(ve.Fields) > 0 {
			return strings.Join(ve.fieldMessages(), "\n")
		}
		if ve.Message != "" {
			return ve.Message
		}
		return "Please check the details and try again."
	case errors.As(err, &te):
		return "Network connection problem. Please check your connection and try again."
	case errors.As(err, &fe):
		if fe.Message != "" {
			return fe.Message
		}
		return "Incorrect PIN. Please try again."
	case errors.As(err, &re):
		if re.Message != "" {
			return re.Message
		}
		switch re.Reason {
		case ReasonInsufficientBalance:
			return "Insufficient balance. Please fund your wallet and start again."
		case ReasonQuoteExpired:
			return "This quote has expired. Please start again."
		}
		return "The transaction was declined. Please start again."
	case errors.Is(err, ErrSessionAbandoned):
		return "The transaction was cancelled."
	case errors.Is(err, backend.ErrUnauthorized):
		return "Your session has expired. Please sign in again."
	default:
		return "Something went wrong. Please try again."
	}
}
