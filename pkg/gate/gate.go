package gate

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"txflow/pkg/backend"
	"txflow/pkg/logging"
	"txflow/pkg/metrics"
	"txflow/pkg/txn"

	"go.uber.org/zap"
)

// ErrConfirmInFlight is returned when a confirm is attempted while another
// one of the same flow is outstanding. No request is sent.
var ErrConfirmInFlight = errors.New("gate: confirm already in flight")

// Confirmer executes the confirm call. *backend.Client implements it.
type Confirmer interface {
	Confirm(ctx context.Context, category string, req backend.ConfirmRequest, idempotencyKey string) (*backend.Record, error)
}

// Gate collects the second factor and confirms a quoted session. One Gate
// belongs to one user flow.
type Gate struct {
	confirmer Confirmer
	inflight  atomic.Bool
	metrics   metrics.MetricsCollector
	logger    *logging.Logger
}

// New creates a Gate.
func New(confirmer Confirmer, mc metrics.MetricsCollector) *Gate {
	if mc == nil {
		mc = metrics.NoOpCollector{}
	}
	return &Gate{
		confirmer: confirmer,
		metrics:   mc,
		logger:    logging.L().Named("gate"),
	}
}

// Confirm runs one confirm attempt of s with factor f. On return the
// session is Succeeded, back in Quoted (retryable errors), Failed
// (rejections), or unchanged (precondition errors and abandoned sessions).
// The PIN is zeroed on every path.
func (g *Gate) Confirm(ctx context.Context, s *txn.Session, f Factor) (*backend.Record, error) {
	defer f.Clear()

	if err := f.validate(); err != nil {
		return nil, err
	}
	if !g.inflight.CompareAndSwap(false, true) {
		return nil, ErrConfirmInFlight
	}
	defer g.inflight.Store(false)

	gen, err := s.BeginConfirm()
	if err != nil {
		return nil, err
	}

	v := s.View()
	biometric := f.IsBiometric()
	req := backend.ConfirmRequest{TransactionID: v.TransactionID}
	if biometric {
		req.BiometricToken = f.token
	} else {
		req.PIN = string(f.pin)
	}
	f.Clear()

	logger := g.logger.With(
		zap.String("category", v.Category),
		zap.String("transaction_id", v.TransactionID.String()),
		zap.String("reference", v.Reference),
		zap.Bool("biometric", biometric),
	)

	start := time.Now()
	rec, err := g.confirmer.Confirm(ctx, v.Category, req, v.IdempotencyKey)
	req.PIN = ""
	err = g.resolve(s, gen, rec, err)

	outcome := txn.Classify(err)
	g.metrics.RecordConfirm(v.Category, outcome, time.Since(start))
	if err != nil {
		logger.Info("confirm failed",
			zap.String("outcome", outcome),
			zap.String("status", s.Status().String()),
			zap.Error(err),
		)
		return nil, err
	}

	logger.Info("confirm succeeded", zap.Duration("duration", time.Since(start)))
	return rec, nil
}

// resolve applies the confirm result to the session and returns the error
// the caller sees.
func (g *Gate) resolve(s *txn.Session, gen uint64, rec *backend.Record, callErr error) error {
	if callErr == nil {
		return s.Succeed(gen, rec)
	}

	err := txn.Translate(txn.PhaseConfirm, callErr)

	var rejected *txn.RejectedError
	var serr error
	if errors.As(err, &rejected) {
		serr = s.Fail(gen)
	} else {
		serr = s.Recover(gen)
	}
	if serr != nil {
		return serr
	}
	return err
}

// ConfirmBiometric runs the platform challenge and confirms with its token.
// A cancelled challenge returns (nil, nil) and leaves the session untouched;
// a failed challenge returns *txn.InvalidFactorError without a transition.
func (g *Gate) ConfirmBiometric(ctx context.Context, s *txn.Session, auth Authenticator) (*backend.Record, error) {
	if status := s.Status(); status != txn.Quoted {
		return nil, &txn.TransitionError{From: status, To: txn.Confirming}
	}

	token, err := auth.Authenticate(ctx)
	switch {
	case errors.Is(err, ErrBiometricCanceled):
		g.logger.Debug("biometric challenge canceled")
		return nil, nil
	case err != nil:
		return nil, &txn.InvalidFactorError{Message: "Biometric authentication failed", Err: err}
	case token == "":
		return nil, &txn.InvalidFactorError{Message: "Biometric authentication failed"}
	}

	return g.Confirm(ctx, s, Biometric(token))
}
