package gate

import (
	"context"
	"errors"

	"txflow/pkg/txn"
)

// PINLength is the number of digits of a transaction PIN.
const PINLength = 4

// Factor is the second factor presented for one confirm attempt: a PIN or
// a biometric assertion. A PIN is held as bytes so it can be zeroed.
type Factor struct {
	pin   []byte
	token string
}

// PINBytes wraps pin without copying. The gate zeroes pin once the attempt
// resolves, whatever the outcome.
func PINBytes(pin []byte) Factor {
	return Factor{pin: pin}
}

// PIN copies pin into a Factor.
func PIN(pin string) Factor {
	return Factor{pin: []byte(pin)}
}

// Biometric wraps the token issued by a successful platform challenge.
func Biometric(token string) Factor {
	return Factor{token: token}
}

// IsBiometric reports whether the factor is a biometric assertion.
func (f Factor) IsBiometric() bool {
	return f.pin == nil && f.token != ""
}

// Clear zeroes the PIN bytes.
func (f Factor) Clear() {
	for i := range f.pin {
		f.pin[i] = 0
	}
}

func (f Factor) validate() error {
	if f.IsBiometric() {
		return nil
	}
	if len(f.pin) != PINLength {
		return invalidPIN()
	}
	for _, b := range f.pin {
		if b < '0' || b > '9' {
			return invalidPIN()
		}
	}
	return nil
}

func invalidPIN() error {
	return &txn.ValidationError{
		Message: "PIN must be exactly 4 digits",
		Fields:  map[string]string{"pin": "PIN must be exactly 4 digits"},
	}
}

// ErrBiometricCanceled is returned by an Authenticator when the user
// dismissed the challenge.
var ErrBiometricCanceled = errors.New("gate: biometric canceled")

// Authenticator runs the platform biometric challenge and returns an
// assertion token. It returns ErrBiometricCanceled on user cancellation and
// any other error on failure.
type Authenticator interface {
	Authenticate(ctx context.Context) (string, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context) (string, error)

// Authenticate implements Authenticator.
func (f AuthenticatorFunc) Authenticate(ctx context.Context) (string, error) { return f(ctx) }
