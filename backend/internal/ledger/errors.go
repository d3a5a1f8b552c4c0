package ledger

import (
	"errors"
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// ErrConflict is returned by a Store when a ledger was modified by another
// writer between load and save.
var ErrConflict = errors.New("ledger was modified concurrently")

// ValidationError reports malformed, missing or out-of-range input.
// It never accompanies a state change.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InsufficientFundsError rejects a buy costing more than the cash balance.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
	Currency  string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("Insufficient funds. Required: %s, Available: %s",
		display(e.Required, e.Currency), display(e.Available, e.Currency))
}

// InsufficientSharesError rejects a sell larger than the position held.
type InsufficientSharesError struct {
	Symbol    string
	Held      decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("Not enough shares to sell. You have %s %s shares.", e.Held, e.Symbol)
}

// PersistenceError wraps a storage failure. The whole operation may be retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// IsRejection reports whether err is a client-correctable rejection
// (validation or business rule) rather than an internal failure.
func IsRejection(err error) bool {
	var v *ValidationError
	var f *InsufficientFundsError
	var s *InsufficientSharesError
	return errors.As(err, &v) || errors.As(err, &f) || errors.As(err, &s)
}

// display formats an amount in currency, falling back to the plain decimal
// for codes go-money does not know and for amounts whose minor units
// overflow an int64.
func display(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if currency == "" || cur == nil {
		return amount.StringFixed(2)
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	if !minor.BigInt().IsInt64() {
		return amount.StringFixed(2)
	}
	return money.New(minor.IntPart(), cur.Code).Display()
}
