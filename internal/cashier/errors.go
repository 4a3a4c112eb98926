package cashier

import (
	"errors"
	"fmt"

	"restopos/internal/money"

	"github.com/google/uuid"
)

// Sentinels for errors.Is. Every typed error below unwraps to one of them.
var (
	ErrValidation          = errors.New("validation failed")
	ErrInvalidState        = errors.New("invalid state")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// ValidationError reports malformed or out-of-range input. The ledger is unchanged.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
	Cause  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrValidation, e.Cause}
	}
	return []error{ErrValidation}
}

// InvalidStateError reports an operation against a session or sale in the wrong
// lifecycle state. Callers should re-fetch and decide.
type InvalidStateError struct {
	Entity string // "session" | "sale"
	ID     uuid.UUID
	State  string
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: %s %s is %s", e.Op, e.Entity, e.ID, e.State)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// InsufficientBalanceError reports a withdrawal larger than the drawer holds.
type InsufficientBalanceError struct {
	Requested money.Cents
	Available money.Cents
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("withdrawal of %s exceeds available balance %s", e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

func invalid(field string, value any, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// ParseAmount parses a formatted amount coming from the operator surface and
// reports failures as a ValidationError on field.
func ParseAmount(field, raw string) (money.Cents, error) {
	c, err := money.Parse(raw)
	if err != nil {
		reason := "not a valid amount"
		if errors.Is(err, money.ErrPrecision) {
			reason = "more than two decimal places"
		}
		return 0, &ValidationError{Field: field, Value: raw, Reason: reason, Cause: err}
	}
	return c, nil
}
