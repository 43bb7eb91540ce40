package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Lookup errors
	ErrNotFound      = errors.New("not found")
	ErrAccountExists = errors.New("account already exists")

	// Argument errors
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrInvalidAmount          = fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	ErrInvalidBalanceType     = fmt.Errorf("%w: unknown balance type", ErrInvalidArgument)
	ErrInvalidTransactionType = fmt.Errorf("%w: unknown transaction type", ErrInvalidArgument)

	// Funds errors
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// InsufficientBalanceError carries the amounts behind an outgoing deduction
// that was refused. It matches ErrInsufficientBalance with errors.Is.
type InsufficientBalanceError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s, available %s", e.Required, e.Available)
}

// Is lets errors.Is(err, ErrInsufficientBalance) match.
func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}
