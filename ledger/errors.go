/*
errors.go - Centralized error taxonomy for the ledger engine

PURPOSE:
  All error types in one place. Callers branch with errors.Is(); structured
  errors carry context and unwrap to their sentinel.

ERROR CATEGORIES:
  1. Input errors     - malformed amounts, self-transfer, bad identifiers
  2. Business errors  - missing accounts, insufficient balance
  3. Store errors     - conflicts, timeouts, unreachable storage

PROPAGATION CONTRACT:
  Every failure inside the atomic unit aborts the whole unit before it is
  surfaced; partial mutation is never observable. In-unit failures are
  wrapped with ErrTransferFailed so callers can distinguish "the transfer
  did not happen" from pre-validation rejections, while errors.Is still
  reaches the specific cause.

SEE ALSO:
  - engine.go: Produces these errors
  - api/handlers.go: Maps them to HTTP statuses
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned for malformed amounts, malformed
	// identifiers, and self-transfers. Rejected before the atomic unit opens.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidAmount is returned when an opening balance is negative.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrAccountNotFound is returned when no account exists for an owner.
	ErrAccountNotFound = errors.New("account not found")

	// ErrSenderNotFound is returned when the sender has no account.
	ErrSenderNotFound = errors.New("sender account not found")

	// ErrRecipientNotFound is returned when the recipient has no account.
	ErrRecipientNotFound = errors.New("recipient account not found")

	// ErrAccountExists is returned when an owner already has an account.
	ErrAccountExists = errors.New("account already exists")

	// ErrInsufficientBalance is returned when a debit would drive the
	// balance negative.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConflict is returned when the store detects a concurrent
	// modification it cannot serialize. Retry is the caller's decision.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrTimeout is returned when the atomic unit exceeded its hold time.
	ErrTimeout = errors.New("operation timed out")

	// ErrCancelled is returned when the caller abandoned the operation
	// before it committed. Distinct from ErrTimeout: the service did not
	// run out of time, the caller went away.
	ErrCancelled = errors.New("operation cancelled")

	// ErrStoreUnavailable is returned when the underlying storage is
	// unreachable.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrTransferFailed wraps any failure that aborted an in-flight
	// transfer. Abort is terminal for the call; there is no automatic retry.
	ErrTransferFailed = errors.New("transfer failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports a balance shortage.
type InsufficientBalanceError struct {
	OwnerID   OwnerID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s",
		e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// InputError reports which field of a transfer request was rejected.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is the caller's fault rather than
// an infrastructure fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAccountExists)
}

// IsNotFound reports whether the error indicates a missing account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrSenderNotFound) ||
		errors.Is(err, ErrRecipientNotFound)
}

// IsRetryable reports whether resubmitting the same request might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrStoreUnavailable)
}
