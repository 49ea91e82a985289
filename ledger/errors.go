/*
errors.go - Centralized error types for the posting engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch on sentinels with errors.Is(); structured errors carry
  the context needed for actionable messages.

ERROR CATEGORIES:
  1. Validation errors - rejected before any write (fail fast)
  2. State errors - entry/account exists but is in the wrong state
  3. Storage errors - transaction/persistence failures (retryable)

RETRY POLICY:
  Validation errors are non-retryable: the same inputs will fail again.
  Storage failures are retryable as a whole operation - idempotency keys
  make the retry safe. Duplicate posting is NOT an error at all: the
  engine returns the pre-existing entry.

SEE ALSO:
  - engine.go: raises these errors
  - store.go: storage implementations map driver errors onto these
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
	// ErrInvalidAmount is returned when an entry amount is zero or negative.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrAccountNotFound is returned when an entry references an unknown
	// account code.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountInactive is returned when an entry references a
	// deactivated account. Existing entries on the account are unaffected.
	ErrAccountInactive = errors.New("account is inactive")

	// ErrUnbalancedPosting is returned when a pair or batch does not
	// balance. This is a programming error in the caller; never retry.
	ErrUnbalancedPosting = errors.New("unbalanced posting")

	// ErrEntryNotFound is returned when a referenced entry does not exist.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrEntryVoided is returned when an operation requires a POSTED
	// entry but the entry is already VOID.
	ErrEntryVoided = errors.New("ledger entry is void")

	// ErrScheduleNotFound is returned when a referenced charge schedule
	// does not exist.
	ErrScheduleNotFound = errors.New("charge schedule not found")

	// ErrTransactionFailed is returned when a storage transaction cannot
	// commit. Retry the whole logical operation; idempotency keys make
	// the retry safe.
	ErrTransactionFailed = errors.New("transaction failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UnbalancedPostingError reports the totals that failed to balance.
type UnbalancedPostingError struct {
	DebitTotal  decimal.Decimal
	CreditTotal decimal.Decimal
}

func (e *UnbalancedPostingError) Error() string {
	return fmt.Sprintf("unbalanced posting: debits %s != credits %s",
		e.DebitTotal.StringFixed(2), e.CreditTotal.StringFixed(2))
}

func (e *UnbalancedPostingError) Unwrap() error { return ErrUnbalancedPosting }

// AccountError identifies which account code failed validation.
type AccountError struct {
	Code string
	Err  error // ErrAccountNotFound or ErrAccountInactive
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("account %q: %v", e.Code, e.Err)
}

func (e *AccountError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if retrying the whole operation might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionFailed)
}

// IsValidation returns true if the error is due to invalid caller input
// and will fail identically on retry.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrAccountInactive) ||
		errors.Is(err, ErrUnbalancedPosting)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrScheduleNotFound)
}
