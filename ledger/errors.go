/*
errors.go - Centralized error types for the debt ledger

ERROR CATEGORIES:
  1. Ledger errors - Rejected writes (bad amount, self debt, duplicates)
  2. Store errors - Database-level failures, wrapped with context

USAGE:
  if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
      // Same prompt pressed twice; nothing new was written
  }
*/
package ledger

import "errors"

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNonPositiveAmount is returned when a transaction amount is zero or
	// negative. Direction lives in creditor/debitor, never in the sign.
	ErrNonPositiveAmount = errors.New("transaction amount must be positive")

	// ErrSelfTransaction is returned when creditor and debitor are the same user.
	ErrSelfTransaction = errors.New("creditor and debitor must differ")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// IsClientError returns true if the error is due to invalid user input
// rather than a storage failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNonPositiveAmount) ||
		errors.Is(err, ErrSelfTransaction) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}
