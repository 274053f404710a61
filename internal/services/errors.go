package services

import "errors"

// Business-rule violations: terminal failures, never retried, logged for
// operator review.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoActiveHold      = errors.New("no active hold for reference")
	ErrReferenceMismatch = errors.New("hold does not match reference amount or account")
	ErrNotReversible     = errors.New("entry cannot be reversed")
)

// Contract errors: rejected before any state is touched.
var (
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrEmptyReference = errors.New("reference id must not be empty")
)

// Idempotent no-ops: the transition was already durably recorded. These are
// returned alongside the existing entry and are safe to treat as success,
// which makes redelivered events harmless.
var (
	ErrAlreadyGranted  = errors.New("grant already processed")
	ErrAlreadyHeld     = errors.New("hold already placed")
	ErrAlreadyReleased = errors.New("credits already released")
	ErrAlreadyRefunded = errors.New("credits already refunded")
	ErrAlreadyResolved = errors.New("reference already resolved by the opposing outcome")
	ErrAlreadyReversed = errors.New("entry already reversed")
)

// IsDuplicate reports whether err is an idempotent no-op rather than a real
// failure.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrAlreadyGranted) ||
		errors.Is(err, ErrAlreadyHeld) ||
		errors.Is(err, ErrAlreadyReleased) ||
		errors.Is(err, ErrAlreadyRefunded) ||
		errors.Is(err, ErrAlreadyResolved) ||
		errors.Is(err, ErrAlreadyReversed)
}

// IsBusinessRuleViolation reports whether err indicates an upstream data
// inconsistency that retrying cannot fix.
func IsBusinessRuleViolation(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrNoActiveHold) ||
		errors.Is(err, ErrReferenceMismatch) ||
		errors.Is(err, ErrNotReversible) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrEmptyReference)
}
