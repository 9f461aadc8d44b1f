package store

import "errors"

var (
	// ErrNotFound is returned when a record is missing or not visible to the
	// caller. Ownership failures deliberately look identical to absence.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientCredits is returned when a debit would drive a balance
	// negative. The balance is left unchanged.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrInvalidStateTransition is returned for an illegal message or job
	// status change. Terminal states are immutable.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrAlreadyClaimed is returned to a caller that lost a job-claim race.
	ErrAlreadyClaimed = errors.New("job already claimed")
)
