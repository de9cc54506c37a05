package domain

import (
	"context"
	"errors"
)

// Error taxonomy of the orchestrator. Attempt-level and scorer-level errors
// are contained and recorded as structured fields on the Attempt/ScoreRecord;
// only TotalSlotFailure and invalid input escalate to the job.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidSpec       = errors.New("invalid spec")
	ErrProviderTransient = errors.New("provider transient failure")
	ErrProviderPermanent = errors.New("provider permanent failure")
	ErrScorerUnavailable = errors.New("scorer unavailable")
	ErrTotalSlotFailure  = errors.New("all attempts in slot failed")
	ErrCancelled         = errors.New("cancelled by user")
	ErrNotInGroup        = errors.New("attempt does not belong to group")
)

// ErrorClass labels stored attempt failures for diagnostics and analytics.
const (
	ClassTransient = "provider_transient"
	ClassPermanent = "provider_permanent"
	ClassTimeout   = "timeout"
	ClassCancelled = "cancelled"
)

// IsRetryable reports whether an error should be retried under a stage's
// retry policy. Timeouts count as transient up to the retry budget.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderTransient) || errors.Is(err, context.DeadlineExceeded)
}

// ClassifyAttemptError maps a provider error to a stored error class.
func ClassifyAttemptError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled):
		return ClassCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, ErrProviderPermanent):
		return ClassPermanent
	default:
		return ClassTransient
	}
}
