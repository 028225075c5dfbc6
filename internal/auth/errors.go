package auth

import (
	"errors"
	"fmt"
	"time"
)

// Credential and code failures carry one generic message each so the
// response never reveals whether the account exists, is inactive, or
// which sub-check failed.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidCode        = errors.New("invalid code")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrForbidden          = errors.New("forbidden")
	// ErrStoreUnavailable marks storage-layer faults. They are never
	// conflated with credential failures; callers map them to 503.
	ErrStoreUnavailable = errors.New("authentication backend unavailable")

	ErrTOTPAlreadyEnabled   = errors.New("two-factor authentication already enabled")
	ErrTOTPNotEnabled       = errors.New("two-factor authentication not enabled")
	ErrEnrollmentNotStarted = errors.New("two-factor enrollment not started")
)

// RateLimitedError reports an exhausted attempt budget. RetryAfter is
// the full window size, not the precise remaining time: limiter
// internals stay undisclosed.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter)
}

// ValidationError carries the specific violated rule. This is
// pre-authentication self-service feedback, so being precise is
// intentional.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}
