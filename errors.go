package marketauth

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrValidation is returned for missing or malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized is returned for a missing, unknown or expired session, or a bad credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when an authenticated caller is not entitled to the target.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when the request clashes with existing state.
	ErrConflict = errors.New("conflict")
	// ErrRateLimited is matched by every *RateLimitError.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidOrExpiredToken is returned for absent, expired or already-used single-use tokens.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrInvalidOperation is returned for requests that are well-formed but not allowed in context.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrInternal hides store, mail and counter failures from callers.
	ErrInternal = errors.New("internal error")
	// ErrTwoFactorRequired is returned by helpers that expect a session but hit a 2FA challenge.
	ErrTwoFactorRequired = errors.New("two-factor authentication required")
	// ErrEngineNotReady is returned when the engine was not built through Builder.Build.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitError reports a limited request together with how long the
// client should wait. It matches ErrRateLimited under errors.Is.
type RateLimitError struct {
	Class      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s): retry after %ds", e.Class, e.RetryAfterSeconds())
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below one.
func (e *RateLimitError) RetryAfterSeconds() int {
	if e == nil || e.RetryAfter <= 0 {
		return 1
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}
