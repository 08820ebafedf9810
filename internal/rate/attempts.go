package rate

import (
	"context"
	"fmt"
	"time"
)

// AttemptScope names the secret an AttemptLimiter guards.
type AttemptScope string

const (
	ScopeTwoFactor         AttemptScope = "totp"
	ScopeEmailVerification AttemptScope = "verify"
)

const (
	defaultMaxAttempts = 5
	defaultCooldown    = 15 * time.Minute
)

// AttemptConfig holds the failure budget of one AttemptLimiter. Zero fields
// fall back to 5 attempts and a 15 minute cooldown.
type AttemptConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// AttemptLimiter counts failed guesses per account, independent of the
// client address. The first failure starts a cooldown window; once
// MaxAttempts failures are recorded every check is denied until the window
// ends or Reset is called.
type AttemptLimiter struct {
	store       CounterStore
	scope       AttemptScope
	maxAttempts int64
	cooldown    time.Duration
}

// NewAttemptLimiter creates an [AttemptLimiter] for scope over store.
func NewAttemptLimiter(store CounterStore, scope AttemptScope, cfg AttemptConfig) *AttemptLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultMaxAttempts
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = defaultCooldown
	}
	return &AttemptLimiter{
		store:       store,
		scope:       scope,
		maxAttempts: int64(max),
		cooldown:    cd,
	}
}

// Scope returns the scope the limiter was created for.
func (l *AttemptLimiter) Scope() AttemptScope {
	return l.scope
}

func (l *AttemptLimiter) key(subject string) string {
	return "att:" + string(l.scope) + ":" + subject
}

// Check reports whether subject may try another code. It does not charge
// the budget.
func (l *AttemptLimiter) Check(ctx context.Context, subject string) (Decision, error) {
	count, ttl, err := l.store.Peek(ctx, l.key(subject))
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return l.decide(count, ttl), nil
}

// RecordFailure charges one failed attempt. The returned decision is denied
// once the failure that exhausts the budget has been recorded.
func (l *AttemptLimiter) RecordFailure(ctx context.Context, subject string) (Decision, error) {
	count, ttl, err := l.store.Incr(ctx, l.key(subject), l.cooldown)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return l.decide(count, ttl), nil
}

// Reset clears the failures of subject after a successful attempt.
func (l *AttemptLimiter) Reset(ctx context.Context, subject string) error {
	if err := l.store.Reset(ctx, l.key(subject)); err != nil {
		return fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return nil
}

func (l *AttemptLimiter) decide(count int64, ttl time.Duration) Decision {
	d := Decision{
		Allowed: count < l.maxAttempts,
		Count:   count,
		Limit:   int(l.maxAttempts),
	}
	if !d.Allowed {
		if ttl <= 0 {
			ttl = l.cooldown
		}
		d.RetryAfter = ttl
	}
	return d
}
