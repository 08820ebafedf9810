package rate

import (
	"context"
	"fmt"
	"time"
)

// Class names a group of endpoints sharing one threshold.
type Class string

const (
	ClassLogin         Class = "login"
	ClassRegister      Class = "register"
	ClassResetPassword Class = "resetPassword"
	ClassDefault       Class = "default"
)

// Config holds limiter tuning parameters.
type Config struct {
	Window     time.Duration
	Thresholds map[Class]int
}

// DefaultConfig returns a 15 minute window with the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Window: 15 * time.Minute,
		Thresholds: map[Class]int{
			ClassLogin:         5,
			ClassRegister:      3,
			ClassResetPassword: 3,
			ClassDefault:       100,
		},
	}
}

// CounterStore increments a windowed counter. The first increment of a key
// starts its window; ttl is the time left until the window resets.
//
// Peek reads a counter without charging it and reports zero for a key that
// is absent or whose window has ended. Reset drops a key.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
	Peek(ctx context.Context, key string) (count int64, ttl time.Duration, err error)
	Reset(ctx context.Context, key string) error
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	RetryAfter time.Duration
}

// Limiter enforces per-class, per-IP request budgets.
type Limiter struct {
	store  CounterStore
	config Config
}

// New creates a [Limiter] over store.
func New(store CounterStore, cfg Config) *Limiter {
	return &Limiter{
		store:  store,
		config: cfg,
	}
}

// Threshold returns the budget applied to class. Unknown classes fall back
// to ClassDefault.
func (l *Limiter) Threshold(class Class) int {
	if n, ok := l.config.Thresholds[class]; ok && n > 0 {
		return n
	}
	return l.config.Thresholds[ClassDefault]
}

// Check records one request for (class, ip) and reports whether it is
// within budget. Store failures are returned wrapped in
// ErrCounterUnavailable; callers must treat them as a denial.
func (l *Limiter) Check(ctx context.Context, class Class, ip string) (Decision, error) {
	limit := l.Threshold(class)

	count, ttl, err := l.store.Incr(ctx, key(class, ip), l.config.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}

	d := Decision{
		Allowed: count <= int64(limit),
		Count:   count,
		Limit:   limit,
	}
	if !d.Allowed {
		if ttl <= 0 {
			ttl = l.config.Window
		}
		d.RetryAfter = ttl
	}
	return d, nil
}

func key(class Class, ip string) string {
	if ip == "" {
		ip = "unknown"
	}
	return "rl:" + string(class) + ":" + ip
}
