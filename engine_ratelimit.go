package marketauth

import (
	"context"

	"github.com/MrEthical07/marketauth/internal/rate"
	"go.uber.org/zap"
)

// CheckRateLimit describes the checkratelimit operation and its observable behavior.
//
// CheckRateLimit counts one request of class from the client IP on ctx. It
// returns a *RateLimitError once the class budget for the window is spent
// and ErrInternal when the counter store is unreachable. Transports call it
// for endpoints that have no dedicated Engine method.
func (e *Engine) CheckRateLimit(ctx context.Context, class RateLimitClass) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.checkRate(ctx, class, "")
}

// checkRate charges the class before any credential work, so a denied request
// reveals nothing about credential validity.
func (e *Engine) checkRate(ctx context.Context, class RateLimitClass, userID string) error {
	ip := clientIPFromContext(ctx)

	decision, err := e.limiter.Check(ctx, class, ip)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		e.logger.Error("rate limit counter unavailable",
			zap.String("endpoint_class", string(class)),
			zap.Error(err),
		)
		e.emitAudit(ctx, auditEventRateLimitError, false, userID, "", ErrInternal, func() map[string]string {
			return map[string]string{
				"endpoint_class": string(class),
			}
		})
		return ErrInternal
	}
	if decision.Allowed {
		return nil
	}

	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitExceeded, false, userID, "", ErrRateLimited, func() map[string]string {
		return map[string]string{
			"endpoint_class": string(class),
		}
	})
	return &RateLimitError{
		Class:      string(class),
		RetryAfter: decision.RetryAfter,
	}
}

// checkAttempts refuses another code guess for userID once the account has
// spent its failure budget in l's scope. It does not charge the budget.
func (e *Engine) checkAttempts(ctx context.Context, l *rate.AttemptLimiter, userID string) error {
	d, err := l.Check(ctx, userID)
	return e.attemptOutcome(ctx, l, userID, d, err)
}

// recordAttemptFailure charges one wrong code to userID. The failure that
// exhausts the budget is itself reported as rate limited.
func (e *Engine) recordAttemptFailure(ctx context.Context, l *rate.AttemptLimiter, userID string) error {
	d, err := l.RecordFailure(ctx, userID)
	return e.attemptOutcome(ctx, l, userID, d, err)
}

func (e *Engine) resetAttempts(ctx context.Context, l *rate.AttemptLimiter, userID string) {
	if err := l.Reset(ctx, userID); err != nil {
		e.logger.Warn("attempt counter reset failed",
			zap.String("attempt_scope", string(l.Scope())),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

func (e *Engine) attemptOutcome(ctx context.Context, l *rate.AttemptLimiter, userID string, d rate.Decision, err error) error {
	scope := string(l.Scope())
	details := func() map[string]string {
		return map[string]string{
			"attempt_scope": scope,
		}
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		e.logger.Error("attempt counter unavailable",
			zap.String("attempt_scope", scope),
			zap.Error(err),
		)
		e.emitAudit(ctx, auditEventRateLimitError, false, userID, "", ErrInternal, details)
		return ErrInternal
	}
	if d.Allowed {
		return nil
	}

	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitExceeded, false, userID, "", ErrRateLimited, details)
	return &RateLimitError{
		Class:      scope,
		RetryAfter: d.RetryAfter,
	}
}
