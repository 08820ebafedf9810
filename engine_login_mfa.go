package marketauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/marketauth/store"
	"go.uber.org/zap"
)

// CompleteTwoFactorLogin describes the completetwofactorlogin operation and its observable behavior.
//
// CompleteTwoFactorLogin exchanges a ticket from Login plus a TOTP or backup
// code for a session. It is charged to the login rate limit. An invalid,
// expired or already redeemed ticket, a wrong code or a factor disabled
// since the ticket was issued all yield ErrUnauthorized. Wrong codes also
// count against the account's TwoFactor.MaxAttempts budget.
func (e *Engine) CompleteTwoFactorLogin(ctx context.Context, ticket, code, userAgent, ip string) (*LoginResult, error) {
	if !e.ready() || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	ctx = withClient(ctx, userAgent, ip)

	if err := e.checkRate(ctx, RateLimitLogin, ""); err != nil {
		return nil, err
	}

	claims, err := e.jwtManager.ParseTicket(ticket)
	if err != nil || claims.ID == "" {
		e.twoFactorLoginFailed(ctx, "", "invalid_ticket")
		return nil, ErrUnauthorized
	}
	used, err := e.ticketUsed(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if used {
		e.twoFactorLoginFailed(ctx, claims.UID, "ticket_reused")
		return nil, ErrUnauthorized
	}

	u, err := e.store.UserByID(ctx, claims.UID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.twoFactorLoginFailed(ctx, claims.UID, "unknown_user")
			return nil, ErrUnauthorized
		}
		e.logger.Error("two-factor login user lookup failed", zap.Error(err))
		return nil, ErrInternal
	}
	if u.TwoFactorStatus != store.TwoFactorEnabled {
		e.twoFactorLoginFailed(ctx, u.ID, "factor_not_enabled")
		return nil, ErrUnauthorized
	}

	kind, err := e.verifySecondFactor(ctx, u, code)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			e.twoFactorLoginFailed(ctx, u.ID, "invalid_code")
		}
		return nil, err
	}
	if err := e.claimTicket(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			e.twoFactorLoginFailed(ctx, u.ID, "ticket_reused")
		}
		return nil, err
	}

	s, err := e.IssueSession(ctx, u.ID, userAgentFromContext(ctx), clientIPFromContext(ctx))
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventTwoFactorLoginSuccess, true, u.ID, s.ID, nil, func() map[string]string {
		return map[string]string{
			"method": kind,
		}
	})

	return &LoginResult{
		Session:       s,
		User:          userView(u),
		EmailVerified: u.EmailVerified,
		IsVendor:      e.isVendor(u),
	}, nil
}

func (e *Engine) twoFactorLoginFailed(ctx context.Context, userID, reason string) {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventTwoFactorLoginFailed, false, userID, "", ErrUnauthorized, func() map[string]string {
		return map[string]string{
			"reason": reason,
		}
	})
}

func ticketKey(id string) string {
	return "tkt:" + id
}

// ticketUsed reports whether the ticket with jti id was already exchanged
// for a session.
func (e *Engine) ticketUsed(ctx context.Context, id string) (bool, error) {
	count, _, err := e.counters.Peek(ctx, ticketKey(id))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		e.logger.Error("ticket lookup failed", zap.Error(err))
		return false, ErrInternal
	}
	return count > 0, nil
}

// claimTicket marks the ticket with jti id as redeemed until it could no
// longer be parsed anyway. Only the first claim succeeds.
func (e *Engine) claimTicket(ctx context.Context, id string, expiresAt time.Time) error {
	window := expiresAt.Sub(e.now()) + e.config.JWT.Leeway
	if window < time.Second {
		window = time.Second
	}
	count, _, err := e.counters.Incr(ctx, ticketKey(id), window)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		e.logger.Error("ticket claim failed", zap.Error(err))
		return ErrInternal
	}
	if count > 1 {
		return ErrUnauthorized
	}
	return nil
}
