package marketauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/marketauth/internal"
	"github.com/MrEthical07/marketauth/store"
	"go.uber.org/zap"
)

// VerifyEmail describes the verifyemail operation and its observable behavior.
//
// VerifyEmail marks userID's email as verified when code matches the
// pending code and has not expired. A wrong, missing or expired code yields
// ErrInvalidOrExpiredToken. Wrong codes are also counted per account, and
// once EmailVerification.MaxAttempts is reached further tries get a
// *RateLimitError whatever address they come from. Verifying an already
// verified address is a no-op.
func (e *Engine) VerifyEmail(ctx context.Context, userID, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.checkRate(ctx, RateLimitDefault, userID); err != nil {
		return err
	}

	u, err := e.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnauthorized
		}
		e.logger.Error("verification user lookup failed", zap.Error(err))
		return ErrInternal
	}
	if u.EmailVerified {
		return nil
	}
	if err := e.checkAttempts(ctx, e.verifyAttempts, u.ID); err != nil {
		return err
	}

	code = strings.TrimSpace(code)
	now := e.now()
	reason := ""
	switch {
	case code == "" || !internal.IsNumeric(code):
		reason = "malformed_code"
	case u.VerificationCodeHash == "":
		reason = "no_pending_code"
	case !now.Before(u.VerificationExpiresAt):
		reason = "expired"
	case subtle.ConstantTimeCompare([]byte(internal.HashToken(code)), []byte(u.VerificationCodeHash)) != 1:
		reason = "mismatch"
	}
	if reason != "" {
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerificationFailed, false, u.ID, "", ErrInvalidOrExpiredToken, func() map[string]string {
			return map[string]string{
				"reason": reason,
			}
		})
		if err := e.recordAttemptFailure(ctx, e.verifyAttempts, u.ID); err != nil {
			return err
		}
		return ErrInvalidOrExpiredToken
	}

	if err := e.store.MarkEmailVerified(ctx, u.ID, now); err != nil {
		e.logger.Error("mark email verified failed", zap.String("user_id", u.ID), zap.Error(err))
		return ErrInternal
	}

	e.resetAttempts(ctx, e.verifyAttempts, u.ID)
	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerified, true, u.ID, "", nil, nil)
	return nil
}

// ResendEmailVerification describes the resendemailverification operation and its observable behavior.
//
// ResendEmailVerification replaces the pending code with a fresh one and
// mails it. It returns ErrInvalidOperation when the email is already
// verified.
func (e *Engine) ResendEmailVerification(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.checkRate(ctx, RateLimitDefault, userID); err != nil {
		return err
	}

	u, err := e.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnauthorized
		}
		e.logger.Error("verification user lookup failed", zap.Error(err))
		return ErrInternal
	}
	if u.EmailVerified {
		return ErrInvalidOperation
	}

	code, codeHash, err := e.newVerificationCode()
	if err != nil {
		e.logger.Error("verification code generation failed", zap.Error(err))
		return ErrInternal
	}
	expiresAt := e.now().Add(e.config.EmailVerification.CodeTTL)
	if err := e.store.SetEmailVerification(ctx, u.ID, codeHash, expiresAt); err != nil {
		e.logger.Error("verification code save failed", zap.String("user_id", u.ID), zap.Error(err))
		return ErrInternal
	}
	u.VerificationExpiresAt = expiresAt

	e.sendVerificationMail(ctx, u, code)
	return nil
}

// sendVerificationMail delivers code to u. Delivery failures are logged and
// audited only.
func (e *Engine) sendVerificationMail(ctx context.Context, u *store.User, code string) {
	err := e.mailer.Send(ctx, u.Email, e.config.EmailVerification.MailTemplate, map[string]string{
		"code":      code,
		"firstName": u.FirstName,
		"expiresAt": u.VerificationExpiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		e.metricInc(MetricMailFailure)
		e.logger.Warn("verification mail failed", zap.String("user_id", u.ID), zap.Error(err))
		e.emitAudit(ctx, auditEventEmailVerificationSent, false, u.ID, "", ErrInternal, nil)
		return
	}
	e.emitAudit(ctx, auditEventEmailVerificationSent, true, u.ID, "", nil, nil)
}
