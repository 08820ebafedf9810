package marketauth

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/marketauth/store"
	"go.uber.org/zap"
)

// BeginTwoFactorEnrollment describes the begintwofactorenrollment operation and its observable behavior.
//
// BeginTwoFactorEnrollment stores a fresh TOTP secret for userID in the
// Enrolling state and returns it with an otpauth:// URI. Calling it again
// while enrolling replaces the secret. An enabled factor yields ErrConflict;
// it must be disabled first.
func (e *Engine) BeginTwoFactorEnrollment(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	u, err := e.twoFactorUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.TwoFactorStatus == store.TwoFactorEnabled {
		return nil, ErrConflict
	}

	secret, uri, err := e.totp.GenerateSecret(u.Email)
	if err != nil {
		e.logger.Error("totp secret generation failed", zap.Error(err))
		return nil, ErrInternal
	}
	if err := e.store.SetTwoFactorEnrolling(ctx, u.ID, secret, e.now()); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			return nil, ErrConflict
		}
		e.logger.Error("totp enrollment save failed", zap.String("user_id", u.ID), zap.Error(err))
		return nil, ErrInternal
	}

	e.emitAudit(ctx, auditEventTwoFactorSetupStarted, true, u.ID, "", nil, nil)
	return &TwoFactorSetup{Secret: secret, URI: uri}, nil
}

// ConfirmTwoFactorEnrollment describes the confirmtwofactorenrollment operation and its observable behavior.
//
// ConfirmTwoFactorEnrollment checks a code from the authenticator app
// against the pending secret and enables the factor. It returns the backup
// codes in plaintext; only their hashes are kept. A wrong code yields
// ErrValidation and leaves the enrollment pending.
func (e *Engine) ConfirmTwoFactorEnrollment(ctx context.Context, userID, code string) ([]string, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	u, err := e.twoFactorUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch u.TwoFactorStatus {
	case store.TwoFactorEnabled:
		return nil, ErrConflict
	case store.TwoFactorDisabled:
		return nil, ErrInvalidOperation
	}

	ok, counter, err := e.totp.VerifyCode(u.TwoFactorSecret, code, e.now())
	if err != nil || !ok {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorEnableFailed, false, u.ID, "", ErrValidation, nil)
		return nil, ErrValidation
	}

	codes, hashes, err := generateBackupCodes(e.config.TwoFactor.BackupCodeCount)
	if err != nil {
		e.logger.Error("backup code generation failed", zap.Error(err))
		return nil, ErrInternal
	}
	if err := e.store.EnableTwoFactor(ctx, u.ID, counter, hashes, e.now()); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			return nil, ErrConflict
		}
		e.logger.Error("totp enable failed", zap.String("user_id", u.ID), zap.Error(err))
		return nil, ErrInternal
	}

	e.resetAttempts(ctx, e.totpAttempts, u.ID)
	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, u.ID, "", nil, func() map[string]string {
		return map[string]string{
			"backup_codes": strconv.Itoa(len(codes)),
		}
	})
	return codes, nil
}

// TwoFactorStatus describes the twofactorstatus operation and its observable behavior.
//
// TwoFactorStatus reports whether logins for userID require a second factor.
// A pending enrollment counts as not enabled.
func (e *Engine) TwoFactorStatus(ctx context.Context, userID string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	u, err := e.twoFactorUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.TwoFactorStatus == store.TwoFactorEnabled, nil
}

// DisableTwoFactor describes the disabletwofactor operation and its observable behavior.
//
// DisableTwoFactor removes the secret and every backup code. When
// TwoFactor.RequireCodeToDisable is set an enabled factor is only removed
// after a valid TOTP or backup code; a bad code yields ErrForbidden and a
// two_factor_disable_failed event. Abandoning a pending enrollment never
// needs a code.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	u, err := e.twoFactorUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.TwoFactorStatus == store.TwoFactorDisabled {
		return nil
	}

	if u.TwoFactorStatus == store.TwoFactorEnabled && e.config.TwoFactor.RequireCodeToDisable {
		if _, err := e.verifySecondFactor(ctx, u, code); err != nil {
			if errors.Is(err, ErrUnauthorized) {
				e.emitAudit(ctx, auditEventTwoFactorDisableFailed, false, u.ID, "", ErrForbidden, nil)
				return ErrForbidden
			}
			return err
		}
	}

	if err := e.store.DisableTwoFactor(ctx, u.ID, e.now()); err != nil {
		e.logger.Error("totp disable failed", zap.String("user_id", u.ID), zap.Error(err))
		return ErrInternal
	}

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, u.ID, "", nil, nil)
	return nil
}

func (e *Engine) twoFactorUser(ctx context.Context, userID string) (*store.User, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	u, err := e.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		e.logger.Error("two-factor user lookup failed", zap.Error(err))
		return nil, ErrInternal
	}
	return u, nil
}
