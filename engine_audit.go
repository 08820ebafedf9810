package marketauth

import (
	"context"
	"errors"
)

const (
	auditEventRegisterSuccess          = "register_success"
	auditEventRegisterFailed           = "register_failed"
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailed              = "login_failed"
	auditEventLogout                   = "logout"
	auditEventSessionTerminated        = "session_terminated"
	auditEventSessionsRevoked          = "sessions_revoked"
	auditEventRateLimitExceeded        = "rate_limit_exceeded"
	auditEventRateLimitError           = "rate_limit_error"
	auditEventPasswordChanged          = "password_changed"
	auditEventPasswordChangeFailed     = "password_change_failed"
	auditEventPasswordResetRequested   = "password_reset_requested"
	auditEventPasswordResetSuccess     = "password_reset_success"
	auditEventPasswordResetFailed      = "password_reset_failed"
	auditEventPasswordResetError       = "password_reset_error"
	auditEventEmailVerified            = "email_verified"
	auditEventEmailVerificationFailed  = "email_verification_failed"
	auditEventEmailVerificationSent    = "email_verification_sent"
	auditEventTwoFactorSetupStarted    = "two_factor_setup_started"
	auditEventTwoFactorEnabled         = "two_factor_enabled"
	auditEventTwoFactorEnableFailed    = "two_factor_enable_failed"
	auditEventTwoFactorDisabled        = "two_factor_disabled"
	auditEventTwoFactorDisableFailed   = "two_factor_disable_failed"
	auditEventTwoFactorChallengeIssued = "two_factor_challenge_issued"
	auditEventTwoFactorLoginSuccess    = "two_factor_login_success"
	auditEventTwoFactorLoginFailed     = "two_factor_login_failed"
	auditEventBackupCodeUsed           = "backup_code_used"
)

// AuditErrorCode defines a public type used by marketauth APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrValidation        AuditErrorCode = "validation"
	auditErrUnauthorized      AuditErrorCode = "unauthorized"
	auditErrForbidden         AuditErrorCode = "forbidden"
	auditErrNotFound          AuditErrorCode = "not_found"
	auditErrDuplicate         AuditErrorCode = "duplicate"
	auditErrRateLimited       AuditErrorCode = "rate_limited"
	auditErrInvalidToken      AuditErrorCode = "invalid_token"
	auditErrInvalidOperation  AuditErrorCode = "invalid_operation"
	auditErrTwoFactorRequired AuditErrorCode = "two_factor_required"
	auditErrCanceled          AuditErrorCode = "canceled"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrConflict):
		return auditErrDuplicate
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrInvalidOperation):
		return auditErrInvalidOperation
	case errors.Is(err, ErrTwoFactorRequired):
		return auditErrTwoFactorRequired
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return auditErrCanceled
	default:
		return auditErrInternal
	}
}
