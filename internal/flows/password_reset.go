package flows

import (
	"context"
	"errors"
	"strings"
	"time"
)

type PasswordResetUser struct {
	UserID    string
	Email     string
	FirstName string
}

type PasswordResetMetrics struct {
	PasswordResetRequest int
	PasswordResetSuccess int
	PasswordResetFailure int
	MailFailure          int
}

type PasswordResetEvents struct {
	PasswordResetRequested string
	PasswordResetSuccess   string
	PasswordResetFailed    string
	PasswordResetError     string
}

type PasswordResetErrors struct {
	EngineNotReady error
	Validation     error
	InvalidToken   error
	Internal       error
}

// PasswordResetDeps captures request and consume dependencies.
type PasswordResetDeps struct {
	TokenTTL       time.Duration
	RevokeSessions bool
	MailTemplate   string

	Now                   func() time.Time
	CheckRateLimit        func(context.Context) error
	GetUserByEmail        func(context.Context, string) (PasswordResetUser, error)
	IsNotFound            func(error) bool
	NewToken              func() (string, error)
	ValidToken            func(string) bool
	HashToken             func(string) string
	SaveToken             func(ctx context.Context, userID, tokenHash string, createdAt, expiresAt time.Time) error
	ConsumeToken          func(ctx context.Context, tokenHash string, now time.Time, newPasswordHash string) (string, error)
	CheckPolicy           func(string) error
	HashPassword          func(string) (string, error)
	RevokeAllSessions     func(context.Context, string) (int, error)
	SendMail              func(ctx context.Context, to, template string, params map[string]string) error
	SleepEnumerationDelay func(context.Context) error
	LogError              func(string, error)
	MetricInc             func(int)
	EmitAudit             AuditFunc

	Metrics PasswordResetMetrics
	Events  PasswordResetEvents
	Errors  PasswordResetErrors
}

func normalizePasswordResetDeps(deps *PasswordResetDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.CheckRateLimit == nil {
		deps.CheckRateLimit = func(context.Context) error { return nil }
	}
	if deps.SleepEnumerationDelay == nil {
		deps.SleepEnumerationDelay = func(context.Context) error { return nil }
	}
	if deps.LogError == nil {
		deps.LogError = noopLog
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
}

// RunRequestPasswordReset issues a reset token for email and mails it. The
// caller sees the same nil result whether or not the email is registered,
// and a mail delivery failure does not change that result.
func RunRequestPasswordReset(ctx context.Context, email string, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)
	if deps.GetUserByEmail == nil || deps.IsNotFound == nil || deps.NewToken == nil || deps.HashToken == nil || deps.SaveToken == nil || deps.SendMail == nil {
		return deps.Errors.EngineNotReady
	}

	if err := deps.CheckRateLimit(ctx); err != nil {
		return err
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequested, false, "", "", deps.Errors.Validation, func() map[string]string {
			return map[string]string{
				"reason": "empty_email",
			}
		})
		return deps.Errors.Validation
	}

	user, err := deps.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !deps.IsNotFound(err) {
			deps.LogError("password reset user lookup failed", err)
			deps.EmitAudit(ctx, deps.Events.PasswordResetError, false, "", "", deps.Errors.Internal, func() map[string]string {
				return map[string]string{
					"stage": "lookup",
				}
			})
			return deps.Errors.Internal
		}
		if sleepErr := deps.SleepEnumerationDelay(ctx); sleepErr != nil {
			return sleepErr
		}
		deps.MetricInc(deps.Metrics.PasswordResetRequest)
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequested, true, "", "", nil, func() map[string]string {
			return map[string]string{
				"enumeration_safe": "true",
			}
		})
		return nil
	}

	token, err := deps.NewToken()
	if err != nil {
		deps.LogError("password reset token generation failed", err)
		return deps.Errors.Internal
	}

	now := deps.Now()
	expiresAt := now.Add(deps.TokenTTL)
	if err := deps.SaveToken(ctx, user.UserID, deps.HashToken(token), now, expiresAt); err != nil {
		deps.LogError("password reset token save failed", err)
		deps.EmitAudit(ctx, deps.Events.PasswordResetError, false, user.UserID, "", deps.Errors.Internal, func() map[string]string {
			return map[string]string{
				"stage": "save",
			}
		})
		return deps.Errors.Internal
	}

	deps.MetricInc(deps.Metrics.PasswordResetRequest)
	params := map[string]string{
		"token":     token,
		"firstName": user.FirstName,
		"expiresAt": expiresAt.UTC().Format(time.RFC3339),
	}
	if err := deps.SendMail(ctx, user.Email, deps.MailTemplate, params); err != nil {
		deps.LogError("password reset mail failed", err)
		deps.MetricInc(deps.Metrics.MailFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetError, false, user.UserID, "", deps.Errors.Internal, func() map[string]string {
			return map[string]string{
				"stage": "mail",
			}
		})
		return nil
	}

	deps.EmitAudit(ctx, deps.Events.PasswordResetRequested, true, user.UserID, "", nil, nil)
	return nil
}

// RunConsumePasswordReset sets newPassword for the owner of token. The store
// marks the token used and writes the new hash in one conditional step, so
// of several concurrent calls with one token exactly one succeeds.
func RunConsumePasswordReset(ctx context.Context, token, newPassword string, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)
	if deps.ConsumeToken == nil || deps.HashToken == nil || deps.HashPassword == nil || deps.IsNotFound == nil {
		return deps.Errors.EngineNotReady
	}

	if err := deps.CheckRateLimit(ctx); err != nil {
		return err
	}

	token = strings.TrimSpace(token)
	if token == "" || (deps.ValidToken != nil && !deps.ValidToken(token)) {
		deps.MetricInc(deps.Metrics.PasswordResetFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetFailed, false, "", "", deps.Errors.InvalidToken, func() map[string]string {
			return map[string]string{
				"reason": "malformed_token",
			}
		})
		return deps.Errors.InvalidToken
	}

	if deps.CheckPolicy != nil {
		if err := deps.CheckPolicy(newPassword); err != nil {
			deps.EmitAudit(ctx, deps.Events.PasswordResetFailed, false, "", "", deps.Errors.Validation, func() map[string]string {
				return map[string]string{
					"reason": "password_policy",
				}
			})
			return deps.Errors.Validation
		}
	}

	newHash, err := deps.HashPassword(newPassword)
	if err != nil {
		deps.LogError("password reset hashing failed", err)
		deps.EmitAudit(ctx, deps.Events.PasswordResetError, false, "", "", deps.Errors.Internal, func() map[string]string {
			return map[string]string{
				"stage": "hash",
			}
		})
		return deps.Errors.Internal
	}

	userID, err := deps.ConsumeToken(ctx, deps.HashToken(token), deps.Now(), newHash)
	if err != nil {
		if deps.IsNotFound(err) {
			deps.MetricInc(deps.Metrics.PasswordResetFailure)
			deps.EmitAudit(ctx, deps.Events.PasswordResetFailed, false, "", "", deps.Errors.InvalidToken, func() map[string]string {
				return map[string]string{
					"reason": "invalid_or_expired",
				}
			})
			return deps.Errors.InvalidToken
		}
		deps.LogError("password reset consume failed", err)
		deps.EmitAudit(ctx, deps.Events.PasswordResetError, false, "", "", deps.Errors.Internal, func() map[string]string {
			return map[string]string{
				"stage": "consume",
			}
		})
		return deps.Errors.Internal
	}

	revoked := 0
	if deps.RevokeSessions && deps.RevokeAllSessions != nil {
		n, err := deps.RevokeAllSessions(ctx, userID)
		if err != nil {
			deps.LogError("password reset session revocation failed", err)
		}
		revoked = n
	}

	deps.MetricInc(deps.Metrics.PasswordResetSuccess)
	deps.EmitAudit(ctx, deps.Events.PasswordResetSuccess, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"sessions_revoked": itoa(revoked),
		}
	})
	return nil
}
