package marketauth

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/MrEthical07/marketauth/internal"
	internalflows "github.com/MrEthical07/marketauth/internal/flows"
	"github.com/MrEthical07/marketauth/store"
	"github.com/google/uuid"
)

// RequestPasswordReset describes the requestpasswordreset operation and its observable behavior.
//
// RequestPasswordReset mails a single-use reset token when email belongs to
// an account. It returns nil whether or not the account exists, and mail
// delivery failures are not reported to the caller. Issuing a token
// invalidates every earlier token for the same account.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return internalflows.RunRequestPasswordReset(ctx, email, e.passwordResetFlowDeps())
}

// ConsumePasswordReset describes the consumepasswordreset operation and its observable behavior.
//
// ConsumePasswordReset sets a new password using a token from
// RequestPasswordReset. Unknown, used and expired tokens all yield
// ErrInvalidOrExpiredToken. Of several concurrent calls with the same token
// exactly one succeeds. On success every session of the account is revoked
// when PasswordReset.RevokeSessions is set.
func (e *Engine) ConsumePasswordReset(ctx context.Context, token, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return internalflows.RunConsumePasswordReset(ctx, token, newPassword, e.passwordResetFlowDeps())
}

func (e *Engine) passwordResetFlowDeps() internalflows.PasswordResetDeps {
	return internalflows.PasswordResetDeps{
		TokenTTL:       e.config.PasswordReset.TokenTTL,
		RevokeSessions: e.config.PasswordReset.RevokeSessions,
		MailTemplate:   e.config.PasswordReset.MailTemplate,
		Now:            e.now,
		CheckRateLimit: func(ctx context.Context) error {
			return e.checkRate(ctx, RateLimitResetPassword, "")
		},
		GetUserByEmail: func(ctx context.Context, email string) (internalflows.PasswordResetUser, error) {
			u, err := e.store.UserByEmail(ctx, email)
			if err != nil {
				return internalflows.PasswordResetUser{}, err
			}
			return internalflows.PasswordResetUser{
				UserID:    u.ID,
				Email:     u.Email,
				FirstName: u.FirstName,
			}, nil
		},
		IsNotFound: isStoreNotFound,
		NewToken:   internal.NewOpaqueToken,
		ValidToken: internal.ValidOpaqueToken,
		HashToken:  internal.HashToken,
		SaveToken: func(ctx context.Context, userID, tokenHash string, createdAt, expiresAt time.Time) error {
			return e.store.CreateResetToken(ctx, &store.ResetToken{
				ID:        uuid.NewString(),
				UserID:    userID,
				TokenHash: tokenHash,
				ExpiresAt: expiresAt,
				CreatedAt: createdAt,
			})
		},
		ConsumeToken: e.store.ConsumeResetToken,
		CheckPolicy:  e.passwordHash.CheckPolicy,
		HashPassword: e.passwordHash.Hash,
		RevokeAllSessions: func(ctx context.Context, userID string) (int, error) {
			return e.store.DeleteUserSessions(ctx, userID, "")
		},
		SendMail:              e.mailer.Send,
		SleepEnumerationDelay: e.sleepEnumerationDelay,
		LogError:              e.logError,
		MetricInc:             func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit:             e.emitAudit,
		Metrics: internalflows.PasswordResetMetrics{
			PasswordResetRequest: int(MetricPasswordResetRequest),
			PasswordResetSuccess: int(MetricPasswordResetSuccess),
			PasswordResetFailure: int(MetricPasswordResetFailure),
			MailFailure:          int(MetricMailFailure),
		},
		Events: internalflows.PasswordResetEvents{
			PasswordResetRequested: auditEventPasswordResetRequested,
			PasswordResetSuccess:   auditEventPasswordResetSuccess,
			PasswordResetFailed:    auditEventPasswordResetFailed,
			PasswordResetError:     auditEventPasswordResetError,
		},
		Errors: internalflows.PasswordResetErrors{
			EngineNotReady: ErrEngineNotReady,
			Validation:     ErrValidation,
			InvalidToken:   ErrInvalidOrExpiredToken,
			Internal:       ErrInternal,
		},
	}
}

// sleepEnumerationDelay waits a random duration up to
// PasswordReset.MaxEnumerationDelay so unknown addresses do not answer
// measurably faster than known ones.
func (e *Engine) sleepEnumerationDelay(ctx context.Context) error {
	max := e.config.PasswordReset.MaxEnumerationDelay
	if max <= 0 {
		return nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return err
	}

	t := time.NewTimer(time.Duration(n.Int64()))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
