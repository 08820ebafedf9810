package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/marketauth/session"
)

type SessionEvents struct {
	SessionTerminated string
}

type SessionMetrics struct {
	SessionValidated int
	SessionRejected  int
	SessionRevoked   int
}

type SessionErrors struct {
	EngineNotReady   error
	Unauthorized     error
	NotFound         error
	Forbidden        error
	InvalidOperation error
	Internal         error
}

// SessionDeps captures session validation and revocation dependencies.
type SessionDeps struct {
	Now           func() time.Time
	TouchInterval time.Duration

	WellFormed func(string) bool
	HashToken  func(string) string
	IsNotFound func(error) bool
	GetByHash  func(context.Context, string) (*session.Session, error)
	GetByID    func(context.Context, string) (*session.Session, error)
	Touch      func(context.Context, string, time.Time) error
	DeleteByID func(context.Context, string) error
	LogError   func(string, error)
	MetricInc  func(int)
	EmitAudit  AuditFunc

	Metrics SessionMetrics
	Events  SessionEvents
	Errors  SessionErrors
}

func normalizeSessionDeps(deps *SessionDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
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

// RunValidateSession resolves token to a live session. A session is live
// while now is strictly before ExpiresAt; expired rows that still exist are
// rejected the same way as unknown tokens. LastActiveAt is refreshed at most
// once per TouchInterval and a failed refresh does not fail validation.
func RunValidateSession(ctx context.Context, token string, deps SessionDeps) (*session.Session, error) {
	normalizeSessionDeps(&deps)
	if deps.GetByHash == nil || deps.HashToken == nil || deps.IsNotFound == nil {
		return nil, deps.Errors.EngineNotReady
	}

	if token == "" || (deps.WellFormed != nil && !deps.WellFormed(token)) {
		deps.MetricInc(deps.Metrics.SessionRejected)
		return nil, deps.Errors.Unauthorized
	}

	s, err := deps.GetByHash(ctx, deps.HashToken(token))
	if err != nil {
		if deps.IsNotFound(err) {
			deps.MetricInc(deps.Metrics.SessionRejected)
			return nil, deps.Errors.Unauthorized
		}
		deps.LogError("session lookup failed", err)
		return nil, deps.Errors.Internal
	}

	now := deps.Now()
	if !s.ActiveAt(now) {
		deps.MetricInc(deps.Metrics.SessionRejected)
		return nil, deps.Errors.Unauthorized
	}

	if deps.Touch != nil && now.Sub(s.LastActiveAt) >= deps.TouchInterval {
		if err := deps.Touch(ctx, s.ID, now); err != nil {
			deps.LogError("session touch failed", err)
		} else {
			s.LastActiveAt = now
		}
	}

	deps.MetricInc(deps.Metrics.SessionValidated)
	return s, nil
}

// RunRevokeSession deletes sessionID on behalf of actingUserID. Checks run in
// a fixed order: the session must exist, must not be the one identified by
// currentToken (whoever owns it), and must belong to the acting user.
func RunRevokeSession(ctx context.Context, actingUserID, sessionID, currentToken string, deps SessionDeps) error {
	normalizeSessionDeps(&deps)
	if deps.GetByID == nil || deps.DeleteByID == nil || deps.HashToken == nil || deps.IsNotFound == nil {
		return deps.Errors.EngineNotReady
	}
	if sessionID == "" {
		return deps.Errors.NotFound
	}

	s, err := deps.GetByID(ctx, sessionID)
	if err != nil {
		if deps.IsNotFound(err) {
			return deps.Errors.NotFound
		}
		deps.LogError("session lookup failed", err)
		return deps.Errors.Internal
	}

	if currentToken != "" && deps.HashToken(currentToken) == s.TokenHash {
		deps.EmitAudit(ctx, deps.Events.SessionTerminated, false, actingUserID, s.ID, deps.Errors.InvalidOperation, func() map[string]string {
			return map[string]string{
				"reason": "current_session",
			}
		})
		return deps.Errors.InvalidOperation
	}
	if s.UserID != actingUserID {
		deps.EmitAudit(ctx, deps.Events.SessionTerminated, false, actingUserID, s.ID, deps.Errors.Forbidden, func() map[string]string {
			return map[string]string{
				"reason": "not_owner",
			}
		})
		return deps.Errors.Forbidden
	}

	if err := deps.DeleteByID(ctx, s.ID); err != nil {
		deps.LogError("session delete failed", err)
		return deps.Errors.Internal
	}

	deps.MetricInc(deps.Metrics.SessionRevoked)
	deps.EmitAudit(ctx, deps.Events.SessionTerminated, true, actingUserID, s.ID, nil, nil)
	return nil
}
