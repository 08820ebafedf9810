package marketauth

import (
	"context"
	"errors"
	"strconv"
	"time"

	internalflows "github.com/MrEthical07/marketauth/internal/flows"
	"github.com/MrEthical07/marketauth/session"
	"github.com/MrEthical07/marketauth/store"
	"go.uber.org/zap"
)

// IssueSession describes the issuesession operation and its observable behavior.
//
// IssueSession creates a session for userID that expires exactly
// Session.TTL after now. Empty userAgent and ip fall back to the values
// carried on ctx. The returned value is the only place the raw token
// appears; the store keeps its hash.
func (e *Engine) IssueSession(ctx context.Context, userID, userAgent, ip string) (*session.Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrValidation
	}
	if userAgent == "" {
		userAgent = userAgentFromContext(ctx)
	}
	if ip == "" {
		ip = clientIPFromContext(ctx)
	}

	s, err := session.New(userID, userAgent, ip, e.now(), e.config.Session.TTL)
	if err != nil {
		e.logger.Error("session token generation failed", zap.Error(err))
		return nil, ErrInternal
	}
	if err := e.store.CreateSession(ctx, s); err != nil {
		e.logger.Error("session insert failed", zap.String("user_id", userID), zap.Error(err))
		return nil, ErrInternal
	}

	e.metricInc(MetricSessionCreated)
	return s, nil
}

// ValidateSession describes the validatesession operation and its observable behavior.
//
// ValidateSession returns the owner of token, or ErrUnauthorized when the
// token is empty, unknown or past its expiry. Validation refreshes the
// session's LastActiveAt at most once per Session.TouchInterval.
func (e *Engine) ValidateSession(ctx context.Context, token string) (*User, error) {
	_, u, err := e.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	return userView(u), nil
}

// Me is ValidateSession under the name the transport exposes.
func (e *Engine) Me(ctx context.Context, token string) (*User, error) {
	return e.ValidateSession(ctx, token)
}

// SessionForToken returns the live session behind token together with its
// owner.
func (e *Engine) SessionForToken(ctx context.Context, token string) (*session.Session, *User, error) {
	s, u, err := e.authenticate(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	return s, userView(u), nil
}

func (e *Engine) authenticate(ctx context.Context, token string) (*session.Session, *store.User, error) {
	if !e.ready() {
		return nil, nil, ErrEngineNotReady
	}

	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
		defer func() {
			e.metrics.Observe(MetricValidateLatency, time.Since(start))
		}()
	}

	s, err := internalflows.RunValidateSession(ctx, token, e.sessionFlowDeps())
	if err != nil {
		return nil, nil, err
	}

	u, err := e.store.UserByID(ctx, s.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrUnauthorized
		}
		e.logger.Error("session owner lookup failed", zap.String("session_id", s.ID), zap.Error(err))
		return nil, nil, ErrInternal
	}
	return s, u, nil
}

// ListSessions describes the listsessions operation and its observable behavior.
//
// ListSessions returns userID's unexpired sessions, most recently active
// first. The session matching currentToken is flagged Current.
func (e *Engine) ListSessions(ctx context.Context, userID, currentToken string) ([]SessionSummary, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUnauthorized
	}

	rows, err := e.store.ListSessions(ctx, userID, e.now())
	if err != nil {
		e.logger.Error("session list failed", zap.String("user_id", userID), zap.Error(err))
		return nil, ErrInternal
	}

	currentHash := ""
	if currentToken != "" {
		currentHash = session.HashToken(currentToken)
	}
	out := make([]SessionSummary, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].Summarize(currentHash))
	}
	return out, nil
}

// RevokeSession describes the revokesession operation and its observable behavior.
//
// RevokeSession fails with ErrNotFound for an unknown id, ErrInvalidOperation
// when the id is the session behind currentToken (Logout is the way to end
// that one) and ErrForbidden when the session belongs to another user.
func (e *Engine) RevokeSession(ctx context.Context, actingUserID, sessionID, currentToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return internalflows.RunRevokeSession(ctx, actingUserID, sessionID, currentToken, e.sessionFlowDeps())
}

// RevokeOtherSessions deletes every session of actingUserID except the one
// behind currentToken and returns how many were removed.
func (e *Engine) RevokeOtherSessions(ctx context.Context, actingUserID, currentToken string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if actingUserID == "" {
		return 0, ErrUnauthorized
	}

	keep := ""
	if currentToken != "" {
		s, err := e.store.SessionByTokenHash(ctx, session.HashToken(currentToken))
		switch {
		case err == nil && s.UserID == actingUserID:
			keep = s.ID
		case err != nil && !errors.Is(err, store.ErrNotFound):
			e.logger.Error("current session lookup failed", zap.Error(err))
			return 0, ErrInternal
		}
	}

	n, err := e.store.DeleteUserSessions(ctx, actingUserID, keep)
	if err != nil {
		e.logger.Error("bulk session revoke failed", zap.String("user_id", actingUserID), zap.Error(err))
		return 0, ErrInternal
	}

	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditEventSessionsRevoked, true, actingUserID, keep, nil, func() map[string]string {
		return map[string]string{
			"count": strconv.Itoa(n),
		}
	})
	return n, nil
}

// Logout describes the logout operation and its observable behavior.
//
// Logout deletes the session behind token. An unknown or empty token is not
// an error; the transport clears the cookie either way.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if token == "" {
		return nil
	}

	hash := session.HashToken(token)
	userID, sessionID := "", ""
	if s, err := e.store.SessionByTokenHash(ctx, hash); err == nil {
		userID, sessionID = s.UserID, s.ID
	}

	if err := e.store.DeleteSessionByTokenHash(ctx, hash); err != nil {
		e.logger.Error("logout delete failed", zap.Error(err))
		return ErrInternal
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, userID, sessionID, nil, nil)
	return nil
}

func (e *Engine) sessionFlowDeps() internalflows.SessionDeps {
	return internalflows.SessionDeps{
		Now:           e.now,
		TouchInterval: e.config.Session.TouchInterval,
		WellFormed:    session.WellFormed,
		HashToken:     session.HashToken,
		IsNotFound:    isStoreNotFound,
		GetByHash:     e.store.SessionByTokenHash,
		GetByID:       e.store.SessionByID,
		Touch:         e.store.TouchSession,
		DeleteByID:    e.store.DeleteSession,
		LogError:      e.logError,
		MetricInc:     func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit:     e.emitAudit,
		Metrics: internalflows.SessionMetrics{
			SessionValidated: int(MetricSessionValidated),
			SessionRejected:  int(MetricSessionRejected),
			SessionRevoked:   int(MetricSessionRevoked),
		},
		Events: internalflows.SessionEvents{
			SessionTerminated: auditEventSessionTerminated,
		},
		Errors: internalflows.SessionErrors{
			EngineNotReady:   ErrEngineNotReady,
			Unauthorized:     ErrUnauthorized,
			NotFound:         ErrNotFound,
			Forbidden:        ErrForbidden,
			InvalidOperation: ErrInvalidOperation,
			Internal:         ErrInternal,
		},
	}
}

func isStoreNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func (e *Engine) logError(msg string, err error) {
	e.logger.Error(msg, zap.Error(err))
}
