package marketauth

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/MrEthical07/marketauth/internal"
	"github.com/MrEthical07/marketauth/password"
	"github.com/MrEthical07/marketauth/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxNameBytes = 100

// Register describes the register operation and its observable behavior.
//
// Register creates a customer account, mails a verification code and signs
// the new user in. The register rate limit is charged before any input is
// examined. An email that is already registered yields ErrConflict.
func (e *Engine) Register(ctx context.Context, req RegisterRequest, userAgent, ip string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	ctx = withClient(ctx, userAgent, ip)

	if err := e.checkRate(ctx, RateLimitRegister, ""); err != nil {
		return nil, err
	}

	email, ok := normalizeEmail(req.Email)
	if !ok {
		return nil, e.registerRejected(ctx, "invalid_email")
	}
	firstName := strings.TrimSpace(req.FirstName)
	lastName := strings.TrimSpace(req.LastName)
	if firstName == "" || lastName == "" || len(firstName) > maxNameBytes || len(lastName) > maxNameBytes {
		return nil, e.registerRejected(ctx, "invalid_name")
	}
	if err := e.passwordHash.CheckPolicy(req.Password); err != nil {
		return nil, e.registerRejected(ctx, "password_policy")
	}

	hash, err := e.passwordHash.Hash(req.Password)
	if err != nil {
		e.logger.Error("password hashing failed", zap.Error(err))
		return nil, ErrInternal
	}

	code, codeHash, err := e.newVerificationCode()
	if err != nil {
		e.logger.Error("verification code generation failed", zap.Error(err))
		return nil, ErrInternal
	}

	now := e.now()
	u := &store.User{
		ID:                    uuid.NewString(),
		Email:                 email,
		PasswordHash:          hash,
		FirstName:             firstName,
		LastName:              lastName,
		Role:                  e.config.Account.DefaultRole,
		VerificationCodeHash:  codeHash,
		VerificationExpiresAt: now.Add(e.config.EmailVerification.CodeTTL),
		TwoFactorStatus:       store.TwoFactorDisabled,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := e.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterFailed, false, "", "", ErrConflict, func() map[string]string {
				return map[string]string{
					"reason": "duplicate_email",
				}
			})
			return nil, ErrConflict
		}
		e.logger.Error("user insert failed", zap.Error(err))
		e.emitAudit(ctx, auditEventRegisterFailed, false, "", "", ErrInternal, nil)
		return nil, ErrInternal
	}

	e.sendVerificationMail(ctx, u, code)

	s, err := e.IssueSession(ctx, u.ID, userAgentFromContext(ctx), clientIPFromContext(ctx))
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, u.ID, s.ID, nil, nil)

	return &LoginResult{
		Session:       s,
		User:          userView(u),
		EmailVerified: u.EmailVerified,
		IsVendor:      e.isVendor(u),
	}, nil
}

func (e *Engine) registerRejected(ctx context.Context, reason string) error {
	e.emitAudit(ctx, auditEventRegisterFailed, false, "", "", ErrValidation, func() map[string]string {
		return map[string]string{
			"reason": reason,
		}
	})
	return ErrValidation
}

// Login describes the login operation and its observable behavior.
//
// Login charges the login rate limit, then checks the password. Unknown
// emails and wrong passwords both yield ErrUnauthorized after the same
// amount of hashing work. Accounts with two-factor authentication enabled
// receive a short-lived ticket instead of a session.
func (e *Engine) Login(ctx context.Context, email, pass, userAgent, ip string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	ctx = withClient(ctx, userAgent, ip)

	if err := e.checkRate(ctx, RateLimitLogin, ""); err != nil {
		return nil, err
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || pass == "" {
		return nil, ErrValidation
	}

	u, err := e.store.UserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.logger.Error("login user lookup failed", zap.Error(err))
			return nil, ErrInternal
		}
		_, _ = e.passwordHash.Verify(pass, e.dummyHash)
		e.loginFailed(ctx, "", "unknown_email")
		return nil, ErrUnauthorized
	}

	ok, err := e.passwordHash.Verify(pass, u.PasswordHash)
	if err != nil && !errors.Is(err, password.ErrPasswordTooLong) {
		e.logger.Error("stored password hash unreadable", zap.String("user_id", u.ID), zap.Error(err))
		return nil, ErrInternal
	}
	if !ok {
		e.loginFailed(ctx, u.ID, "bad_password")
		return nil, ErrUnauthorized
	}

	e.maybeUpgradeHash(ctx, u, pass)

	result := &LoginResult{
		User:          userView(u),
		EmailVerified: u.EmailVerified,
		IsVendor:      e.isVendor(u),
	}

	if u.TwoFactorStatus == store.TwoFactorEnabled {
		ticket, expiresAt, err := e.jwtManager.CreateTicket(u.ID)
		if err != nil {
			e.logger.Error("login ticket signing failed", zap.Error(err))
			return nil, ErrInternal
		}
		e.metricInc(MetricTwoFactorRequired)
		e.emitAudit(ctx, auditEventTwoFactorChallengeIssued, true, u.ID, "", nil, nil)
		result.TwoFactorRequired = true
		result.Ticket = ticket
		result.TicketExpiresAt = expiresAt
		return result, nil
	}

	s, err := e.IssueSession(ctx, u.ID, userAgentFromContext(ctx), clientIPFromContext(ctx))
	if err != nil {
		return nil, err
	}
	result.Session = s

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, u.ID, s.ID, nil, nil)
	return result, nil
}

func (e *Engine) loginFailed(ctx context.Context, userID, reason string) {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailed, false, userID, "", ErrUnauthorized, func() map[string]string {
		return map[string]string{
			"reason": reason,
		}
	})
}

// maybeUpgradeHash rehashes pass with the current parameters when the stored
// hash is bcrypt or uses weaker argon2 settings. Failures are logged only.
func (e *Engine) maybeUpgradeHash(ctx context.Context, u *store.User, pass string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.passwordHash.NeedsUpgrade(u.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.passwordHash.Hash(pass)
	if err != nil {
		e.logger.Warn("password rehash skipped", zap.String("user_id", u.ID), zap.Error(err))
		return
	}
	if err := e.store.UpdatePasswordHash(ctx, u.ID, hash, e.now()); err != nil {
		e.logger.Warn("password rehash not stored", zap.String("user_id", u.ID), zap.Error(err))
		return
	}
	u.PasswordHash = hash
}

// ChangePassword describes the changepassword operation and its observable behavior.
//
// ChangePassword requires the current password. A wrong current password
// yields ErrUnauthorized and a password_change_failed event carrying the
// caller's IP and user agent.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, next string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrUnauthorized
	}

	u, err := e.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnauthorized
		}
		e.logger.Error("password change user lookup failed", zap.Error(err))
		return ErrInternal
	}

	ok, err := e.passwordHash.Verify(current, u.PasswordHash)
	if err != nil && !errors.Is(err, password.ErrPasswordTooLong) {
		e.logger.Error("stored password hash unreadable", zap.String("user_id", u.ID), zap.Error(err))
		return ErrInternal
	}
	if !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChangeFailed, false, u.ID, "", ErrUnauthorized, func() map[string]string {
			return map[string]string{
				"reason": "invalid_current_password",
			}
		})
		return ErrUnauthorized
	}

	if err := e.passwordHash.CheckPolicy(next); err != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailed, false, u.ID, "", ErrValidation, func() map[string]string {
			return map[string]string{
				"reason": "password_policy",
			}
		})
		return ErrValidation
	}

	hash, err := e.passwordHash.Hash(next)
	if err != nil {
		e.logger.Error("password hashing failed", zap.Error(err))
		return ErrInternal
	}
	if err := e.store.UpdatePasswordHash(ctx, u.ID, hash, e.now()); err != nil {
		e.logger.Error("password update failed", zap.String("user_id", u.ID), zap.Error(err))
		return ErrInternal
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChanged, true, u.ID, "", nil, nil)
	return nil
}

func (e *Engine) isVendor(u *store.User) bool {
	return u != nil && e.config.Account.VendorRole != "" && u.Role == e.config.Account.VendorRole
}

// normalizeEmail lower-cases a bare address and rejects display-name forms.
func normalizeEmail(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > 254 {
		return "", false
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw || addr.Name != "" {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}

func (e *Engine) newVerificationCode() (string, string, error) {
	code, err := internal.NewOTP(e.config.EmailVerification.CodeDigits)
	if err != nil {
		return "", "", err
	}
	return code, internal.HashToken(code), nil
}
