package marketauth

import (
	"context"
	"time"

	"github.com/MrEthical07/marketauth/internal/audit"
	"github.com/MrEthical07/marketauth/internal/rate"
	"github.com/MrEthical07/marketauth/session"
	"github.com/MrEthical07/marketauth/store"
)

// User defines a public type used by marketauth APIs.
//
// User is the caller-facing view of an account. It never carries the
// password hash, the TOTP secret or a pending verification code.
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	FirstName        string    `json:"firstName"`
	LastName         string    `json:"lastName"`
	Role             string    `json:"role"`
	EmailVerified    bool      `json:"emailVerified"`
	TwoFactorEnabled bool      `json:"twoFactorEnabled"`
	CreatedAt        time.Time `json:"createdAt"`
}

// SessionSummary is one row of the "your devices" listing.
type SessionSummary = session.Summary

// LoginResult defines a public type used by marketauth APIs.
//
// Exactly one of Session or Ticket is set. When TwoFactorRequired is true the
// caller must exchange Ticket through CompleteTwoFactorLogin.
type LoginResult struct {
	TwoFactorRequired bool
	Ticket            string
	TicketExpiresAt   time.Time

	Session       *session.Session
	User          *User
	EmailVerified bool
	IsVendor      bool
}

// RegisterRequest defines a public type used by marketauth APIs.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// TwoFactorSetup is returned when enrollment starts. Secret is base32 and
// URI is an otpauth:// provisioning link for authenticator apps.
type TwoFactorSetup struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

// UserStore persists accounts and their second-factor state.
type UserStore interface {
	CreateUser(ctx context.Context, u *store.User) error
	UserByID(ctx context.Context, userID string) (*store.User, error)
	UserByEmail(ctx context.Context, email string) (*store.User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error
	SetEmailVerification(ctx context.Context, userID, codeHash string, expiresAt time.Time) error
	MarkEmailVerified(ctx context.Context, userID string, at time.Time) error

	SetTwoFactorEnrolling(ctx context.Context, userID, secret string, at time.Time) error
	EnableTwoFactor(ctx context.Context, userID string, counter int64, backupHashes [][32]byte, at time.Time) error
	DisableTwoFactor(ctx context.Context, userID string, at time.Time) error
	AdvanceTwoFactorCounter(ctx context.Context, userID string, counter int64) (bool, error)
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error)
}

// SessionStore persists sessions keyed by id and token hash.
type SessionStore interface {
	CreateSession(ctx context.Context, s *session.Session) error
	SessionByTokenHash(ctx context.Context, tokenHash string) (*session.Session, error)
	SessionByID(ctx context.Context, sessionID string) (*session.Session, error)
	ListSessions(ctx context.Context, userID string, now time.Time) ([]session.Session, error)
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	DeleteSession(ctx context.Context, sessionID string) error
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error
	DeleteUserSessions(ctx context.Context, userID, exceptSessionID string) (int, error)
}

// ResetTokenStore persists password-reset tokens. ConsumeResetToken must
// mark the token used and write the new hash atomically, succeeding for at
// most one caller.
type ResetTokenStore interface {
	CreateResetToken(ctx context.Context, t *store.ResetToken) error
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, newPasswordHash string) (string, error)
}

// SecurityLogStore appends to the security event log.
type SecurityLogStore interface {
	AppendSecurityEvent(ctx context.Context, ev store.SecurityEvent) error
}

// Store is the relational collaborator. store.Postgres and store.Memory
// implement it.
type Store interface {
	UserStore
	SessionStore
	ResetTokenStore
	SecurityLogStore
}

// Mailer delivers templated outbound mail. Delivery failures are logged by
// the Engine and never surface to the caller.
type Mailer interface {
	Send(ctx context.Context, to, template string, params map[string]string) error
}

// AuditEvent is the security event handed to sinks.
type AuditEvent = audit.Event

// AuditSink receives security events from the audit worker.
type AuditSink = audit.Sink

// CounterStore backs the rate limiter. See WithCounterStore and WithRedis.
type CounterStore = rate.CounterStore

// RateLimitClass names an endpoint group with its own request budget.
type RateLimitClass = rate.Class

const (
	// RateLimitLogin covers login and the two-factor login step.
	RateLimitLogin RateLimitClass = rate.ClassLogin
	// RateLimitRegister covers account creation.
	RateLimitRegister RateLimitClass = rate.ClassRegister
	// RateLimitResetPassword covers both password-reset calls.
	RateLimitResetPassword RateLimitClass = rate.ClassResetPassword
	// RateLimitDefault covers every other endpoint.
	RateLimitDefault RateLimitClass = rate.ClassDefault
)

func userView(u *store.User) *User {
	if u == nil {
		return nil
	}
	return &User{
		ID:               u.ID,
		Email:            u.Email,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Role:             u.Role,
		EmailVerified:    u.EmailVerified,
		TwoFactorEnabled: u.TwoFactorStatus == store.TwoFactorEnabled,
		CreatedAt:        u.CreatedAt,
	}
}
