package store

import "time"

// TwoFactorStatus is the enrollment state of a user's TOTP factor.
type TwoFactorStatus uint8

const (
	// TwoFactorDisabled means no secret is stored.
	TwoFactorDisabled TwoFactorStatus = iota
	// TwoFactorEnrolling means a secret was issued but not yet confirmed.
	TwoFactorEnrolling
	// TwoFactorEnabled means logins require a second factor.
	TwoFactorEnabled
)

// String returns the lower-case name of the status.
func (s TwoFactorStatus) String() string {
	switch s {
	case TwoFactorDisabled:
		return "disabled"
	case TwoFactorEnrolling:
		return "enrolling"
	case TwoFactorEnabled:
		return "enabled"
	default:
		return "unknown"
	}
}

// User is an account record. Email is always stored lower-cased.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         string

	EmailVerified         bool
	VerificationCodeHash  string
	VerificationExpiresAt time.Time

	TwoFactorStatus      TwoFactorStatus
	TwoFactorSecret      string
	TwoFactorLastCounter int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ResetToken is a single-use password-reset grant.
type ResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// SecurityEvent is one row of the append-only security log.
type SecurityEvent struct {
	Type      string
	UserID    string
	IP        string
	UserAgent string
	Success   bool
	Error     string
	Details   map[string]string
	Timestamp time.Time
}
