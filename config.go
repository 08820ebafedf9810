package marketauth

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/marketauth/internal/rate"
	"github.com/MrEthical07/marketauth/password"
)

// Config defines a public type used by marketauth APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Session           SessionConfig
	Password          PasswordConfig
	TwoFactor         TwoFactorConfig
	PasswordReset     PasswordResetConfig
	EmailVerification EmailVerificationConfig
	Account           AccountConfig
	RateLimit         RateLimitConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
	JWT               JWTConfig
	ProductionMode    bool
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls server-side session lifetime.
type SessionConfig struct {
	TTL time.Duration
	// TouchInterval throttles LastActiveAt writes on validation.
	TouchInterval time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters and the byte-length policy.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinBytes       int
	MaxBytes       int
	UpgradeOnLogin bool
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig defines a public type used by marketauth APIs.
//
// TwoFactorConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TwoFactorConfig struct {
	Issuer               string
	Digits               int
	Period               int
	Algorithm            string
	Skew                 int
	BackupCodeCount      int
	RequireCodeToDisable bool
	TicketTTL            time.Duration
	// MaxAttempts wrong codes per account lock the factor for AttemptCooldown.
	MaxAttempts     int
	AttemptCooldown time.Duration
}

// PasswordResetConfig defines a public type used by marketauth APIs.
type PasswordResetConfig struct {
	TokenTTL       time.Duration
	RevokeSessions bool
	// MaxEnumerationDelay bounds the random pause added for unknown emails.
	MaxEnumerationDelay time.Duration
	// MailTemplate names the template handed to the Mailer.
	MailTemplate string
}

// EmailVerificationConfig defines a public type used by marketauth APIs.
type EmailVerificationConfig struct {
	CodeDigits      int
	CodeTTL         time.Duration
	MailTemplate    string
	MaxAttempts     int
	AttemptCooldown time.Duration
}

// AccountConfig controls registration defaults.
type AccountConfig struct {
	DefaultRole string
	VendorRole  string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig sets the fixed window and per-class thresholds.
type RateLimitConfig struct {
	Window        time.Duration
	Login         int
	Register      int
	ResetPassword int
	Default       int
}

// AuditConfig defines a public type used by marketauth APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by marketauth APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// JWTConfig configures the signer for two-factor login tickets.
type JWTConfig struct {
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	KeyID         string
	Leeway        time.Duration
}

// DefaultConfig returns the stock marketplace settings: 30 day sessions,
// 1 hour reset tokens, TOTP with one step of skew and the 15 minute
// login/register/resetPassword/default rate budget of 5/3/3/100.
//
// JWT.PrivateKey is left empty; Builder.Build generates a random HS256
// key when none is supplied.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			TTL:           30 * 24 * time.Hour,
			TouchInterval: time.Minute,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinBytes:       password.DefaultMinPasswordBytes,
			MaxBytes:       password.DefaultMaxPasswordBytes,
			UpgradeOnLogin: true,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:               "marketauth",
			Digits:               6,
			Period:               30,
			Algorithm:            "SHA1",
			Skew:                 1,
			BackupCodeCount:      10,
			RequireCodeToDisable: true,
			TicketTTL:            5 * time.Minute,
			MaxAttempts:          5,
			AttemptCooldown:      15 * time.Minute,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL:            time.Hour,
			RevokeSessions:      true,
			MaxEnumerationDelay: 50 * time.Millisecond,
			MailTemplate:        "password_reset",
		},
		EmailVerification: EmailVerificationConfig{
			CodeDigits:      6,
			CodeTTL:         24 * time.Hour,
			MailTemplate:    "email_verification",
			MaxAttempts:     5,
			AttemptCooldown: 15 * time.Minute,
		},
		Account: AccountConfig{
			DefaultRole: "customer",
			VendorRole:  "vendor",
		},
		RateLimit: RateLimitConfig{
			Window:        15 * time.Minute,
			Login:         5,
			Register:      3,
			ResetPassword: 3,
			Default:       100,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		JWT: JWTConfig{
			SigningMethod: "hs256",
			Issuer:        "marketauth",
			Leeway:        5 * time.Second,
		},
	}
}

// Validate reports the first setting that is out of range. Builder.Build
// calls it before wiring anything.
func (c *Config) Validate() error {
	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.TouchInterval < 0 {
		return errors.New("Session TouchInterval must be >= 0")
	}

	// Password
	if c.Password.MinBytes < 1 {
		return errors.New("Password MinBytes must be >= 1")
	}
	if c.Password.MaxBytes < c.Password.MinBytes {
		return errors.New("Password MaxBytes must be >= MinBytes")
	}

	// Two-factor
	if c.TwoFactor.Digits != 6 && c.TwoFactor.Digits != 8 {
		return errors.New("TwoFactor Digits must be 6 or 8")
	}
	if c.TwoFactor.Period <= 0 {
		return errors.New("TwoFactor Period must be > 0")
	}
	if c.TwoFactor.Skew < 0 || c.TwoFactor.Skew > 3 {
		return errors.New("TwoFactor Skew must be between 0 and 3")
	}
	switch strings.ToUpper(c.TwoFactor.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TwoFactor Algorithm must be SHA1, SHA256 or SHA512")
	}
	if strings.TrimSpace(c.TwoFactor.Issuer) == "" {
		return errors.New("TwoFactor Issuer must not be empty")
	}
	if c.TwoFactor.BackupCodeCount <= 0 || c.TwoFactor.BackupCodeCount > 32 {
		return errors.New("TwoFactor BackupCodeCount must be between 1 and 32")
	}
	if c.TwoFactor.TicketTTL <= 0 || c.TwoFactor.TicketTTL > 15*time.Minute {
		return errors.New("TwoFactor TicketTTL must be > 0 and <= 15m")
	}
	if c.TwoFactor.MaxAttempts <= 0 || c.TwoFactor.AttemptCooldown <= 0 {
		return errors.New("TwoFactor MaxAttempts and AttemptCooldown must be > 0")
	}

	// Password reset
	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("PasswordReset TokenTTL must be > 0")
	}
	if c.PasswordReset.MaxEnumerationDelay < 0 {
		return errors.New("PasswordReset MaxEnumerationDelay must be >= 0")
	}

	// Email verification
	if c.EmailVerification.CodeDigits < 6 || c.EmailVerification.CodeDigits > 10 {
		return errors.New("EmailVerification CodeDigits must be between 6 and 10")
	}
	if c.EmailVerification.CodeTTL <= 0 {
		return errors.New("EmailVerification CodeTTL must be > 0")
	}
	if c.EmailVerification.MaxAttempts <= 0 || c.EmailVerification.AttemptCooldown <= 0 {
		return errors.New("EmailVerification MaxAttempts and AttemptCooldown must be > 0")
	}

	if strings.TrimSpace(c.Account.DefaultRole) == "" {
		return errors.New("Account DefaultRole must not be empty")
	}

	// Rate limit
	if c.RateLimit.Window <= 0 {
		return errors.New("RateLimit Window must be > 0")
	}
	if c.RateLimit.Login <= 0 || c.RateLimit.Register <= 0 || c.RateLimit.ResetPassword <= 0 || c.RateLimit.Default <= 0 {
		return errors.New("RateLimit thresholds must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// JWT
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) > 0 && len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 PrivateKey must be >= 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.ProductionMode && c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ProductionMode requires an explicit JWT PrivateKey")
	}

	return nil
}

func (c Config) passwordConfig() password.Config {
	return password.Config{
		Memory:           c.Password.Memory,
		Time:             c.Password.Time,
		Parallelism:      c.Password.Parallelism,
		SaltLength:       c.Password.SaltLength,
		KeyLength:        c.Password.KeyLength,
		MinPasswordBytes: c.Password.MinBytes,
		MaxPasswordBytes: c.Password.MaxBytes,
	}
}

func (c Config) rateConfig() rate.Config {
	return rate.Config{
		Window: c.RateLimit.Window,
		Thresholds: map[rate.Class]int{
			rate.ClassLogin:         c.RateLimit.Login,
			rate.ClassRegister:      c.RateLimit.Register,
			rate.ClassResetPassword: c.RateLimit.ResetPassword,
			rate.ClassDefault:       c.RateLimit.Default,
		},
	}
}

func (c Config) twoFactorAttempts() rate.AttemptConfig {
	return rate.AttemptConfig{
		MaxAttempts: c.TwoFactor.MaxAttempts,
		Cooldown:    c.TwoFactor.AttemptCooldown,
	}
}

func (c Config) verificationAttempts() rate.AttemptConfig {
	return rate.AttemptConfig{
		MaxAttempts: c.EmailVerification.MaxAttempts,
		Cooldown:    c.EmailVerification.AttemptCooldown,
	}
}

func cloneConfig(cfg Config) Config {
	cfg.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	cfg.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return cfg
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
