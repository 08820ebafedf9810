// Package config loads marketauthd settings from defaults, an optional YAML
// file and MARKETAUTH_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/marketauth"
	"github.com/MrEthical07/marketauth/internal/logging"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides: http.addr is read from
// MARKETAUTH_HTTP_ADDR.
const EnvPrefix = "MARKETAUTH"

// Config is the full daemon configuration.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      logging.Config `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	TrustProxy      bool          `mapstructure:"trust_proxy"`
	SecureCookies   bool          `mapstructure:"secure_cookies"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// DSN selects Postgres. Empty runs on the in-memory store.
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	// Addr enables Redis-backed rate limit counters.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	Production        bool          `mapstructure:"production"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	TicketKey         string        `mapstructure:"ticket_key"`
	TOTPIssuer        string        `mapstructure:"totp_issuer"`
	ResetTokenTTL     time.Duration `mapstructure:"reset_token_ttl"`
	VerificationTTL   time.Duration `mapstructure:"verification_ttl"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
	LoginLimit        int           `mapstructure:"login_limit"`
	RegisterLimit     int           `mapstructure:"register_limit"`
	ResetLimit        int           `mapstructure:"reset_limit"`
	DefaultLimit      int           `mapstructure:"default_limit"`
	Argon2MemoryKB    uint32        `mapstructure:"argon2_memory_kb"`
	Argon2Time        uint32        `mapstructure:"argon2_time"`
	Argon2Parallelism uint8         `mapstructure:"argon2_parallelism"`
}

type MetricsConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	LatencyHistograms bool `mapstructure:"latency_histograms"`
}

func setDefaults(v *viper.Viper) {
	engine := marketauth.DefaultConfig()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{})
	v.SetDefault("http.trust_proxy", false)
	v.SetDefault("http.secure_cookies", false)
	v.SetDefault("http.max_body_bytes", 64<<10)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("auth.production", false)
	v.SetDefault("auth.session_ttl", engine.Session.TTL)
	v.SetDefault("auth.ticket_key", "")
	v.SetDefault("auth.totp_issuer", engine.TwoFactor.Issuer)
	v.SetDefault("auth.reset_token_ttl", engine.PasswordReset.TokenTTL)
	v.SetDefault("auth.verification_ttl", engine.EmailVerification.CodeTTL)
	v.SetDefault("auth.rate_limit_window", engine.RateLimit.Window)
	v.SetDefault("auth.login_limit", engine.RateLimit.Login)
	v.SetDefault("auth.register_limit", engine.RateLimit.Register)
	v.SetDefault("auth.reset_limit", engine.RateLimit.ResetPassword)
	v.SetDefault("auth.default_limit", engine.RateLimit.Default)
	v.SetDefault("auth.argon2_memory_kb", engine.Password.Memory)
	v.SetDefault("auth.argon2_time", engine.Password.Time)
	v.SetDefault("auth.argon2_parallelism", engine.Password.Parallelism)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.latency_histograms", false)
}

// Load reads path when it is non-empty; otherwise it looks for
// marketauth.yaml in /etc/marketauth and the working directory and carries
// on with defaults when none exists.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("marketauth")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/marketauth/")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Engine converts the auth and metrics sections into a validated
// marketauth.Config.
func (c *Config) Engine() (marketauth.Config, error) {
	cfg := marketauth.DefaultConfig()

	cfg.ProductionMode = c.Auth.Production
	cfg.Session.TTL = c.Auth.SessionTTL
	cfg.TwoFactor.Issuer = c.Auth.TOTPIssuer
	cfg.PasswordReset.TokenTTL = c.Auth.ResetTokenTTL
	cfg.EmailVerification.CodeTTL = c.Auth.VerificationTTL
	cfg.RateLimit.Window = c.Auth.RateLimitWindow
	cfg.RateLimit.Login = c.Auth.LoginLimit
	cfg.RateLimit.Register = c.Auth.RegisterLimit
	cfg.RateLimit.ResetPassword = c.Auth.ResetLimit
	cfg.RateLimit.Default = c.Auth.DefaultLimit
	cfg.Password.Memory = c.Auth.Argon2MemoryKB
	cfg.Password.Time = c.Auth.Argon2Time
	cfg.Password.Parallelism = c.Auth.Argon2Parallelism
	if c.Auth.TicketKey != "" {
		cfg.JWT.PrivateKey = []byte(c.Auth.TicketKey)
	}
	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.LatencyHistograms

	if err := cfg.Validate(); err != nil {
		return marketauth.Config{}, fmt.Errorf("auth config: %w", err)
	}
	return cfg, nil
}
