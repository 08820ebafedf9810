package marketauth

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/MrEthical07/marketauth/internal/audit"
	"github.com/MrEthical07/marketauth/internal/rate"
	"github.com/MrEthical07/marketauth/jwt"
	"github.com/MrEthical07/marketauth/mailer"
	"github.com/MrEthical07/marketauth/password"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisCounterPrefix = "mkt:"

// dummyPassword is hashed once at build time so logins for unknown emails
// still spend one full verification.
const dummyPassword = "marketauth-dummy-password"

// Builder assembles an Engine. Only WithStore is required.
type Builder struct {
	config Config

	store     Store
	mailer    Mailer
	auditSink AuditSink
	counters  CounterStore
	redis     redis.UniversalClient
	logger    *zap.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration. Build validates it.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the relational collaborator. It is required.
func (b *Builder) WithStore(s Store) *Builder {
	b.store = s
	return b
}

// WithMailer sets the outbound mail collaborator. Without one, mail is
// written to the logger.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// Events always reach the store's security log; sink receives a copy of
// each one as well.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithCounterStore replaces the process-local rate-limit counters.
func (b *Builder) WithCounterStore(c CounterStore) *Builder {
	b.counters = c
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// It backs the rate limiter with Redis so limits hold across instances.
// WithCounterStore takes precedence when both are set.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the operational logger. Defaults to zap.NewNop.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the wall clock used for expiry, rate windows and
// TOTP verification.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms turns on the session-validation latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build validates the configuration, hashes the dummy password used to
// equalise unknown-email logins and starts the audit worker. A Builder can
// be used for one successful Build only.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config:  cfg,
		store:   b.store,
		logger:  logger,
		now:     now,
		metrics: NewMetrics(cfg.Metrics),
		totp:    newTOTPManager(cfg.TwoFactor),
	}

	engine.mailer = b.mailer
	if engine.mailer == nil {
		engine.mailer = mailer.NewLogMailer(logger.Named("mailer"))
	}

	// -------- RATE LIMITER --------
	counters := b.counters
	if counters == nil && b.redis != nil {
		counters = rate.NewRedisCounter(b.redis, redisCounterPrefix)
	}
	if counters == nil {
		counters = rate.NewMemoryCounter(now)
	}
	engine.counters = counters
	engine.limiter = rate.New(counters, cfg.rateConfig())
	engine.totpAttempts = rate.NewAttemptLimiter(counters, rate.ScopeTwoFactor, cfg.twoFactorAttempts())
	engine.verifyAttempts = rate.NewAttemptLimiter(counters, rate.ScopeEmailVerification, cfg.verificationAttempts())

	// -------- PASSWORDS --------
	ph, err := password.NewArgon2(cfg.passwordConfig())
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph
	dummy, err := ph.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}
	engine.dummyHash = dummy

	// -------- LOGIN TICKETS --------
	key := cloneBytes(cfg.JWT.PrivateKey)
	if cfg.JWT.SigningMethod == string(jwt.MethodHS256) && len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
	}
	jm, err := jwt.NewManager(jwt.Config{
		TicketTTL:     cfg.TwoFactor.TicketTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    key,
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	// -------- AUDIT --------
	var sink audit.Sink = audit.NewStoreSink(b.store)
	if b.auditSink != nil {
		sink = audit.MultiSink{sink, b.auditSink}
	}
	auditLog := logger.Named("audit")
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		OnError: func(ev audit.Event, err error) {
			auditLog.Warn("security event not recorded",
				zap.String("event_type", ev.EventType),
				zap.Error(err),
			)
		},
	}, sink)

	b.built = true
	return engine, nil
}
