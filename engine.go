package marketauth

import (
	"context"
	"time"

	"github.com/MrEthical07/marketauth/internal/audit"
	"github.com/MrEthical07/marketauth/internal/rate"
	"github.com/MrEthical07/marketauth/jwt"
	"github.com/MrEthical07/marketauth/password"
	"go.uber.org/zap"
)

// Engine defines a public type used by marketauth APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config         Config
	store          Store
	mailer         Mailer
	limiter        *rate.Limiter
	totpAttempts   *rate.AttemptLimiter
	verifyAttempts *rate.AttemptLimiter
	counters       CounterStore
	audit          *audit.Dispatcher
	metrics        *Metrics
	passwordHash   *password.Argon2
	dummyHash      string
	totp           *totpManager
	jwtManager     *jwt.Manager
	logger         *zap.Logger
	now            func() time.Time
}

// Close describes the close operation and its observable behavior.
//
// Close drains queued audit events before returning. Calling it more than
// once is safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	_ = e.logger.Sync()
}

// AuditDropped counts security events discarded because the audit buffer
// was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditFailed returns how many events a sink rejected.
func (e *Engine) AuditFailed() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Failed()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// The snapshot is a point-in-time copy; an Engine with metrics disabled
// returns empty maps.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the configuration the Engine was built with.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.store != nil && e.limiter != nil && e.totpAttempts != nil && e.verifyAttempts != nil && e.passwordHash != nil
}

// withClient stores explicit transport metadata on ctx so audit events and
// sessions pick it up. Empty values leave ctx untouched.
func withClient(ctx context.Context, userAgent, ip string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if ip != "" {
		ctx = WithClientIP(ctx, ip)
	}
	if userAgent != "" {
		ctx = WithUserAgent(ctx, userAgent)
	}
	return ctx
}
