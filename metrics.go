package marketauth

import (
	"sync/atomic"
	"time"
)

// MetricID indexes one engine counter or histogram.
type MetricID uint16

const (
	// MetricLoginSuccess counts logins that issued a session or a two-factor ticket.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected credentials.
	MetricLoginFailure
	// MetricRegisterSuccess counts created accounts.
	MetricRegisterSuccess
	// MetricRegisterDuplicate counts registrations rejected for an existing email.
	MetricRegisterDuplicate
	// MetricSessionCreated counts issued sessions.
	MetricSessionCreated
	// MetricSessionValidated counts successful session validations.
	MetricSessionValidated
	// MetricSessionRejected counts unknown or expired session tokens.
	MetricSessionRejected
	// MetricSessionRevoked counts sessions deleted through revocation.
	MetricSessionRevoked
	// MetricLogout counts logout calls.
	MetricLogout
	// MetricTwoFactorRequired counts logins answered with a two-factor ticket.
	MetricTwoFactorRequired
	// MetricTwoFactorSuccess counts accepted TOTP codes.
	MetricTwoFactorSuccess
	// MetricTwoFactorFailure counts rejected TOTP codes and tickets.
	MetricTwoFactorFailure
	// MetricTwoFactorReplay counts TOTP codes whose time-step was already used.
	MetricTwoFactorReplay
	// MetricTwoFactorEnabled counts completed enrollments.
	MetricTwoFactorEnabled
	// MetricTwoFactorDisabled counts disabled second factors.
	MetricTwoFactorDisabled
	// MetricBackupCodeUsed counts consumed backup codes.
	MetricBackupCodeUsed
	// MetricBackupCodeFailed counts rejected backup codes.
	MetricBackupCodeFailed
	// MetricPasswordChangeSuccess counts password changes.
	MetricPasswordChangeSuccess
	// MetricPasswordChangeInvalidOld counts password changes with a wrong current password.
	MetricPasswordChangeInvalidOld
	// MetricPasswordResetRequest counts reset requests, known and unknown emails alike.
	MetricPasswordResetRequest
	// MetricPasswordResetSuccess counts consumed reset tokens.
	MetricPasswordResetSuccess
	// MetricPasswordResetFailure counts absent, used or expired reset tokens.
	MetricPasswordResetFailure
	// MetricEmailVerificationSuccess counts verified emails.
	MetricEmailVerificationSuccess
	// MetricEmailVerificationFailure counts rejected verification codes.
	MetricEmailVerificationFailure
	// MetricRateLimitHit counts limited requests across all classes.
	MetricRateLimitHit
	// MetricMailFailure counts mail deliveries the Mailer rejected.
	MetricMailFailure
	// MetricValidateLatency is the session validation latency histogram.
	MetricValidateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters, one per MetricID, padded to separate
// cache lines. A nil *Metrics is valid and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter. Histograms holds
// per-bucket (non-cumulative) counts and is empty unless latency histograms
// are enabled.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters configured by cfg. Latency histograms are only
// recorded when both cfg.Enabled and cfg.EnableLatencyHistograms are set.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id. It is a no-op when metrics are disabled.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the latency histogram for id. Only
// MetricValidateLatency carries a histogram; other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricValidateLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current count for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter. Counters are read individually, so a
// snapshot taken under load is not a consistent cut across ids.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricValidateLatency].buckets[i])
		}
		s.Histograms[MetricValidateLatency] = buckets
	}

	return s
}

// latencyBucketBounds are inclusive upper bounds in milliseconds; anything
// slower falls into the final overflow bucket.
var latencyBucketBounds = [histBucketCount - 1]int64{5, 10, 25, 50, 100, 250, 500}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	for i, bound := range latencyBucketBounds {
		if ms <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
