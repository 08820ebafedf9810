package internaldefs

import (
	"github.com/MrEthical07/marketauth"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   marketauth.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine latency histogram to its exported name.
type HistogramDef struct {
	ID   marketauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: marketauth.MetricLoginSuccess, Name: "marketauth_login_success_total", Help: "Logins that issued a session or a two-factor ticket."},
	{ID: marketauth.MetricLoginFailure, Name: "marketauth_login_failure_total", Help: "Rejected credentials, including second-factor failures."},
	{ID: marketauth.MetricRegisterSuccess, Name: "marketauth_register_success_total", Help: "Created accounts."},
	{ID: marketauth.MetricRegisterDuplicate, Name: "marketauth_register_duplicate_total", Help: "Registrations rejected for an existing email."},
	{ID: marketauth.MetricSessionCreated, Name: "marketauth_session_created_total", Help: "Issued sessions."},
	{ID: marketauth.MetricSessionValidated, Name: "marketauth_session_validated_total", Help: "Successful session validations."},
	{ID: marketauth.MetricSessionRejected, Name: "marketauth_session_rejected_total", Help: "Unknown or expired session tokens."},
	{ID: marketauth.MetricSessionRevoked, Name: "marketauth_session_revoked_total", Help: "Sessions deleted through revocation."},
	{ID: marketauth.MetricLogout, Name: "marketauth_logout_total", Help: "Logout operations."},
	{ID: marketauth.MetricTwoFactorRequired, Name: "marketauth_two_factor_required_total", Help: "Logins answered with a two-factor ticket."},
	{ID: marketauth.MetricTwoFactorSuccess, Name: "marketauth_two_factor_success_total", Help: "Accepted TOTP codes."},
	{ID: marketauth.MetricTwoFactorFailure, Name: "marketauth_two_factor_failure_total", Help: "Rejected TOTP codes."},
	{ID: marketauth.MetricTwoFactorReplay, Name: "marketauth_two_factor_replay_total", Help: "TOTP codes whose time-step was already used."},
	{ID: marketauth.MetricTwoFactorEnabled, Name: "marketauth_two_factor_enabled_total", Help: "Completed two-factor enrollments."},
	{ID: marketauth.MetricTwoFactorDisabled, Name: "marketauth_two_factor_disabled_total", Help: "Disabled second factors."},
	{ID: marketauth.MetricBackupCodeUsed, Name: "marketauth_backup_code_used_total", Help: "Consumed backup codes."},
	{ID: marketauth.MetricBackupCodeFailed, Name: "marketauth_backup_code_failed_total", Help: "Rejected backup codes."},
	{ID: marketauth.MetricPasswordChangeSuccess, Name: "marketauth_password_change_success_total", Help: "Password changes."},
	{ID: marketauth.MetricPasswordChangeInvalidOld, Name: "marketauth_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: marketauth.MetricPasswordResetRequest, Name: "marketauth_password_reset_request_total", Help: "Password reset requests."},
	{ID: marketauth.MetricPasswordResetSuccess, Name: "marketauth_password_reset_success_total", Help: "Consumed reset tokens."},
	{ID: marketauth.MetricPasswordResetFailure, Name: "marketauth_password_reset_failure_total", Help: "Absent, used or expired reset tokens."},
	{ID: marketauth.MetricEmailVerificationSuccess, Name: "marketauth_email_verification_success_total", Help: "Verified emails."},
	{ID: marketauth.MetricEmailVerificationFailure, Name: "marketauth_email_verification_failure_total", Help: "Rejected verification codes."},
	{ID: marketauth.MetricRateLimitHit, Name: "marketauth_rate_limit_hit_total", Help: "Requests denied by the rate limiter."},
	{ID: marketauth.MetricMailFailure, Name: "marketauth_mail_failure_total", Help: "Mail deliveries the mailer rejected."},
}

// HistogramDefs lists every latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: marketauth.MetricValidateLatency, Name: "marketauth_session_validate_latency_seconds", Help: "Session validation latency."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The engine
// keeps one extra overflow bucket.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, overflow last, for exporters
// without native histogram support.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

const (
	AuditDroppedName = "marketauth_audit_dropped_total"
	AuditDroppedHelp = "Security events dropped because the audit buffer was full."
	AuditFailedName  = "marketauth_audit_failed_total"
	AuditFailedHelp  = "Security events the audit sink failed to record."
)

// NormalizeBuckets copies raw into a fixed-size array, zero-filling missing
// buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
