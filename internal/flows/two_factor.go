package flows

import (
	"context"
	"strings"
	"time"
)

const (
	SecondFactorTOTP       = "totp"
	SecondFactorBackupCode = "backup_code"
)

// SecondFactorUser is the state needed to check a code for one account.
type SecondFactorUser struct {
	UserID      string
	Secret      string
	LastCounter int64
}

type SecondFactorMetrics struct {
	TOTPSuccess  int
	TOTPFailure  int
	TOTPReplay   int
	BackupUsed   int
	BackupFailed int
}

type SecondFactorErrors struct {
	EngineNotReady error
	Unauthorized   error
	Internal       error
}

// SecondFactorDeps captures TOTP and backup-code verification dependencies.
//
// CheckAttempts, RecordFailure and ResetAttempts guard the per-account
// failure budget. Errors they return are handed back to the caller as is.
type SecondFactorDeps struct {
	Now        func() time.Time
	TOTPDigits int

	VerifyTOTP        func(secret, code string, now time.Time) (bool, int64, error)
	AdvanceCounter    func(ctx context.Context, userID string, counter int64) (bool, error)
	ConsumeBackupCode func(ctx context.Context, userID, code string) (bool, error)
	CheckAttempts     func(ctx context.Context, userID string) error
	RecordFailure     func(ctx context.Context, userID string) error
	ResetAttempts     func(ctx context.Context, userID string)
	LogError          func(string, error)
	MetricInc         func(int)

	Metrics SecondFactorMetrics
	Errors  SecondFactorErrors
}

func normalizeSecondFactorDeps(deps *SecondFactorDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.CheckAttempts == nil {
		deps.CheckAttempts = func(context.Context, string) error { return nil }
	}
	if deps.RecordFailure == nil {
		deps.RecordFailure = func(context.Context, string) error { return nil }
	}
	if deps.ResetAttempts == nil {
		deps.ResetAttempts = func(context.Context, string) {}
	}
	if deps.LogError == nil {
		deps.LogError = noopLog
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
}

// RunVerifySecondFactor accepts either a TOTP code or an unused backup code
// for user and reports which kind matched.
//
// The account's failure budget is checked before any code is compared and
// every wrong code is charged to it. Codes made of exactly TOTPDigits digits
// are tried as TOTP first. A TOTP match is accepted only when its time-step
// is newer than the last accepted one, and the counter advance is itself
// conditional so two concurrent requests with the same code cannot both
// pass. Anything that does not match as TOTP is tried as a backup code and
// consumed atomically by the store.
func RunVerifySecondFactor(ctx context.Context, user SecondFactorUser, code string, deps SecondFactorDeps) (string, error) {
	normalizeSecondFactorDeps(&deps)
	if deps.VerifyTOTP == nil || deps.AdvanceCounter == nil || deps.ConsumeBackupCode == nil {
		return "", deps.Errors.EngineNotReady
	}

	if err := deps.CheckAttempts(ctx, user.UserID); err != nil {
		return "", err
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return "", deps.Errors.Unauthorized
	}

	triedTOTP := false
	if len(code) == deps.TOTPDigits && isDigits(code) && user.Secret != "" {
		triedTOTP = true
		ok, counter, err := deps.VerifyTOTP(user.Secret, code, deps.Now())
		if err == nil && ok {
			if counter <= user.LastCounter {
				deps.MetricInc(deps.Metrics.TOTPReplay)
				return "", deps.Errors.Unauthorized
			}
			advanced, err := deps.AdvanceCounter(ctx, user.UserID, counter)
			if err != nil {
				deps.LogError("totp counter update failed", err)
				return "", deps.Errors.Internal
			}
			if !advanced {
				deps.MetricInc(deps.Metrics.TOTPReplay)
				return "", deps.Errors.Unauthorized
			}
			deps.ResetAttempts(ctx, user.UserID)
			deps.MetricInc(deps.Metrics.TOTPSuccess)
			return SecondFactorTOTP, nil
		}
		deps.MetricInc(deps.Metrics.TOTPFailure)
	}

	// Backup codes are hex, so one typed without its dash can be all digits.
	ok, err := deps.ConsumeBackupCode(ctx, user.UserID, code)
	if err != nil {
		deps.LogError("backup code consume failed", err)
		return "", deps.Errors.Internal
	}
	if !ok {
		if !triedTOTP {
			deps.MetricInc(deps.Metrics.BackupFailed)
		}
		if err := deps.RecordFailure(ctx, user.UserID); err != nil {
			return "", err
		}
		return "", deps.Errors.Unauthorized
	}
	deps.ResetAttempts(ctx, user.UserID)
	deps.MetricInc(deps.Metrics.BackupUsed)
	return SecondFactorBackupCode, nil
}

func isDigits(v string) bool {
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return v != ""
}
