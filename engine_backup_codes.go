package marketauth

import (
	"context"

	"github.com/MrEthical07/marketauth/internal"
	internalflows "github.com/MrEthical07/marketauth/internal/flows"
	"github.com/MrEthical07/marketauth/store"
)

// generateBackupCodes returns n plaintext codes and their hashes in the same
// order.
func generateBackupCodes(n int) ([]string, [][32]byte, error) {
	codes := make([]string, 0, n)
	hashes := make([][32]byte, 0, n)
	seen := make(map[[32]byte]struct{}, n)

	for len(codes) < n {
		code, err := internal.NewBackupCode()
		if err != nil {
			return nil, nil, err
		}
		h := internal.HashCode(code)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		codes = append(codes, code)
		hashes = append(hashes, h)
	}
	return codes, hashes, nil
}

// verifySecondFactor checks code as a TOTP code or a backup code and returns
// which one matched. A rejected code yields ErrUnauthorized; an account that
// has used up its failure budget gets a *RateLimitError before any code is
// compared.
func (e *Engine) verifySecondFactor(ctx context.Context, u *store.User, code string) (string, error) {
	kind, err := internalflows.RunVerifySecondFactor(ctx, internalflows.SecondFactorUser{
		UserID:      u.ID,
		Secret:      u.TwoFactorSecret,
		LastCounter: u.TwoFactorLastCounter,
	}, code, e.secondFactorFlowDeps())
	if err != nil {
		return "", err
	}
	if kind == internalflows.SecondFactorBackupCode {
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, u.ID, "", nil, nil)
	}
	return kind, nil
}

func (e *Engine) secondFactorFlowDeps() internalflows.SecondFactorDeps {
	return internalflows.SecondFactorDeps{
		Now:            e.now,
		TOTPDigits:     e.config.TwoFactor.Digits,
		VerifyTOTP:     e.totp.VerifyCode,
		AdvanceCounter: e.store.AdvanceTwoFactorCounter,
		ConsumeBackupCode: func(ctx context.Context, userID, code string) (bool, error) {
			return e.store.ConsumeBackupCode(ctx, userID, internal.HashCode(code))
		},
		CheckAttempts: func(ctx context.Context, userID string) error {
			return e.checkAttempts(ctx, e.totpAttempts, userID)
		},
		RecordFailure: func(ctx context.Context, userID string) error {
			return e.recordAttemptFailure(ctx, e.totpAttempts, userID)
		},
		ResetAttempts: func(ctx context.Context, userID string) {
			e.resetAttempts(ctx, e.totpAttempts, userID)
		},
		LogError:  e.logError,
		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		Metrics: internalflows.SecondFactorMetrics{
			TOTPSuccess:  int(MetricTwoFactorSuccess),
			TOTPFailure:  int(MetricTwoFactorFailure),
			TOTPReplay:   int(MetricTwoFactorReplay),
			BackupUsed:   int(MetricBackupCodeUsed),
			BackupFailed: int(MetricBackupCodeFailed),
		},
		Errors: internalflows.SecondFactorErrors{
			EngineNotReady: ErrEngineNotReady,
			Unauthorized:   ErrUnauthorized,
			Internal:       ErrInternal,
		},
	}
}
