package marketauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

// enrollTwoFactor walks userID through enrollment and returns the secret and
// backup codes.
func enrollTwoFactor(t *testing.T, h *harness, userID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := h.engine.BeginTwoFactorEnrollment(ctx, userID)
	if err != nil {
		t.Fatalf("BeginTwoFactorEnrollment failed: %v", err)
	}
	codes, err := h.engine.ConfirmTwoFactorEnrollment(ctx, userID, codeAt(t, setup.Secret, h.clock.Now()))
	if err != nil {
		t.Fatalf("ConfirmTwoFactorEnrollment failed: %v", err)
	}
	return setup.Secret, codes
}

func TestTwoFactorEnrollment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.register(t, "totp@example.com", "correct-password-123")

	setup, err := h.engine.BeginTwoFactorEnrollment(ctx, res.User.ID)
	if err != nil {
		t.Fatalf("BeginTwoFactorEnrollment failed: %v", err)
	}
	if setup.Secret == "" || setup.URI == "" {
		t.Fatalf("incomplete setup: %+v", setup)
	}
	if enabled, _ := h.engine.TwoFactorStatus(ctx, res.User.ID); enabled {
		t.Fatal("pending enrollment must not count as enabled")
	}

	if _, err := h.engine.ConfirmTwoFactorEnrollment(ctx, res.User.ID, "12345"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for malformed code, got %v", err)
	}

	codes, err := h.engine.ConfirmTwoFactorEnrollment(ctx, res.User.ID, codeAt(t, setup.Secret, h.clock.Now()))
	if err != nil {
		t.Fatalf("ConfirmTwoFactorEnrollment failed: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 backup codes, got %d", len(codes))
	}
	if n := h.store.BackupCodeCount(res.User.ID); n != 10 {
		t.Fatalf("expected 10 stored backup hashes, got %d", n)
	}
	if enabled, err := h.engine.TwoFactorStatus(ctx, res.User.ID); err != nil || !enabled {
		t.Fatalf("expected enabled, got %v err=%v", enabled, err)
	}

	if _, err := h.engine.BeginTwoFactorEnrollment(ctx, res.User.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict when already enabled, got %v", err)
	}
}

func TestTwoFactorLoginRequiresSecondStep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.register(t, "mfa@example.com", "correct-password-123")
	secret, _ := enrollTwoFactor(t, h, res.User.ID)

	login := h.login(t, "mfa@example.com", "correct-password-123")
	if !login.TwoFactorRequired || login.Ticket == "" || login.Session != nil {
		t.Fatalf("expected a ticket and no session, got %+v", login)
	}

	// The enrollment code's time-step is already spent.
	_, err := h.engine.CompleteTwoFactorLogin(ctx, login.Ticket, codeAt(t, secret, h.clock.Now()), "ua", h.freshIP())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected replayed code to fail, got %v", err)
	}

	h.clock.Advance(30 * time.Second)
	code := codeAt(t, secret, h.clock.Now())
	done, err := h.engine.CompleteTwoFactorLogin(ctx, login.Ticket, code, "ua", h.freshIP())
	if err != nil {
		t.Fatalf("CompleteTwoFactorLogin failed: %v", err)
	}
	if done.Session == nil || done.User.ID != res.User.ID {
		t.Fatalf("expected a session for %s, got %+v", res.User.ID, done)
	}
	if _, err := h.engine.Me(ctx, done.Session.Token); err != nil {
		t.Fatalf("Me failed: %v", err)
	}

	if got := h.engine.MetricsSnapshot().Counters[MetricTwoFactorReplay]; got != 1 {
		t.Fatalf("expected 1 replay hit, got %d", got)
	}

	h.clock.Advance(30 * time.Second)
	next := codeAt(t, secret, h.clock.Now())
	if _, err := h.engine.CompleteTwoFactorLogin(ctx, login.Ticket, next, "ua", h.freshIP()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected a redeemed ticket to be refused, got %v", err)
	}

	// The refused ticket must not have spent the fresh code.
	again := h.login(t, "mfa@example.com", "correct-password-123")
	if _, err := h.engine.CompleteTwoFactorLogin(ctx, again.Ticket, next, "ua", h.freshIP()); err != nil {
		t.Fatalf("fresh ticket with unused code failed: %v", err)
	}

	reused := 0
	for _, ev := range h.securityEvents("two_factor_login_failed") {
		if ev.Details["reason"] == "ticket_reused" {
			reused++
		}
	}
	if reused != 1 {
		t.Fatalf("expected 1 ticket_reused failure, got %d", reused)
	}
}

func TestTwoFactorBackupCodeSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.register(t, "backup@example.com", "correct-password-123")
	_, codes := enrollTwoFactor(t, h, res.User.ID)

	login := h.login(t, "backup@example.com", "correct-password-123")
	if _, err := h.engine.CompleteTwoFactorLogin(ctx, login.Ticket, codes[0], "ua", h.freshIP()); err != nil {
		t.Fatalf("backup code login failed: %v", err)
	}
	if n := h.store.BackupCodeCount(res.User.ID); n != 9 {
		t.Fatalf("expected 9 remaining backup codes, got %d", n)
	}
	again := h.login(t, "backup@example.com", "correct-password-123")
	if _, err := h.engine.CompleteTwoFactorLogin(ctx, again.Ticket, codes[0], "ua", h.freshIP()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected used backup code to fail, got %v", err)
	}

	used := h.securityEvents("backup_code_used")
	if len(used) != 1 || used[0].UserID != res.User.ID {
		t.Fatalf("unexpected backup_code_used events: %+v", used)
	}
}

func TestTwoFactorTicketExpires(t *testing.T) {
	h := newHarness(t)
	res := h.register(t, "ticket@example.com", "correct-password-123")
	secret, _ := enrollTwoFactor(t, h, res.User.ID)

	login := h.login(t, "ticket@example.com", "correct-password-123")
	h.clock.Advance(5*time.Minute + 30*time.Second)

	_, err := h.engine.CompleteTwoFactorLogin(context.Background(), login.Ticket, codeAt(t, secret, h.clock.Now()), "ua", h.freshIP())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected expired ticket to fail, got %v", err)
	}
	if _, err := h.engine.CompleteTwoFactorLogin(context.Background(), "garbage", "123456", "ua", h.freshIP()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected garbage ticket to fail, got %v", err)
	}
}

func TestDisableTwoFactorRequiresCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.register(t, "disable@example.com", "correct-password-123")
	_, codes := enrollTwoFactor(t, h, res.User.ID)

	if err := h.engine.DisableTwoFactor(ctx, res.User.ID, "not-a-code"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := h.engine.DisableTwoFactor(ctx, res.User.ID, codes[3]); err != nil {
		t.Fatalf("DisableTwoFactor failed: %v", err)
	}
	if enabled, _ := h.engine.TwoFactorStatus(ctx, res.User.ID); enabled {
		t.Fatal("expected two-factor to be disabled")
	}
	if n := h.store.BackupCodeCount(res.User.ID); n != 0 {
		t.Fatalf("expected backup codes to be cleared, got %d", n)
	}

	login := h.login(t, "disable@example.com", "correct-password-123")
	if login.TwoFactorRequired || login.Session == nil {
		t.Fatalf("expected a plain session after disabling, got %+v", login)
	}

	failed := h.securityEvents("two_factor_disable_failed")
	if len(failed) != 1 {
		t.Fatalf("expected 1 two_factor_disable_failed event, got %d", len(failed))
	}
}

func TestDisableTwoFactorWithoutCodeWhenNotRequired(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.TwoFactor.RequireCodeToDisable = false
	})
	ctx := context.Background()
	res := h.register(t, "lenient@example.com", "correct-password-123")
	enrollTwoFactor(t, h, res.User.ID)

	if err := h.engine.DisableTwoFactor(ctx, res.User.ID, ""); err != nil {
		t.Fatalf("DisableTwoFactor failed: %v", err)
	}
	if enabled, _ := h.engine.TwoFactorStatus(ctx, res.User.ID); enabled {
		t.Fatal("expected two-factor to be disabled")
	}
}

func TestTwoFactorWrongCodesLockAccountAcrossIPs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.register(t, "guess@example.com", "correct-password-123")
	secret, _ := enrollTwoFactor(t, h, res.User.ID)
	h.clock.Advance(30 * time.Second)

	login := h.login(t, "guess@example.com", "correct-password-123")
	wrong := wrongCode(codeAt(t, secret, h.clock.Now()))

	for i := 1; i <= 4; i++ {
		_, err := h.engine.CompleteTwoFactorLogin(ctx, login.Ticket, wrong, "ua", h.freshIP())
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("attempt %d: expected ErrUnauthorized, got %v", i, err)
		}
	}
	_, err := h.engine.CompleteTwoFactorLogin(ctx, login.Ticket, wrong, "ua", h.freshIP())
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected the 5th wrong code to lock the account, got %v", err)
	}

	// Neither a new address nor a new ticket gets past the lock, even with
	// the right code.
	_, err = h.engine.CompleteTwoFactorLogin(ctx, login.Ticket, codeAt(t, secret, h.clock.Now()), "ua", h.freshIP())
	var rl *RateLimitError
	if !errors.As(err, &rl) || rl.Class != "totp" || rl.RetryAfter <= 0 {
		t.Fatalf("expected a totp *RateLimitError, got %v", err)
	}
	again := h.login(t, "guess@example.com", "correct-password-123")
	if _, err := h.engine.CompleteTwoFactorLogin(ctx, again.Ticket, codeAt(t, secret, h.clock.Now()), "ua", h.freshIP()); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected lock to hold for a new ticket, got %v", err)
	}
	if err := h.engine.DisableTwoFactor(ctx, res.User.ID, codeAt(t, secret, h.clock.Now())); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected lock to cover disabling, got %v", err)
	}

	h.clock.Advance(15 * time.Minute)
	fresh := h.login(t, "guess@example.com", "correct-password-123")
	if _, err := h.engine.CompleteTwoFactorLogin(ctx, fresh.Ticket, codeAt(t, secret, h.clock.Now()), "ua", h.freshIP()); err != nil {
		t.Fatalf("expected login after cooldown, got %v", err)
	}

	limited := 0
	for _, ev := range h.securityEvents("rate_limit_exceeded") {
		if ev.Details["attempt_scope"] == "totp" && ev.UserID == res.User.ID {
			limited++
		}
	}
	if limited != 4 {
		t.Fatalf("expected 4 totp rate_limit_exceeded events, got %d", limited)
	}
}

func TestTwoFactorSuccessResetsAttemptBudget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.register(t, "reset-budget@example.com", "correct-password-123")
	_, codes := enrollTwoFactor(t, h, res.User.ID)

	for round := 0; round < 2; round++ {
		login := h.login(t, "reset-budget@example.com", "correct-password-123")
		for i := 0; i < 4; i++ {
			_, err := h.engine.CompleteTwoFactorLogin(ctx, login.Ticket, "ZZZZ-ZZZZ", "ua", h.freshIP())
			if !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("round %d attempt %d: expected ErrUnauthorized, got %v", round, i, err)
			}
		}
		if _, err := h.engine.CompleteTwoFactorLogin(ctx, login.Ticket, codes[round], "ua", h.freshIP()); err != nil {
			t.Fatalf("round %d: backup code login failed: %v", round, err)
		}
	}
}
