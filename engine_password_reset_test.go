package marketauth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func requestResetToken(t *testing.T, h *harness, email string) string {
	t.Helper()
	if err := h.engine.RequestPasswordReset(h.ctx(), email); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	msg, ok := h.mail.Last(email)
	if !ok || msg.Template != "password_reset" {
		t.Fatalf("expected a password_reset mail, got %+v", msg)
	}
	token := msg.Params["token"]
	if token == "" {
		t.Fatal("reset mail carries no token")
	}
	return token
}

func TestPasswordResetFlow(t *testing.T) {
	h := newHarness(t)
	res := h.register(t, "reset@example.com", "old-password-123")

	token := requestResetToken(t, h, "reset@example.com")
	if err := h.engine.ConsumePasswordReset(h.ctx(), token, "new-password-456"); err != nil {
		t.Fatalf("ConsumePasswordReset failed: %v", err)
	}

	if _, err := h.engine.Me(context.Background(), res.Session.Token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("existing sessions must be revoked, got %v", err)
	}
	if _, err := h.engine.Login(context.Background(), "reset@example.com", "old-password-123", "ua", h.freshIP()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	h.login(t, "reset@example.com", "new-password-456")

	if err := h.engine.ConsumePasswordReset(h.ctx(), token, "third-password-789"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected used token to fail, got %v", err)
	}

	success := h.securityEvents("password_reset_success")
	if len(success) != 1 || success[0].Details["sessions_revoked"] != "1" {
		t.Fatalf("unexpected password_reset_success events: %+v", success)
	}
	for _, ev := range h.store.SecurityEvents() {
		for _, v := range ev.Details {
			if v == token {
				t.Fatalf("raw token leaked into security log: %+v", ev)
			}
		}
	}
}

func TestPasswordResetUnknownEmailCreatesNothing(t *testing.T) {
	h := newHarness(t)
	h.register(t, "known@example.com", "correct-password-123")
	before := len(h.mail.Messages())

	if err := h.engine.RequestPasswordReset(h.ctx(), "ghost@example.com"); err != nil {
		t.Fatalf("unknown email must not be reported, got %v", err)
	}
	if got := len(h.mail.Messages()); got != before {
		t.Fatalf("expected no mail for unknown email, got %d new", got-before)
	}

	u, err := h.store.UserByEmail(context.Background(), "known@example.com")
	if err != nil {
		t.Fatalf("UserByEmail failed: %v", err)
	}
	if n := len(h.store.ResetTokens(u.ID)); n != 0 {
		t.Fatalf("expected no reset tokens, got %d", n)
	}

	requested := h.securityEvents("password_reset_requested")
	if len(requested) != 1 || requested[0].Details["enumeration_safe"] != "true" {
		t.Fatalf("unexpected password_reset_requested events: %+v", requested)
	}
}

func TestPasswordResetEnumerationDelayHonoursContext(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.PasswordReset.MaxEnumerationDelay = time.Hour
	})

	ctx, cancel := context.WithTimeout(h.ctx(), 20*time.Millisecond)
	defer cancel()
	err := h.engine.RequestPasswordReset(ctx, "ghost@example.com")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestPasswordResetConcurrentConsumeSingleWinner(t *testing.T) {
	h := newHarness(t)
	h.register(t, "race@example.com", "old-password-123")
	token := requestResetToken(t, h, "race@example.com")

	const workers = 12
	var wg sync.WaitGroup
	var wins, invalid int32
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		ctx := h.ctx()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := h.engine.ConsumePasswordReset(ctx, token, "new-password-456")
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, ErrInvalidOrExpiredToken):
				atomic.AddInt32(&invalid, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 || invalid != workers-1 {
		t.Fatalf("expected exactly one winner, got wins=%d invalid=%d", wins, invalid)
	}
}

func TestPasswordResetTokenExpiry(t *testing.T) {
	h := newHarness(t)
	h.register(t, "expiry@example.com", "old-password-123")
	token := requestResetToken(t, h, "expiry@example.com")

	h.clock.Advance(time.Hour)
	if err := h.engine.ConsumePasswordReset(h.ctx(), token, "new-password-456"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestPasswordResetNewTokenInvalidatesOld(t *testing.T) {
	h := newHarness(t)
	h.register(t, "rotate@example.com", "old-password-123")
	first := requestResetToken(t, h, "rotate@example.com")
	second := requestResetToken(t, h, "rotate@example.com")

	if err := h.engine.ConsumePasswordReset(h.ctx(), first, "new-password-456"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected superseded token to fail, got %v", err)
	}
	if err := h.engine.ConsumePasswordReset(h.ctx(), second, "new-password-456"); err != nil {
		t.Fatalf("latest token should work, got %v", err)
	}
}

func TestPasswordResetRejectsWeakPasswordAndKeepsToken(t *testing.T) {
	h := newHarness(t)
	h.register(t, "weak@example.com", "old-password-123")
	token := requestResetToken(t, h, "weak@example.com")

	if err := h.engine.ConsumePasswordReset(h.ctx(), token, "short"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if err := h.engine.ConsumePasswordReset(h.ctx(), token, "long-enough-password"); err != nil {
		t.Fatalf("token should still be usable, got %v", err)
	}
}

func TestPasswordResetMailFailureStillSucceeds(t *testing.T) {
	h := newHarness(t)
	h.register(t, "bounce@example.com", "old-password-123")
	h.mail.Err = errors.New("smtp unavailable")

	if err := h.engine.RequestPasswordReset(h.ctx(), "bounce@example.com"); err != nil {
		t.Fatalf("mail failure must not surface, got %v", err)
	}

	errs := h.securityEvents("password_reset_error")
	if len(errs) != 1 || errs[0].Details["stage"] != "mail" {
		t.Fatalf("unexpected password_reset_error events: %+v", errs)
	}
}

func TestPasswordResetRateLimited(t *testing.T) {
	h := newHarness(t)
	ctx := WithClientIP(context.Background(), "203.0.113.50")

	for i := 0; i < 3; i++ {
		if err := h.engine.RequestPasswordReset(ctx, "ghost@example.com"); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if err := h.engine.RequestPasswordReset(ctx, "ghost@example.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected fourth request to be limited, got %v", err)
	}
}
