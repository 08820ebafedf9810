package marketauth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/marketauth/mailer"
	"github.com/MrEthical07/marketauth/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testConfig keeps argon2 at its floor so the suite stays fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.PasswordReset.MaxEnumerationDelay = 0
	return cfg
}

type harness struct {
	engine *Engine
	store  *store.Memory
	mail   *mailer.Recorder
	clock  *fakeClock

	mu     sync.Mutex
	nextIP int
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	h := &harness{
		store: store.NewMemory(),
		mail:  mailer.NewRecorder(),
		clock: newFakeClock(),
	}
	engine, err := New().
		WithConfig(cfg).
		WithStore(h.store).
		WithMailer(h.mail).
		WithClock(h.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

// freshIP hands out a distinct client address so tests do not share rate
// limit budgets unless they mean to.
func (h *harness) freshIP() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextIP++
	return fmt.Sprintf("198.51.%d.%d", h.nextIP/250, h.nextIP%250+1)
}

func (h *harness) ctx() context.Context {
	return WithClientIP(context.Background(), h.freshIP())
}

func (h *harness) register(t *testing.T, email, pass string) *LoginResult {
	t.Helper()
	res, err := h.engine.Register(context.Background(), RegisterRequest{
		Email:     email,
		Password:  pass,
		FirstName: "Ada",
		LastName:  "Lovelace",
	}, "test-agent", h.freshIP())
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", email, err)
	}
	return res
}

func (h *harness) login(t *testing.T, email, pass string) *LoginResult {
	t.Helper()
	res, err := h.engine.Login(context.Background(), email, pass, "test-agent", h.freshIP())
	if err != nil {
		t.Fatalf("Login(%s) failed: %v", email, err)
	}
	return res
}

// securityEvents drains the audit pipeline and returns every stored event of
// the given type.
func (h *harness) securityEvents(eventType string) []store.SecurityEvent {
	h.engine.Close()
	var out []store.SecurityEvent
	for _, ev := range h.store.SecurityEvents() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
