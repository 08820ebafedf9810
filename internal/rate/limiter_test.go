package rate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("boom")
}

func (failingStore) Peek(context.Context, string) (int64, time.Duration, error) {
	return 0, 0, errors.New("boom")
}

func (failingStore) Reset(context.Context, string) error {
	return errors.New("boom")
}

func TestLoginSixthRequestIsLimited(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := New(NewMemoryCounter(clock.Now), DefaultConfig())

	for i := 1; i <= 5; i++ {
		d, err := l.Check(context.Background(), ClassLogin, "10.0.0.1")
		if err != nil {
			t.Fatalf("check %d failed: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	d, err := l.Check(context.Background(), ClassLogin, "10.0.0.1")
	if err != nil {
		t.Fatalf("check 6 failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected 6th login to be limited")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 15*time.Minute {
		t.Fatalf("unexpected retry after %v", d.RetryAfter)
	}

	other, err := l.Check(context.Background(), ClassLogin, "10.0.0.2")
	if err != nil || !other.Allowed {
		t.Fatalf("expected different IP to have its own window, got %+v err=%v", other, err)
	}

	clock.Advance(15*time.Minute + time.Second)
	d, err = l.Check(context.Background(), ClassLogin, "10.0.0.1")
	if err != nil || !d.Allowed || d.Count != 1 {
		t.Fatalf("expected fresh window after expiry, got %+v err=%v", d, err)
	}
}

func TestClassesAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	l := New(NewMemoryCounter(clock.Now), DefaultConfig())

	for i := 0; i < 3; i++ {
		if d, _ := l.Check(context.Background(), ClassRegister, "ip"); !d.Allowed {
			t.Fatalf("register %d should be allowed", i+1)
		}
	}
	if d, _ := l.Check(context.Background(), ClassRegister, "ip"); d.Allowed {
		t.Fatal("expected 4th register to be limited")
	}
	if d, _ := l.Check(context.Background(), ClassLogin, "ip"); !d.Allowed {
		t.Fatal("expected login class unaffected by register class")
	}
}

func TestUnknownClassUsesDefaultThreshold(t *testing.T) {
	l := New(NewMemoryCounter(nil), DefaultConfig())
	if got := l.Threshold(Class("nope")); got != 100 {
		t.Fatalf("expected default threshold 100, got %d", got)
	}
	if got := l.Threshold(ClassResetPassword); got != 3 {
		t.Fatalf("expected resetPassword threshold 3, got %d", got)
	}
}

func TestCounterFailureIsReported(t *testing.T) {
	l := New(failingStore{}, DefaultConfig())
	_, err := l.Check(context.Background(), ClassLogin, "ip")
	if !errors.Is(err, ErrCounterUnavailable) {
		t.Fatalf("expected ErrCounterUnavailable, got %v", err)
	}
}

func TestMemoryCounterSweep(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := NewMemoryCounter(clock.Now)

	_, _, _ = m.Incr(context.Background(), "a", time.Minute)
	_, _, _ = m.Incr(context.Background(), "b", time.Hour)
	clock.Advance(2 * time.Minute)

	if n := m.Sweep(); n != 1 {
		t.Fatalf("expected 1 swept key, got %d", n)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 remaining key, got %d", m.Len())
	}
}

func TestMemoryCounterConcurrentIncrements(t *testing.T) {
	m := NewMemoryCounter(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = m.Incr(context.Background(), "k", time.Minute)
		}()
	}
	wg.Wait()

	count, _, _ := m.Incr(context.Background(), "k", time.Minute)
	if count != 51 {
		t.Fatalf("expected 51, got %d", count)
	}
}

func TestRedisCounterWindow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := New(NewRedisCounter(rdb, "mkt:"), DefaultConfig())

	for i := 1; i <= 5; i++ {
		d, err := l.Check(context.Background(), ClassLogin, "10.0.0.1")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: %+v err=%v", i, d, err)
		}
	}
	d, err := l.Check(context.Background(), ClassLogin, "10.0.0.1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected 6th login to be limited")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("expected positive retry after, got %v", d.RetryAfter)
	}

	if ttl := mr.TTL("mkt:rl:login:10.0.0.1"); ttl <= 0 {
		t.Fatalf("expected TTL on counter key, got %v", ttl)
	}

	mr.FastForward(15*time.Minute + time.Second)

	d, err = l.Check(context.Background(), ClassLogin, "10.0.0.1")
	if err != nil || !d.Allowed || d.Count != 1 {
		t.Fatalf("expected new window after fast-forward, got %+v err=%v", d, err)
	}
}

func TestRedisCounterUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	l := New(NewRedisCounter(rdb, ""), DefaultConfig())
	if _, err := l.Check(context.Background(), ClassLogin, "ip"); !errors.Is(err, ErrCounterUnavailable) {
		t.Fatalf("expected ErrCounterUnavailable, got %v", err)
	}
}
