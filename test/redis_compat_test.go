//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/marketauth"
	"github.com/MrEthical07/marketauth/store"
)

// Two engines sharing a Redis must draw from one rate-limit budget.
func TestRedisSharedLoginBudget(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()

			st := store.NewMemory()
			a, _ := buildEngine(t, st, rdb)
			b, _ := buildEngine(t, st, rdb)

			ctx := context.Background()
			const ip = "203.0.113.77"
			for i := 0; i < 5; i++ {
				engine := a
				if i%2 == 1 {
					engine = b
				}
				if _, err := engine.Login(ctx, "nobody@example.com", "wrong-password-123", "ua", ip); !errors.Is(err, marketauth.ErrUnauthorized) {
					t.Fatalf("attempt %d: expected ErrUnauthorized, got %v", i+1, err)
				}
			}

			_, err := b.Login(ctx, "nobody@example.com", "wrong-password-123", "ua", ip)
			var rl *marketauth.RateLimitError
			if !errors.As(err, &rl) {
				t.Fatalf("expected *RateLimitError from the second engine, got %v", err)
			}
			if rl.RetryAfter <= 0 || rl.RetryAfter > 15*time.Minute {
				t.Fatalf("RetryAfter out of range: %s", rl.RetryAfter)
			}

			ttl, err := rdb.PTTL(ctx, "mkt:rl:login:"+ip).Result()
			if err != nil {
				t.Fatalf("PTTL failed: %v", err)
			}
			if ttl <= 0 || ttl > 15*time.Minute {
				t.Fatalf("counter key must carry the window TTL, got %s", ttl)
			}
		})
	}
}

func TestRedisClassesAreIndependent(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()

			engine, _ := buildEngine(t, store.NewMemory(), rdb)
			ctx := marketauth.WithClientIP(context.Background(), "203.0.113.78")

			for i := 0; i < 3; i++ {
				if err := engine.CheckRateLimit(ctx, marketauth.RateLimitRegister); err != nil {
					t.Fatalf("register %d: %v", i+1, err)
				}
			}
			if err := engine.CheckRateLimit(ctx, marketauth.RateLimitRegister); !errors.Is(err, marketauth.ErrRateLimited) {
				t.Fatalf("expected register class exhausted, got %v", err)
			}
			if err := engine.CheckRateLimit(ctx, marketauth.RateLimitDefault); err != nil {
				t.Fatalf("default class must be unaffected: %v", err)
			}
		})
	}
}
