//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MrEthical07/marketauth"
	"github.com/MrEthical07/marketauth/store"
)

type storeMode struct {
	name  string
	setup func(t *testing.T) marketauth.Store
}

// storeModes always covers the in-memory store and adds Postgres when
// MARKETAUTH_TEST_DSN points at a disposable database.
func storeModes(t *testing.T) []storeMode {
	t.Helper()
	modes := []storeMode{
		{name: "memory", setup: func(*testing.T) marketauth.Store { return store.NewMemory() }},
	}

	if dsn := os.Getenv("MARKETAUTH_TEST_DSN"); dsn != "" {
		modes = append(modes, storeMode{
			name: "postgres",
			setup: func(t *testing.T) marketauth.Store {
				t.Helper()
				ctx := context.Background()
				db, err := store.OpenPostgres(ctx, dsn)
				if err != nil {
					t.Skipf("cannot connect to Postgres: %v", err)
				}
				t.Cleanup(func() { _ = db.Close() })
				if err := store.Migrate(ctx, db); err != nil {
					t.Fatalf("Migrate failed: %v", err)
				}
				if _, err := db.ExecContext(ctx, `TRUNCATE users, two_factor_backup_codes, sessions, password_reset_tokens, security_logs`); err != nil {
					t.Fatalf("truncate failed: %v", err)
				}
				return store.NewPostgres(db)
			},
		})
	}
	return modes
}

func TestStoreConsistencyLogoutIsIdempotent(t *testing.T) {
	for _, mode := range storeModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			engine, _ := buildEngine(t, mode.setup(t), nil)
			ctx := context.Background()

			res, err := engine.Register(ctx, marketauth.RegisterRequest{
				Email:     "idem@example.com",
				Password:  "correct-password-123",
				FirstName: "Ida",
				LastName:  "Empotent",
			}, "ua", "203.0.113.1")
			if err != nil {
				t.Fatalf("Register failed: %v", err)
			}

			for i := 0; i < 2; i++ {
				if err := engine.Logout(ctx, res.Session.Token); err != nil {
					t.Fatalf("Logout %d failed: %v", i+1, err)
				}
			}
			if _, err := engine.ValidateSession(ctx, res.Session.Token); !errors.Is(err, marketauth.ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestStoreConsistencyResetTokenSingleWinner(t *testing.T) {
	for _, mode := range storeModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			engine, mail := buildEngine(t, mode.setup(t), nil)
			ctx := marketauth.WithClientIP(context.Background(), "203.0.113.2")

			if _, err := engine.Register(ctx, marketauth.RegisterRequest{
				Email:     "race@example.com",
				Password:  "correct-password-123",
				FirstName: "Rae",
				LastName:  "Sing",
			}, "ua", ""); err != nil {
				t.Fatalf("Register failed: %v", err)
			}
			if err := engine.RequestPasswordReset(ctx, "race@example.com"); err != nil {
				t.Fatalf("RequestPasswordReset failed: %v", err)
			}
			msg, ok := mail.Last("race@example.com")
			if !ok || msg.Template != "password_reset" {
				t.Fatalf("expected reset mail, got %+v", msg)
			}

			const workers = 8
			var wg sync.WaitGroup
			var wins int32
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if engine.ConsumePasswordReset(ctx, msg.Params["token"], "new-password-456") == nil {
						atomic.AddInt32(&wins, 1)
					}
				}()
			}
			wg.Wait()

			if wins != 1 {
				t.Fatalf("expected exactly one winner, got %d", wins)
			}
		})
	}
}

func TestStoreConsistencyRevokeUnknownSessionIsNotFound(t *testing.T) {
	for _, mode := range storeModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			engine, _ := buildEngine(t, mode.setup(t), nil)
			ctx := context.Background()

			res, err := engine.Register(ctx, marketauth.RegisterRequest{
				Email:     "revoke@example.com",
				Password:  "correct-password-123",
				FirstName: "Rhea",
				LastName:  "Voke",
			}, "ua", "203.0.113.3")
			if err != nil {
				t.Fatalf("Register failed: %v", err)
			}

			for _, id := range []string{"does-not-exist", "0d4f6a52-8c37-4b1e-a2f9-5e6d7c8b9a01"} {
				err := engine.RevokeSession(ctx, res.User.ID, id, res.Session.Token)
				if !errors.Is(err, marketauth.ErrNotFound) {
					t.Fatalf("RevokeSession(%q): expected ErrNotFound, got %v", id, err)
				}
			}
		})
	}
}
