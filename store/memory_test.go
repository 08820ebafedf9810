package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/marketauth/session"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, m *Memory, id, email string) {
	t.Helper()
	require.NoError(t, m.CreateUser(context.Background(), &User{ID: id, Email: email, PasswordHash: "old"}))
}

func TestMemoryEmailIsCaseInsensitive(t *testing.T) {
	m := NewMemory()
	seedUser(t, m, "u-1", "Alice@Example.com")

	u, err := m.UserByEmail(context.Background(), "ALICE@example.COM")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", u.Email)

	err = m.CreateUser(context.Background(), &User{ID: "u-2", Email: "alice@EXAMPLE.com"})
	require.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	seedUser(t, m, "u-1", "a@b.c")

	u, err := m.UserByID(context.Background(), "u-1")
	require.NoError(t, err)
	u.PasswordHash = "mutated"

	again, err := m.UserByID(context.Background(), "u-1")
	require.NoError(t, err)
	require.Equal(t, "old", again.PasswordHash)
}

func TestMemoryConcurrentResetConsumeHasOneWinner(t *testing.T) {
	m := NewMemory()
	seedUser(t, m, "u-1", "a@b.c")
	now := time.Now()

	require.NoError(t, m.CreateResetToken(context.Background(), &ResetToken{
		ID: "t-1", UserID: "u-1", TokenHash: "h", ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}))

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.ConsumeResetToken(context.Background(), "h", now, "new"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	u, _ := m.UserByID(context.Background(), "u-1")
	require.Equal(t, "new", u.PasswordHash)
}

func TestMemoryResetTokenExpiryBoundary(t *testing.T) {
	m := NewMemory()
	seedUser(t, m, "u-1", "a@b.c")
	now := time.Now()
	exp := now.Add(time.Hour)

	require.NoError(t, m.CreateResetToken(context.Background(), &ResetToken{ID: "t", UserID: "u-1", TokenHash: "h", ExpiresAt: exp}))

	_, err := m.ConsumeResetToken(context.Background(), "h", exp, "new")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = m.ConsumeResetToken(context.Background(), "h", exp.Add(-time.Nanosecond), "new")
	require.NoError(t, err)
}

func TestMemoryNewResetTokenInvalidatesOlder(t *testing.T) {
	m := NewMemory()
	seedUser(t, m, "u-1", "a@b.c")
	now := time.Now()

	require.NoError(t, m.CreateResetToken(context.Background(), &ResetToken{ID: "t1", UserID: "u-1", TokenHash: "h1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}))
	require.NoError(t, m.CreateResetToken(context.Background(), &ResetToken{ID: "t2", UserID: "u-1", TokenHash: "h2", ExpiresAt: now.Add(time.Hour), CreatedAt: now.Add(time.Second)}))

	_, err := m.ConsumeResetToken(context.Background(), "h1", now, "x")
	require.ErrorIs(t, err, ErrNotFound)

	tokens := m.ResetTokens("u-1")
	require.Len(t, tokens, 2)
	require.True(t, tokens[0].Used)
	require.False(t, tokens[1].Used)
}

func TestMemorySessionsListOrderAndRevocation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	mk := func(id string, lastActive time.Time, expires time.Time) {
		require.NoError(t, m.CreateSession(ctx, &session.Session{
			ID: id, UserID: "u-1", TokenHash: "hash-" + id, Token: "raw",
			LastActiveAt: lastActive, ExpiresAt: expires,
		}))
	}
	mk("old", now.Add(-2*time.Hour), now.Add(time.Hour))
	mk("new", now.Add(-time.Minute), now.Add(time.Hour))
	mk("expired", now, now.Add(-time.Second))

	list, err := m.ListSessions(ctx, "u-1", now)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "new", list[0].ID)
	require.Equal(t, "old", list[1].ID)
	require.Empty(t, list[0].Token)

	n, err := m.DeleteUserSessions(ctx, "u-1", "new")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = m.SessionByTokenHash(ctx, "hash-old")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = m.SessionByID(ctx, "new")
	require.NoError(t, err)

	require.NoError(t, m.DeleteSessionByTokenHash(ctx, "hash-new"))
	require.NoError(t, m.DeleteSessionByTokenHash(ctx, "hash-new"))
}

func TestMemoryTwoFactorTransitions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedUser(t, m, "u-1", "a@b.c")
	now := time.Now()

	require.ErrorIs(t, m.EnableTwoFactor(ctx, "u-1", 1, nil, now), ErrStateConflict)

	require.NoError(t, m.SetTwoFactorEnrolling(ctx, "u-1", "SECRET", now))
	codes := [][32]byte{{1}, {2}}
	require.NoError(t, m.EnableTwoFactor(ctx, "u-1", 5, codes, now))
	require.Equal(t, 2, m.BackupCodeCount("u-1"))

	require.ErrorIs(t, m.SetTwoFactorEnrolling(ctx, "u-1", "OTHER", now), ErrStateConflict)

	ok, err := m.AdvanceTwoFactorCounter(ctx, "u-1", 5)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = m.AdvanceTwoFactorCounter(ctx, "u-1", 6)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.ConsumeBackupCode(ctx, "u-1", [32]byte{1})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = m.ConsumeBackupCode(ctx, "u-1", [32]byte{1})
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.DisableTwoFactor(ctx, "u-1", now))
	u, err := m.UserByID(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, TwoFactorDisabled, u.TwoFactorStatus)
	require.Empty(t, u.TwoFactorSecret)
	require.Zero(t, m.BackupCodeCount("u-1"))
}

func TestMemorySecurityEventsAreCopied(t *testing.T) {
	m := NewMemory()
	details := map[string]string{"k": "v"}
	require.NoError(t, m.AppendSecurityEvent(context.Background(), SecurityEvent{Type: "x", Details: details}))
	details["k"] = "changed"

	events := m.SecurityEvents()
	require.Len(t, events, 1)
	require.Equal(t, "v", events[0].Details["k"])
}
