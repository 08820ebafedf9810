package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/marketauth/session"
)

// Memory is an in-process store. All methods are safe for concurrent use and
// return copies, never pointers into internal state.
type Memory struct {
	mu sync.Mutex

	users       map[string]*User
	emailIndex  map[string]string
	backupCodes map[string]map[[32]byte]struct{}

	sessions    map[string]*session.Session
	sessionHash map[string]string

	resetTokens map[string]*ResetToken

	events []SecurityEvent
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		users:       make(map[string]*User),
		emailIndex:  make(map[string]string),
		backupCodes: make(map[string]map[[32]byte]struct{}),
		sessions:    make(map[string]*session.Session),
		sessionHash: make(map[string]string),
		resetTokens: make(map[string]*ResetToken),
	}
}

func (m *Memory) CreateUser(ctx context.Context, u *User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, ok := m.emailIndex[email]; ok {
		return ErrDuplicateEmail
	}

	cp := *u
	cp.Email = email
	m.users[cp.ID] = &cp
	m.emailIndex[email] = cp.ID
	return nil
}

func (m *Memory) UserByID(ctx context.Context, userID string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) UserByEmail(ctx context.Context, email string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.emailIndex[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *Memory) UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error {
	return m.mutateUser(ctx, userID, func(u *User) error {
		u.PasswordHash = hash
		u.UpdatedAt = at
		return nil
	})
}

func (m *Memory) SetEmailVerification(ctx context.Context, userID, codeHash string, expiresAt time.Time) error {
	return m.mutateUser(ctx, userID, func(u *User) error {
		u.VerificationCodeHash = codeHash
		u.VerificationExpiresAt = expiresAt
		return nil
	})
}

func (m *Memory) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	return m.mutateUser(ctx, userID, func(u *User) error {
		u.EmailVerified = true
		u.VerificationCodeHash = ""
		u.VerificationExpiresAt = time.Time{}
		u.UpdatedAt = at
		return nil
	})
}

func (m *Memory) SetTwoFactorEnrolling(ctx context.Context, userID, secret string, at time.Time) error {
	return m.mutateUser(ctx, userID, func(u *User) error {
		if u.TwoFactorStatus == TwoFactorEnabled {
			return ErrStateConflict
		}
		u.TwoFactorStatus = TwoFactorEnrolling
		u.TwoFactorSecret = secret
		u.TwoFactorLastCounter = 0
		u.UpdatedAt = at
		return nil
	})
}

func (m *Memory) EnableTwoFactor(ctx context.Context, userID string, counter int64, backupHashes [][32]byte, at time.Time) error {
	return m.mutateUser(ctx, userID, func(u *User) error {
		if u.TwoFactorStatus != TwoFactorEnrolling {
			return ErrStateConflict
		}
		u.TwoFactorStatus = TwoFactorEnabled
		u.TwoFactorLastCounter = counter
		u.UpdatedAt = at

		codes := make(map[[32]byte]struct{}, len(backupHashes))
		for _, h := range backupHashes {
			codes[h] = struct{}{}
		}
		m.backupCodes[userID] = codes
		return nil
	})
}

func (m *Memory) DisableTwoFactor(ctx context.Context, userID string, at time.Time) error {
	return m.mutateUser(ctx, userID, func(u *User) error {
		u.TwoFactorStatus = TwoFactorDisabled
		u.TwoFactorSecret = ""
		u.TwoFactorLastCounter = 0
		u.UpdatedAt = at
		delete(m.backupCodes, userID)
		return nil
	})
}

func (m *Memory) AdvanceTwoFactorCounter(ctx context.Context, userID string, counter int64) (bool, error) {
	advanced := false
	err := m.mutateUser(ctx, userID, func(u *User) error {
		if counter > u.TwoFactorLastCounter {
			u.TwoFactorLastCounter = counter
			advanced = true
		}
		return nil
	})
	return advanced, err
}

func (m *Memory) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	codes := m.backupCodes[userID]
	if _, ok := codes[hash]; !ok {
		return false, nil
	}
	delete(codes, hash)
	return true, nil
}

// BackupCodeCount returns how many unused backup codes userID has left.
func (m *Memory) BackupCodeCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.backupCodes[userID])
}

func (m *Memory) mutateUser(ctx context.Context, userID string, fn func(*User) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	return fn(u)
}

func (m *Memory) CreateSession(ctx context.Context, s *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	cp.Token = ""
	m.sessions[cp.ID] = &cp
	m.sessionHash[cp.TokenHash] = cp.ID
	return nil
}

func (m *Memory) SessionByTokenHash(ctx context.Context, tokenHash string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.sessionHash[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.sessions[id]
	return &cp, nil
}

func (m *Memory) SessionByID(ctx context.Context, sessionID string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) ListSessions(ctx context.Context, userID string, now time.Time) ([]session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	out := make([]session.Session, 0)
	for _, s := range m.sessions {
		if s.UserID == userID && s.ExpiresAt.After(now) {
			out = append(out, *s)
		}
	}
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})
	return out, nil
}

func (m *Memory) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionID]; ok {
		s.LastActiveAt = at
	}
	return nil
}

func (m *Memory) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteSessionLocked(sessionID)
	return nil
}

func (m *Memory) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.sessionHash[tokenHash]; ok {
		m.deleteSessionLocked(id)
	}
	return nil
}

func (m *Memory) DeleteUserSessions(ctx context.Context, userID, exceptSessionID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, s := range m.sessions {
		if s.UserID != userID || id == exceptSessionID {
			continue
		}
		m.deleteSessionLocked(id)
		n++
	}
	return n, nil
}

func (m *Memory) deleteSessionLocked(sessionID string) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	delete(m.sessionHash, s.TokenHash)
	delete(m.sessions, sessionID)
}

func (m *Memory) CreateResetToken(ctx context.Context, t *ResetToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.resetTokens {
		if existing.UserID == t.UserID && !existing.Used {
			existing.Used = true
		}
	}
	cp := *t
	m.resetTokens[cp.TokenHash] = &cp
	return nil
}

func (m *Memory) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, newPasswordHash string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.resetTokens[tokenHash]
	if !ok || t.Used || !now.Before(t.ExpiresAt) {
		return "", ErrNotFound
	}
	u, ok := m.users[t.UserID]
	if !ok {
		return "", ErrNotFound
	}

	t.Used = true
	u.PasswordHash = newPasswordHash
	u.UpdatedAt = now
	return t.UserID, nil
}

// ResetTokens returns copies of every reset token issued to userID.
func (m *Memory) ResetTokens(userID string) []ResetToken {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ResetToken, 0)
	for _, t := range m.resetTokens {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Memory) AppendSecurityEvent(ctx context.Context, ev SecurityEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Details != nil {
		details := make(map[string]string, len(ev.Details))
		for k, v := range ev.Details {
			details[k] = v
		}
		ev.Details = details
	}
	m.events = append(m.events, ev)
	return nil
}

// SecurityEvents returns a copy of the security log in append order.
func (m *Memory) SecurityEvents() []SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SecurityEvent, len(m.events))
	copy(out, m.events)
	return out
}
