package session

import (
	"time"

	"github.com/MrEthical07/marketauth/internal"
	"github.com/google/uuid"
)

// Session is one authenticated device or browser.
//
// Token is only populated on the value returned from issuance; records read
// back from a store carry TokenHash alone.
type Session struct {
	ID        string
	UserID    string
	Token     string
	TokenHash string

	UserAgent string
	IP        string

	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
}

// ActiveAt reports whether the session is still inside its lifetime at now.
func (s *Session) ActiveAt(now time.Time) bool {
	return s != nil && now.Before(s.ExpiresAt)
}

// Summary is the "your devices" view of a session. It never carries the token.
type Summary struct {
	ID           string    `json:"id"`
	UserAgent    string    `json:"userAgent"`
	IP           string    `json:"ip"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Current      bool      `json:"current"`
}

// Summarize converts s into a Summary, flagging it when its hash matches
// currentHash.
func (s *Session) Summarize(currentHash string) Summary {
	return Summary{
		ID:           s.ID,
		UserAgent:    s.UserAgent,
		IP:           s.IP,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
		ExpiresAt:    s.ExpiresAt,
		Current:      currentHash != "" && s.TokenHash == currentHash,
	}
}

// New builds a fresh session for userID with a newly generated token.
// ExpiresAt is exactly now+ttl.
func New(userID, userAgent, ip string, now time.Time, ttl time.Duration) (*Session, error) {
	token, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, err
	}

	return &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Token:        token,
		TokenHash:    internal.HashToken(token),
		UserAgent:    userAgent,
		IP:           ip,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(ttl),
	}, nil
}

// HashToken returns the lookup key for a raw session token.
func HashToken(token string) string {
	return internal.HashToken(token)
}

// WellFormed reports whether token could have been produced by New.
func WellFormed(token string) bool {
	return internal.ValidOpaqueToken(token)
}
