package password

import "errors"

const (
	// DefaultMinPasswordBytes is the shortest password accepted when Config leaves it unset.
	DefaultMinPasswordBytes = 8
	// DefaultMaxPasswordBytes caps hashing work per request when Config leaves it unset.
	DefaultMaxPasswordBytes = 1024
)

var (
	// ErrPasswordTooShort is returned for passwords under the configured minimum.
	ErrPasswordTooShort = errors.New("password too short")
	// ErrPasswordTooLong is returned for passwords over the configured maximum.
	ErrPasswordTooLong = errors.New("password too long")
)

// CheckPolicy reports whether password satisfies the configured length
// bounds. Lengths are measured in bytes.
func (a *Argon2) CheckPolicy(password string) error {
	switch {
	case len(password) < a.config.MinPasswordBytes:
		return ErrPasswordTooShort
	case len(password) > a.config.MaxPasswordBytes:
		return ErrPasswordTooLong
	}
	return nil
}
