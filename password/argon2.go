package password

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
)

// Lower bounds enforced on both configured and stored parameters.
const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
)

// Config holds the Argon2id cost parameters and the accepted password
// length range in bytes.
//
// Zero MinPasswordBytes and MaxPasswordBytes select DefaultMinPasswordBytes
// and DefaultMaxPasswordBytes.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MinPasswordBytes int
	MaxPasswordBytes int
}

// DefaultConfig is 64 MiB, 3 passes, 2 lanes, a 16 byte salt and a 32 byte key.
func DefaultConfig() Config {
	return Config{
		Memory:           64 * 1024,
		Time:             3,
		Parallelism:      2,
		SaltLength:       16,
		KeyLength:        32,
		MinPasswordBytes: DefaultMinPasswordBytes,
		MaxPasswordBytes: DefaultMaxPasswordBytes,
	}
}

func (c Config) validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("password: Memory %d KiB is under the %d KiB floor", c.Memory, minMemoryKB)
	case c.Time < minTimeCost:
		return fmt.Errorf("password: Time must be at least %d", minTimeCost)
	case c.Parallelism < minParallelism:
		return fmt.Errorf("password: Parallelism must be at least %d", minParallelism)
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("password: SaltLength must be at least %d bytes", minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("password: KeyLength must be at least %d bytes", minKeyLength)
	case c.MinPasswordBytes > c.MaxPasswordBytes:
		return fmt.Errorf("password: MinPasswordBytes %d exceeds MaxPasswordBytes %d", c.MinPasswordBytes, c.MaxPasswordBytes)
	}
	return nil
}

// Argon2 hashes with argon2id and verifies argon2id or legacy bcrypt
// hashes. It is safe for concurrent use.
type Argon2 struct {
	config Config
}

// NewArgon2 fills in default length bounds and rejects parameters below the
// package floors.
func NewArgon2(cfg Config) (*Argon2, error) {
	if cfg.MinPasswordBytes <= 0 {
		cfg.MinPasswordBytes = DefaultMinPasswordBytes
	}
	if cfg.MaxPasswordBytes <= 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

// Hash returns a PHC encoded argon2id hash of password. The password bytes
// are used as given, without Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	if err := a.CheckPolicy(password); err != nil {
		return "", err
	}

	h := phcHash{
		memory:  a.config.Memory,
		passes:  a.config.Time,
		lanes:   a.config.Parallelism,
		salt:    make([]byte, a.config.SaltLength),
		derived: make([]byte, a.config.KeyLength),
	}
	if _, err := io.ReadFull(rand.Reader, h.salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}
	h.derived = h.derive(password)
	return h.String(), nil
}

// Verify compares password against a stored argon2id or bcrypt hash in
// constant time. A mismatch is (false, nil); an unreadable hash is an error
// wrapping ErrMalformedHash.
func (a *Argon2) Verify(password, encoded string) (bool, error) {
	if len(password) > a.config.MaxPasswordBytes {
		return false, ErrPasswordTooLong
	}
	if isBcrypt(encoded) {
		return verifyBcrypt(password, encoded)
	}

	stored, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(stored.derive(password), stored.derived) == 1, nil
}

// NeedsUpgrade reports whether encoded should be re-hashed with the current
// Config: bcrypt hashes always, argon2id hashes when any cost is lower or the
// key length differs.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	if isBcrypt(encoded) {
		return true, nil
	}
	stored, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	weaker := stored.memory < a.config.Memory ||
		stored.passes < a.config.Time ||
		stored.lanes < a.config.Parallelism
	return weaker || uint32(len(stored.derived)) != a.config.KeyLength, nil
}
