package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// OpaqueTokenBytes is the raw size of session and reset tokens (256 bits).
	OpaqueTokenBytes = 32
	backupCodeBytes  = 5
)

// NewOpaqueToken returns a base64url (no padding) token carrying
// OpaqueTokenBytes of crypto/rand entropy.
func NewOpaqueToken() (string, error) {
	var raw [OpaqueTokenBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidOpaqueToken reports whether token has the shape produced by
// NewOpaqueToken. It is a cheap pre-filter before hitting the store.
func ValidOpaqueToken(token string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	return len(raw) == OpaqueTokenBytes
}

// HashToken returns the hex SHA-256 of a bearer token. Only hashes are
// persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashCode returns the SHA-256 of a normalized short code (backup codes).
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(NormalizeBackupCode(code)))
}

// NormalizeBackupCode upper-cases a code and strips separators users tend
// to type.
func NormalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

// NewBackupCode returns a random code formatted as XXXX-XXXX.
func NewBackupCode() (string, error) {
	var raw [backupCodeBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	enc := strings.ToUpper(hex.EncodeToString(raw[:]))[:8]
	return enc[:4] + "-" + enc[4:], nil
}

// NewOTP returns a numeric one-time code with the given number of digits.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}

// IsNumeric reports whether v consists only of ASCII digits.
func IsNumeric(v string) bool {
	if v == "" {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}
