package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

func isBcrypt(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, "$2a$") ||
		strings.HasPrefix(encodedHash, "$2b$") ||
		strings.HasPrefix(encodedHash, "$2y$")
}

// verifyBcrypt checks hashes imported from the previous bcrypt-based
// account table. They are never produced, only accepted until rehashed.
func verifyBcrypt(password, encodedHash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	case errors.Is(err, bcrypt.ErrPasswordTooLong):
		return false, ErrPasswordTooLong
	default:
		return false, err
	}
}
