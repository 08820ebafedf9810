package marketauth

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/marketauth/internal"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const totpSecretBytes = 20

type totpManager struct {
	config    TwoFactorConfig
	digits    otp.Digits
	algorithm otp.Algorithm
}

func newTOTPManager(cfg TwoFactorConfig) *totpManager {
	m := &totpManager{
		config:    cfg,
		digits:    otp.Digits(cfg.Digits),
		algorithm: otp.AlgorithmSHA1,
	}
	switch strings.ToUpper(cfg.Algorithm) {
	case "SHA256":
		m.algorithm = otp.AlgorithmSHA256
	case "SHA512":
		m.algorithm = otp.AlgorithmSHA512
	}
	return m
}

// GenerateSecret returns a fresh base32 secret and its otpauth:// URI.
func (m *totpManager) GenerateSecret(account string) (string, string, error) {
	if m == nil {
		return "", "", ErrEngineNotReady
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: account,
		Period:      uint(m.config.Period),
		SecretSize:  totpSecretBytes,
		Digits:      m.digits,
		Algorithm:   m.algorithm,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// VerifyCode checks code against every step in the skew window around now.
// On a match it returns the matched time-step counter.
func (m *totpManager) VerifyCode(secret, code string, now time.Time) (bool, int64, error) {
	if m == nil {
		return false, 0, ErrEngineNotReady
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !internal.IsNumeric(trimmed) {
		return false, 0, nil
	}
	if secret == "" {
		return false, 0, errors.New("empty totp secret")
	}

	period := int64(m.config.Period)
	opts := totp.ValidateOpts{
		Period:    uint(m.config.Period),
		Digits:    m.digits,
		Algorithm: m.algorithm,
	}

	baseCounter := now.Unix() / period
	for step := -m.config.Skew; step <= m.config.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := totp.GenerateCodeCustom(secret, time.Unix(counter*period, 0), opts)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}

	return false, 0, nil
}
