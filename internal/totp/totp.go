package totp

import (
	"crypto/rand"
	"encoding/base32"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// 160-bit secrets per RFC 4226's recommendation. 20 bytes encode to 32
// base32 characters, so no padding is involved.
const secretBytes = 20

const (
	Digits = 6
	Period = 30
	// Skew is the number of 30s steps accepted on either side of the
	// current one, absorbing client clock drift.
	Skew = 2
)

// Engine produces and verifies TOTP codes for authenticator-app
// enrollment. The parameters are fixed to what common authenticator
// apps implement: 6 digits, 30s period, SHA-1.
type Engine struct {
	Issuer string
}

func NewEngine(issuer string) *Engine {
	return &Engine{Issuer: issuer}
}

// GenerateSecret returns a fresh random base32 secret.
func (e *Engine) GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// ProvisioningURI builds the otpauth:// URI that authenticator apps
// consume, usually rendered as a QR code.
func (e *Engine) ProvisioningURI(secret, account string) string {
	label := url.PathEscape(e.Issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", e.Issuer)
	v.Set("algorithm", "SHA1")
	v.Set("digits", strconv.Itoa(Digits))
	v.Set("period", strconv.Itoa(Period))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// VerifyCode checks a submitted code against the secret at the given
// time. Input that is not exactly six digits is rejected before any
// cryptographic work.
func (e *Engine) VerifyCode(secret, code string, at time.Time) bool {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != Digits || !isNumeric(trimmed) {
		return false
	}

	ok, err := totp.ValidateCustom(trimmed, secret, at, totp.ValidateOpts{
		Period:    Period,
		Skew:      Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return ok
}

// CodeAt computes the code for a secret at a point in time. Used by
// enrollment confirmation flows and tests; never expose it on a wire.
func (e *Engine) CodeAt(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    Period,
		Skew:      Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
