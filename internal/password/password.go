package password

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// denylist holds substrings that disqualify a password outright,
// compared case-insensitively.
var denylist = []string{
	"password",
	"letmein",
	"qwerty",
	"12345",
	"admin",
	"welcome",
	"lodge",
}

const hashCost = 10

// maxPasswordBytes is bcrypt's input limit. Longer passwords would
// pass the strength rules and then fail at hash time, so the policy
// rejects them up front with a usable message.
const maxPasswordBytes = 72

// Policy describes the strength requirements applied on password
// creation and change. Verification of existing hashes is not affected
// by the policy.
type Policy struct {
	MinLength  int
	MinClasses int
}

func DefaultPolicy() Policy {
	return Policy{MinLength: 14, MinClasses: 3}
}

// Validate checks the password against the policy and returns a
// descriptive error naming the violated rule. This feedback is
// pre-authentication self-service, so being specific is fine.
func (p Policy) Validate(pw string) error {
	if len(pw) < p.MinLength {
		return fmt.Errorf("password must be at least %d characters", p.MinLength)
	}
	if len(pw) > maxPasswordBytes {
		return fmt.Errorf("password must be at most %d bytes", maxPasswordBytes)
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, char := range pw {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasDigit = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSymbol = true
		}
	}
	classes := 0
	for _, present := range []bool{hasUpper, hasLower, hasDigit, hasSymbol} {
		if present {
			classes++
		}
	}
	if classes < p.MinClasses {
		return fmt.Errorf("password must contain at least %d of: uppercase, lowercase, digits, symbols", p.MinClasses)
	}

	lowered := strings.ToLower(pw)
	for _, banned := range denylist {
		if strings.Contains(lowered, banned) {
			return fmt.Errorf("password must not contain %q", banned)
		}
	}
	return nil
}

// Hash produces a salted bcrypt hash of the password.
func Hash(pw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), hashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether the password matches the stored hash. A
// malformed hash verifies as false rather than erroring: callers treat
// both cases as invalid credentials.
func Verify(pw, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}
