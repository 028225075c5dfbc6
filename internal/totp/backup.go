package totp

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
)

// backupCodeAlphabet excludes visually ambiguous characters (0/O, 1/I)
// so codes read back from paper unambiguously.
const backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	BackupCodeLength   = 8
	DefaultBackupCodes = 10
)

// GenerateBackupCodes returns n single-use recovery codes, formatted
// with a middle dash for readability (XXXX-XXXX). Store only their
// hashes; the plaintext is shown to the user exactly once.
func GenerateBackupCodes(n int) ([]string, error) {
	if n <= 0 {
		n = DefaultBackupCodes
	}
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		var b strings.Builder
		b.Grow(BackupCodeLength)
		for j := 0; j < BackupCodeLength; j++ {
			idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(backupCodeAlphabet))))
			if err != nil {
				return nil, err
			}
			b.WriteByte(backupCodeAlphabet[idx.Int64()])
		}
		codes = append(codes, formatBackupCode(b.String()))
	}
	return codes, nil
}

// Canonicalize normalizes user input: trimmed, dashes and spaces
// stripped, uppercased.
func Canonicalize(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// HashCode returns the hex SHA-256 of the canonicalized code, the form
// backup codes are stored in.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(Canonicalize(code)))
	return hex.EncodeToString(sum[:])
}

// ConsumeCode removes the submitted code from the stored hash set.
// It reports whether the code matched and returns the remaining set.
// Durable stores must apply the removal as an atomic conditional
// update; this helper implements the matching rule itself.
func ConsumeCode(storedHashes []string, submitted string) (bool, []string) {
	target := HashCode(submitted)
	for i, h := range storedHashes {
		if h == target {
			remaining := make([]string, 0, len(storedHashes)-1)
			remaining = append(remaining, storedHashes[:i]...)
			remaining = append(remaining, storedHashes[i+1:]...)
			return true, remaining
		}
	}
	return false, storedHashes
}

func formatBackupCode(code string) string {
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}
