package simulated

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

const codeDigits = 5

// generateCode returns a numeric login code of codeDigits digits.
func generateCode() (string, error) {
	b := make([]byte, codeDigits)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := make([]byte, codeDigits)
	for i := range b {
		s[i] = '0' + (b[i] % 10)
	}
	return string(s), nil
}

// hashSecret returns the hex SHA-256 of a code or password; only hashes are kept server-side.
func hashSecret(v string) string {
	h := sha256.Sum256([]byte(v))
	return hex.EncodeToString(h[:])
}

// secretMatches compares provided against a stored hash in constant time.
func secretMatches(provided, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(hashSecret(provided)), []byte(storedHash)) == 1
}
