package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrNoSecret is returned when neither a plain secret nor a hash is configured.
var ErrNoSecret = errors.New("security: relay secret not configured")

// SecretVerifier checks a presented shared secret in constant time.
// A bcrypt hash takes precedence over the plain secret.
type SecretVerifier struct {
	digest [sha256.Size]byte
	hash   []byte
	hasher *Hasher
}

// NewSecretVerifier returns a verifier for the plain secret or its bcrypt hash.
func NewSecretVerifier(secret, bcryptHash string) (*SecretVerifier, error) {
	bcryptHash = strings.TrimSpace(bcryptHash)
	if bcryptHash != "" {
		if _, err := bcrypt.Cost([]byte(bcryptHash)); err != nil {
			return nil, err
		}
		return &SecretVerifier{hash: []byte(bcryptHash), hasher: NewHasher(0)}, nil
	}
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &SecretVerifier{digest: sha256.Sum256([]byte(secret))}, nil
}

// Verify reports whether candidate equals the configured secret.
// Both sides are hashed to a fixed length so comparison time does not depend on the candidate.
func (v *SecretVerifier) Verify(candidate string) bool {
	if v == nil || candidate == "" {
		return false
	}
	if v.hash != nil {
		return v.hasher.Compare(string(v.hash), []byte(candidate)) == nil
	}
	got := sha256.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare(got[:], v.digest[:]) == 1
}
