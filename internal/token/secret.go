package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// RefreshSecretBytes is the entropy of a refresh secret.
const RefreshSecretBytes = 64

// ConfirmationCodeBytes is the entropy of an email-confirmation code.
const ConfirmationCodeBytes = 32

// MintRefreshSecret returns a URL-safe opaque refresh secret. Uniqueness is
// still enforced by the ledger's unique index.
func MintRefreshSecret() (string, error) {
	return randomString(RefreshSecretBytes)
}

// MintConfirmationCode returns a URL-safe email-confirmation code.
func MintConfirmationCode() (string, error) {
	return randomString(ConfirmationCodeBytes)
}

// HashSecret returns the storage form of a secret. Only hashes are
// persisted so a leaked table cannot be replayed.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// MatchSecret compares a presented secret with a stored hash in constant time.
func MatchSecret(secret, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashSecret(secret)), []byte(hash)) == 1
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
