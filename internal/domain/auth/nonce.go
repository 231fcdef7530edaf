package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// nonceBytes is the amount of entropy in a raw nonce (256 bits).
const nonceBytes = 32

// NewNonce returns a cryptographically random, URL-safe raw nonce.
// The raw value stays on this device; only HashNonce(raw) is sent to the broker.
func NewNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashNonce returns the lowercase hex SHA-256 digest of a raw nonce.
func HashNonce(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NonceMatches reports whether hashed is the digest of raw, in constant time.
func NonceMatches(raw, hashed string) bool {
	if raw == "" || hashed == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashNonce(raw)), []byte(hashed)) == 1
}
