// Package idgen centralizes id generation, hashing, and time so the rest of
// the control plane never reaches for crypto/rand or time.Now directly.
package idgen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// New returns a fresh UUIDv4 string.
func New() string {
	return uuid.New().String()
}

// NowUTC returns the current wall-clock time truncated to millisecond
// precision, always UTC.
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// SHA256Hex returns the lowercase hex-encoded SHA-256 digest of s.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// RandomHex returns n random bytes encoded as 2n lowercase hex characters.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// KeyPlaintext builds a new API key plaintext: <prefix><64 lowercase hex
// chars>, i.e. 32 random bytes hex-encoded.
func KeyPlaintext(prefix string) (string, error) {
	hex, err := RandomHex(32)
	if err != nil {
		return "", err
	}
	return prefix + hex, nil
}
