package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the fingerprint HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "GRIDLINK_TOKEN_HMAC_KEY"

	// DefaultBytes is the entropy of a session token.
	DefaultBytes = 32

	fingerprintHexChars = 16
)

// NewOpaque returns a URL-safe random token carrying nBytes of entropy.
// nBytes below 16 is raised to DefaultBytes.
func NewOpaque(nBytes int) (string, error) {
	if nBytes < 16 {
		nBytes = DefaultBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrHMACKeyMissing.
// If too short -> ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// HMACEnabled reports whether the env key is present (non-empty after trim).
// Note: This does not enforce minimum length. Use HMACKeyFromEnv for policy checks.
func HMACEnabled() bool {
	return strings.TrimSpace(os.Getenv(HMACEnvKey)) != ""
}

// Fingerprint returns a short, stable, non-reversible identifier for a token,
// suitable for logs and audit rows. Empty input yields "".
func Fingerprint(tok string) string {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return ""
	}
	var full string
	if key := strings.TrimSpace(os.Getenv(HMACEnvKey)); key != "" {
		full = HashHMACSHA256Hex(tok, []byte(key))
	} else {
		full = HashSHA256Hex(tok)
	}
	return full[:fingerprintHexChars]
}
