package token

import (
	"encoding/base64"
	"testing"
)

func TestNewOpaque(t *testing.T) {
	t.Parallel()

	a, err := NewOpaque(32)
	if err != nil {
		t.Fatalf("NewOpaque: %v", err)
	}
	b, err := NewOpaque(32)
	if err != nil {
		t.Fatalf("NewOpaque: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct tokens")
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(raw) != 32 {
		t.Fatalf("expected 32 bytes of entropy, got %d", len(raw))
	}

	short, err := NewOpaque(4)
	if err != nil {
		t.Fatalf("NewOpaque(4): %v", err)
	}
	if raw, _ := base64.RawURLEncoding.DecodeString(short); len(raw) != DefaultBytes {
		t.Fatalf("expected short request to be raised to %d bytes, got %d", DefaultBytes, len(raw))
	}
}

func TestFingerprint(t *testing.T) {
	t.Setenv(HMACEnvKey, "")

	if got := Fingerprint(""); got != "" {
		t.Fatalf("Fingerprint(\"\")=%q want empty", got)
	}

	plain := Fingerprint("tok-123")
	if len(plain) != fingerprintHexChars {
		t.Fatalf("unexpected fingerprint length: %d", len(plain))
	}
	if plain != HashSHA256Hex("tok-123")[:fingerprintHexChars] {
		t.Fatalf("expected sha256 prefix without HMAC key")
	}

	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")
	keyed := Fingerprint("tok-123")
	if keyed == plain {
		t.Fatalf("expected HMAC fingerprint to differ from plain sha256")
	}
	if keyed != Fingerprint("tok-123") {
		t.Fatalf("fingerprint must be stable")
	}
}

func TestHMACKeyFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HMACKeyFromEnv(32); err != ErrHMACKeyMissing {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}

	t.Setenv(HMACEnvKey, "short")
	if _, err := HMACKeyFromEnv(32); err != ErrHMACKeyTooShort {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}

	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")
	if _, err := HMACKeyFromEnv(32); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
