package app

import (
	"errors"
	"strings"

	"gridlink/cmd/security/token"
)

// ValidateSecurityConfig enforces gridlink's security policy at startup.
//
// Fail-fast: a production deployment with a weaker policy than configured must not start.
func ValidateSecurityConfig(cfg Config) error {
	switch cfg.Env {
	case envDevelopment, envProduction:
	default:
		return errors.New("security policy: GRIDLINK_ENV must be development or production")
	}

	if cfg.Production() {
		for _, o := range cfg.WSAllowedOrigins {
			if strings.TrimSpace(o) == "*" {
				return errors.New("security policy: wildcard WebSocket origin is not allowed in production")
			}
		}
		if cfg.WSInsecureSkipVerify {
			return errors.New("security policy: GRIDLINK_WS_INSECURE_SKIP_VERIFY is not allowed in production")
		}
	}

	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Minimum 32 bytes for an HMAC-SHA256 secret, measured in bytes (the key is used raw).
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: GRIDLINK_REQUIRE_TOKEN_HMAC=true but GRIDLINK_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: GRIDLINK_REQUIRE_TOKEN_HMAC=true but GRIDLINK_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: GRIDLINK_REQUIRE_TOKEN_HMAC=true but token fingerprints are not keyed")
	}
	return nil
}
