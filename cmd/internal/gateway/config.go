package gateway

import (
	"strings"
	"time"
)

const (
	defaultCookieName   = "gridlink_session"
	defaultProbeTimeout = 10 * time.Second
	defaultMaxBodyBytes = 1 << 20 // 1 MiB
)

// Config controls gateway behavior.
type Config struct {
	// CookieName is the session cookie. The realtime channel reads the same name.
	CookieName string

	// Production marks the session cookie Secure.
	Production bool

	// RequireHTTPS rejects connects that would talk to the upstream in plaintext.
	RequireHTTPS bool

	// ProbeTimeout bounds the upstream probe done by connect and test-connection.
	ProbeTimeout time.Duration

	// TrustProxy makes audit records use X-Forwarded-For / X-Real-IP.
	TrustProxy bool

	MaxBodyBytes int64
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	return Config{
		CookieName:   defaultCookieName,
		ProbeTimeout: defaultProbeTimeout,
		MaxBodyBytes: defaultMaxBodyBytes,
	}
}

func (c Config) withDefaults() Config {
	c.CookieName = strings.TrimSpace(c.CookieName)
	if c.CookieName == "" {
		c.CookieName = defaultCookieName
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	return c
}
