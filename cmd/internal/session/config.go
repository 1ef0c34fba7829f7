package session

import (
	"errors"
	"time"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("invalid session config")

// Config controls session lifetime and sweep cadence.
type Config struct {
	// Timeout is the idle window. A session whose last activity is at least
	// Timeout in the past is expired.
	Timeout time.Duration

	// SweepInterval is the period of the background expiry sweep.
	SweepInterval time.Duration

	// TokenBytes is the entropy of generated tokens.
	TokenBytes int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Minute,
		SweepInterval: time.Minute,
		TokenBytes:    32,
	}
}

// Validate checks invariants.
func (c Config) Validate() error {
	if c.Timeout <= 0 || c.SweepInterval <= 0 {
		return ErrConfig
	}
	if c.TokenBytes < 16 || c.TokenBytes > 64 {
		return ErrConfig
	}
	return nil
}
