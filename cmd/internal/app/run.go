package app

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

// Run is the CLI entrypoint used by cmd/gridlink.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run(args []string) error {
	cfg := LoadConfig()

	fs := pflag.NewFlagSet("gridlink", pflag.ContinueOnError)
	cfg.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)
	for _, key := range cfg.InvalidEnv() {
		log.Warn("config.env.invalid", "key", key)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
