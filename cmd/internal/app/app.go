// Package app wires the gridlink server runtime: config, logging, HTTP routes,
// the realtime channel and the background workers.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"gridlink/cmd/internal/audit"
	"gridlink/cmd/internal/backend"
	"gridlink/cmd/internal/gateway"
	"gridlink/cmd/internal/metrics"
	"gridlink/cmd/internal/realtime"
	"gridlink/cmd/internal/router"
	"gridlink/cmd/internal/session"
	"gridlink/cmd/internal/upstream"
)

const shutdownTimeout = 10 * time.Second

// App is the gridlink server runtime. It owns the session store and every
// component that reads it.
type App struct {
	cfg Config
	log Logger

	store   *session.Store
	metrics *metrics.Metrics
	audit   *audit.Sink
	auditDB *audit.PostgresWriter

	channel *realtime.Channel
	gateway *gateway.Handler

	unsubscribe []func()
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	store, err := session.New(cfg.sessionConfig(), session.WithLogger(log))
	if err != nil {
		return nil, err
	}
	m := metrics.New(store.Count)

	sink, auditDB, err := newAuditSink(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	up := upstream.NewClient(nil, log)
	svc := backend.NewService(up, nil, cfg.backendConfig(), log)
	ch := realtime.NewChannel(log, store, router.New(svc, log), m, cfg.channelConfig())

	gw, err := gateway.NewHandler(log, cfg.gatewayConfig(), store, up, svc,
		gateway.WithAuditSink(sink),
		gateway.WithMetrics(m),
	)
	if err != nil {
		ch.Close()
		if auditDB != nil {
			auditDB.Close()
		}
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		store:   store,
		metrics: m,
		audit:   sink,
		auditDB: auditDB,
		channel: ch,
		gateway: gw,
	}
	a.unsubscribe = append(a.unsubscribe,
		store.Subscribe(sink.SessionRemoved),
		store.Subscribe(func(ev session.Event) { m.SessionRemoved(string(ev.Reason)) }),
	)
	return a, nil
}

// newAuditSink returns a log-only sink unless an audit database is configured.
func newAuditSink(ctx context.Context, cfg Config, log Logger) (*audit.Sink, *audit.PostgresWriter, error) {
	if cfg.AuditDatabaseURL == "" {
		log.Info("audit.db.disabled")
		return audit.NewSink(log, nil, 0), nil, nil
	}

	w, err := audit.OpenPostgres(ctx, audit.PostgresConfig{
		URL:      cfg.AuditDatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, nil, err
	}

	log.Info("audit.db.enabled")
	return audit.NewSink(log, w, 0), w, nil
}

// Run listens on cfg.HTTPAddr and blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln together with the session sweeper and the
// audit writer. All three stop when ctx is done or any of them fails.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 60*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(ln.Addr().String())
	a.log.Info("server.start",
		"addr", ln.Addr().String(),
		"url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"env", a.cfg.Env,
		"audit_db", a.auditDB != nil,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Shutdown does not track hijacked sockets; the channel closes those.
		err := srv.Shutdown(shutdownCtx)
		a.channel.Close()
		if err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
		}
		return err
	})

	g.Go(func() error {
		a.store.StartSweeper()
		<-gctx.Done()
		a.store.Close()
		return nil
	})

	g.Go(func() error {
		return a.audit.Run(gctx)
	})

	err := g.Wait()
	a.close()
	a.log.Info("server.stopped")
	return err
}

func (a *App) close() {
	for _, fn := range a.unsubscribe {
		fn()
	}
	if a.auditDB != nil {
		a.auditDB.Close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps an http(s) base URL onto ws(s).
func wsBaseURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "ws://" + strings.TrimPrefix(strings.TrimPrefix(base, "http://"), "https://")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}
