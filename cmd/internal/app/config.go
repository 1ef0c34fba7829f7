package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/pflag"

	"gridlink/cmd/internal/backend"
	"gridlink/cmd/internal/gateway"
	"gridlink/cmd/internal/realtime"
	"gridlink/cmd/internal/session"
)

const (
	envDevelopment = "development"
	envProduction  = "production"
)

// Config contains all runtime configuration loaded from environment variables.
// Command-line flags override the environment (see AddFlags).
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string
	Env       string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	SessionTimeout       time.Duration
	SessionSweepInterval time.Duration
	CookieName           string

	RequireHTTPS bool
	TrustProxy   bool
	ProbeTimeout time.Duration
	QueryTimeout time.Duration
	PageSize     int

	WSOriginRequired     bool
	WSAllowedOrigins     []string
	WSSendQueue          int
	WSWriteTimeout       time.Duration
	WSHeartbeatInterval  time.Duration
	WSHeartbeatTimeout   time.Duration
	WSRateEvents         int
	WSRateWindow         time.Duration
	WSInsecureSkipVerify bool

	// CORS for browser front ends served from another origin (dev servers).
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// AuditDatabaseURL enables persistent audit rows. Empty means log-only.
	AuditDatabaseURL string
	DBMaxConns       int32
	DBMinConns       int32

	// If true:
	// - /readyz returns 503 unless the audit DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, GRIDLINK_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) so token fingerprints are keyed.
	RequireTokenHMAC bool

	invalidEnv []string
}

// LoadConfig loads Config from GRIDLINK_* environment variables with defaults.
// Unparseable values fall back to the default and are listed by InvalidEnv.
func LoadConfig() Config {
	return loadConfig(os.LookupEnv)
}

func loadConfig(lookup func(string) (string, bool)) Config {
	ws := realtime.DefaultConfig()
	be := backend.DefaultConfig()
	sess := session.DefaultConfig()
	env := &envSource{lookup: lookup}

	cfg := Config{
		HTTPAddr:  env.str("HTTP_ADDR", "127.0.0.1:8080"),
		LogLevel:  env.str("LOG_LEVEL", "info"),
		LogFormat: env.str("LOG_FORMAT", "json"),
		Env:       strings.ToLower(env.str("ENV", envDevelopment)),

		ReadHeaderTimeout: env.duration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       env.duration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      env.duration("HTTP_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       env.duration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    env.positive("HTTP_MAX_HEADER_BYTES", 1<<20),

		SessionTimeout:       env.duration("SESSION_TIMEOUT", sess.Timeout),
		SessionSweepInterval: env.duration("SESSION_SWEEP_INTERVAL", sess.SweepInterval),
		CookieName:           env.str("COOKIE_NAME", ws.CookieName),

		RequireHTTPS: env.flag("REQUIRE_HTTPS", false),
		TrustProxy:   env.flag("TRUST_PROXY", false),
		ProbeTimeout: env.duration("PROBE_TIMEOUT", gateway.DefaultConfig().ProbeTimeout),
		QueryTimeout: env.duration("QUERY_TIMEOUT", be.QueryTimeout),
		PageSize:     env.positive("PAGE_SIZE", be.PageSize),

		WSOriginRequired:     env.flag("WS_ORIGIN_REQUIRED", false),
		WSAllowedOrigins:     env.list("WS_ALLOWED_ORIGINS", ws.AllowedOrigins),
		WSSendQueue:          env.positive("WS_SEND_QUEUE", ws.SendQueueSize),
		WSWriteTimeout:       env.duration("WS_WRITE_TIMEOUT", ws.WriteTimeout),
		WSHeartbeatInterval:  env.duration("WS_HEARTBEAT_INTERVAL", ws.HeartbeatInterval),
		WSHeartbeatTimeout:   env.duration("WS_HEARTBEAT_TIMEOUT", ws.HeartbeatTimeout),
		WSRateEvents:         env.positive("WS_RATE_EVENTS", ws.RateEvents),
		WSRateWindow:         env.duration("WS_RATE_WINDOW", ws.RateWindow),
		WSInsecureSkipVerify: env.flag("WS_INSECURE_SKIP_VERIFY", false),

		CORSAllowedOrigins:   env.list("CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: env.flag("CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    env.positive("CORS_MAX_AGE_SECONDS", 600),

		AuditDatabaseURL: env.str("AUDIT_DATABASE_URL", ""),
		DBMaxConns:       env.conns("DB_MAX_CONNS", 4),
		DBMinConns:       env.conns("DB_MIN_CONNS", 0),

		ReadinessRequireDB: env.flag("READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: env.flag("REQUIRE_TOKEN_HMAC", false),
	}
	cfg.invalidEnv = env.invalid
	return cfg
}

// InvalidEnv lists the variables whose values could not be parsed and were
// replaced by their defaults.
func (c Config) InvalidEnv() []string { return c.invalidEnv }

const envPrefix = "GRIDLINK_"

// envSource reads prefixed variables and remembers which ones were rejected.
type envSource struct {
	lookup  func(string) (string, bool)
	invalid []string
}

func (e *envSource) get(name string) (string, bool) {
	v, ok := e.lookup(envPrefix + name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envSource) reject(name string) {
	e.invalid = append(e.invalid, envPrefix+name)
}

func (e *envSource) str(name, def string) string {
	if v, ok := e.get(name); ok {
		return v
	}
	return def
}

func (e *envSource) flag(name string, def bool) bool {
	v, ok := e.get(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.reject(name)
		return def
	}
	return b
}

// positive accepts integers above zero.
func (e *envSource) positive(name string, def int) int {
	v, ok := e.get(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		e.reject(name)
		return def
	}
	return n
}

// conns accepts pool sizes: zero or more, within int32.
func (e *envSource) conns(name string, def int32) int32 {
	v, ok := e.get(name)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n < 0 {
		e.reject(name)
		return def
	}
	return int32(n)
}

func (e *envSource) duration(name string, def time.Duration) time.Duration {
	v, ok := e.get(name)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		e.reject(name)
		return def
	}
	return d
}

// list splits a comma-separated value. Blank items are dropped; nothing left
// yields def.
func (e *envSource) list(name string, def []string) []string {
	v, ok := e.get(name)
	if !ok {
		return def
	}
	out := lo.Compact(lo.Map(strings.Split(v, ","), func(p string, _ int) string {
		return strings.TrimSpace(p)
	}))
	if len(out) == 0 {
		return def
	}
	return out
}

// AddFlags registers command-line overrides. Defaults are the values already in c,
// so flags win over the environment only when given.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.HTTPAddr, "addr", c.HTTPAddr, "HTTP listen address")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: json, text, pretty")
	fs.StringVar(&c.Env, "env", c.Env, "runtime environment: development or production")
	fs.DurationVar(&c.SessionTimeout, "session-timeout", c.SessionTimeout, "idle timeout of a session")
	fs.StringVar(&c.CookieName, "cookie-name", c.CookieName, "session cookie name")
	fs.BoolVar(&c.RequireHTTPS, "require-https", c.RequireHTTPS, "refuse plaintext connections to the database server")
	fs.DurationVar(&c.ProbeTimeout, "probe-timeout", c.ProbeTimeout, "timeout of the connect probe")
	fs.DurationVar(&c.QueryTimeout, "query-timeout", c.QueryTimeout, "timeout of a single database query")
	fs.IntVar(&c.PageSize, "page-size", c.PageSize, "rows per table page")
	fs.StringSliceVar(&c.WSAllowedOrigins, "ws-allowed-origins", c.WSAllowedOrigins, "allowed WebSocket origins")
	fs.BoolVar(&c.WSOriginRequired, "ws-origin-required", c.WSOriginRequired, "reject WebSocket upgrades without an Origin header")
	fs.StringVar(&c.AuditDatabaseURL, "audit-database-url", c.AuditDatabaseURL, "Postgres URL for audit rows (empty: log only)")
}

// Production reports whether the runtime runs under the production policy.
func (c Config) Production() bool { return c.Env == envProduction }

func (c Config) sessionConfig() session.Config {
	sc := session.DefaultConfig()
	sc.Timeout = c.SessionTimeout
	sc.SweepInterval = c.SessionSweepInterval
	return sc
}

func (c Config) backendConfig() backend.Config {
	return backend.Config{PageSize: c.PageSize, QueryTimeout: c.QueryTimeout}
}

func (c Config) gatewayConfig() gateway.Config {
	return gateway.Config{
		CookieName:   c.CookieName,
		Production:   c.Production(),
		RequireHTTPS: c.RequireHTTPS,
		ProbeTimeout: c.ProbeTimeout,
		TrustProxy:   c.TrustProxy,
	}
}

func (c Config) channelConfig() realtime.Config {
	return realtime.Config{
		CookieName:         c.CookieName,
		Production:         c.Production(),
		OriginRequired:     c.WSOriginRequired,
		AllowedOrigins:     c.WSAllowedOrigins,
		InsecureSkipVerify: c.WSInsecureSkipVerify,
		SendQueueSize:      c.WSSendQueue,
		WriteTimeout:       c.WSWriteTimeout,
		HeartbeatInterval:  c.WSHeartbeatInterval,
		HeartbeatTimeout:   c.WSHeartbeatTimeout,
		RateEvents:         c.WSRateEvents,
		RateWindow:         c.WSRateWindow,
	}
}
