package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"gridlink/cmd/internal/metrics"
	"gridlink/cmd/internal/router"
	"gridlink/cmd/internal/session"
	"gridlink/cmd/security/token"
	v1 "gridlink/contracts/realtime/v1"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	wsDefaultCookieName = "gridlink_session"
)

// statusSessionExpired is the reserved close code for a removed session.
const statusSessionExpired = websocket.StatusCode(v1.StatusSessionExpired)

// Sessions is what the channel needs from the session registry.
type Sessions interface {
	Validate(src session.TokenSource) (session.Session, bool)
	Lookup(tok string) (session.Session, bool)
	Subscribe(fn func(session.Event)) (unsubscribe func())
}

// Dispatcher runs one command. router.Router implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, sess session.Session, cc *router.ConnectionContext, command string, payload json.RawMessage) (v1.Outbound, error)
}

// Config tunes the channel.
type Config struct {
	CookieName string
	Production bool

	// Security defaults:
	// - Origin is optional unless OriginRequired is set.
	// - Only localhost is allowed by default.
	OriginRequired     bool
	AllowedOrigins     []string
	InsecureSkipVerify bool

	SendQueueSize int
	WriteTimeout  time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration

	MaxFrameBytes int64
}

// DefaultConfig returns secure defaults.
func DefaultConfig() Config {
	return Config{
		CookieName:        wsDefaultCookieName,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		SendQueueSize:     wsDefaultSendQueueSize,
		WriteTimeout:      wsDefaultWriteTimeout,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
		MaxFrameBytes:     maxFrameBytes,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.CookieName) == "" {
		c.CookieName = def.CookieName
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = def.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = def.MaxFrameBytes
	}
	return c
}

// Channel is the WebSocket entrypoint.
//
// It authenticates the upgrade against the session registry, runs one serial
// read loop per socket, and closes every socket of a session with the reserved
// code when the registry reports the session removed.
type Channel struct {
	log      *slog.Logger
	sessions Sessions
	router   Dispatcher
	hub      *Hub
	metrics  *metrics.Metrics
	cfg      Config

	// Derived for websocket.Accept origin checks.
	originPatterns []string

	now func() time.Time

	base        context.Context
	stop        context.CancelFunc
	unsubscribe func()
	closeOnce   sync.Once
}

// Option customizes a Channel.
type Option func(*Channel)

// WithClock overrides the time source used for rate limiting, IDs and timings.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) {
		if now != nil {
			c.now = now
		}
	}
}

// NewChannel constructs a channel and subscribes it to session removals.
// Call Close to unsubscribe and drop all sockets.
func NewChannel(log *slog.Logger, sessions Sessions, d Dispatcher, m *metrics.Metrics, cfg Config, opts ...Option) *Channel {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	base, stop := context.WithCancel(context.Background())
	c := &Channel{
		log:            log,
		sessions:       sessions,
		router:         d,
		hub:            NewHub(log),
		metrics:        m,
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
		now:            time.Now,
		base:           base,
		stop:           stop,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.unsubscribe = sessions.Subscribe(func(ev session.Event) {
		c.hub.Expire(ev.Token, ev.Reason)
	})
	return c
}

// Hub exposes the connection index.
func (c *Channel) Hub() *Hub { return c.hub }

// Close unsubscribes from the registry and closes every socket with 1001.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.unsubscribe()
		c.stop()
	})
}

// ServeHTTP upgrades an HTTP request and runs the connection until it ends.
func (c *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := c.enforceOrigin(r); err != nil {
		c.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	src := session.FromRequest(r, c.cfg.CookieName)
	src.Query = r.URL.Query().Get("token")
	sess, ok := c.sessions.Validate(src)
	if !ok {
		c.log.Info("ws.reject.unauthorized", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Server read/write timeouts would otherwise carry over to the hijacked socket.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     c.originPatterns,
		InsecureSkipVerify: c.cfg.InsecureSkipVerify,
	})
	if err != nil {
		c.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(c.cfg.MaxFrameBytes)

	connID, err := NewConnectionID(c.now().UTC())
	if err != nil {
		c.log.Error("ws.id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	c.serve(r.Context(), conn, connID, sess)
}

func (c *Channel) serve(parent context.Context, conn *websocket.Conn, connID string, sess session.Session) {
	tok := sess.Token
	log := c.log.With("conn_id", connID, "token_fp", token.Fingerprint(tok))

	client := NewClient(connID, tok, c.cfg.SendQueueSize)
	c.hub.Register(client)
	defer c.hub.Unregister(client)

	c.metrics.ConnOpened()
	defer c.metrics.ConnClosed()

	// A removal between Validate and Register was not seen by the hub.
	if _, ok := c.sessions.Lookup(tok); !ok {
		client.Expire(session.ReasonExpired)
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			log.Info("ws.close", "code", int(code), "reason", reason)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	stopOnServerClose := context.AfterFunc(c.base, func() {
		shutdown(websocket.StatusGoingAway, "server shutdown")
	})
	defer stopOnServerClose()

	log.Info("ws.accept", "namespace", sess.Namespace)
	c.enqueue(ctx, client, v1.Outbound{
		Event: v1.EventConnected,
		Payload: v1.ConnectedPayload{
			ConnectionID: connID,
			Namespace:    sess.Namespace,
			Username:     sess.Username,
		},
	})

	limiter := newCommandLimiter(c.cfg.RateEvents, c.cfg.RateWindow, c.now)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-client.Expired():
				out := v1.Outbound{
					Event:   v1.EventSessionExpired,
					Payload: v1.SessionExpiredPayload{Reason: string(client.ExpireReason())},
				}
				if err := writeFrame(ctx, conn, out, c.cfg.WriteTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
				}
				shutdown(statusSessionExpired, "session expired")
				return
			case out := <-client.Send:
				if err := writeFrame(ctx, conn, out, c.cfg.WriteTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(c.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, c.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					log.Info("ws.ping.fail", "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	cc := &router.ConnectionContext{}

readLoop:
	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		in, perr := parseInbound(mt, data)
		if perr != nil {
			c.enqueue(ctx, client, v1.Outbound{Event: v1.EventError, Payload: *perr})
			continue readLoop
		}

		// Only well-formed commands spend the budget; they are what reach the upstream.
		if ok, retryAfter := limiter.admit(); !ok {
			log.Info("ws.rate_limited", "command", in.Command, "retry_after_ms", retryAfter.Milliseconds())
			msg := fmt.Sprintf("too many commands, retry in %s", retryAfter.Round(time.Millisecond))
			// Written directly: shutdown stops the writer before it drains the queue.
			_ = writeFrame(ctx, conn, v1.NewError(v1.CodeRateLimited, msg), c.cfg.WriteTimeout)
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		// Every command refreshes the sliding window. A miss means the session
		// is gone; the writer takes the expiry path.
		current, ok := c.sessions.Lookup(tok)
		if !ok {
			client.Expire(session.ReasonExpired)
			continue readLoop
		}

		start := c.now()
		out, err := c.dispatch(ctx, current, cc, in)
		result := "ok"
		if err != nil {
			p, internal := router.Classify(err)
			if internal {
				log.Error("ws.command.fail", "command", in.Command, "err", err)
				if c.cfg.Production {
					p.Message = "command failed"
				}
			}
			result = p.Code
			out = v1.Outbound{Event: v1.EventError, Payload: p}
		}
		c.metrics.Command(commandLabel(in.Command, result), result, c.now().Sub(start))

		if !c.enqueue(ctx, client, out) {
			select {
			case <-client.Done():
				break readLoop
			case <-client.Expired():
				continue readLoop
			default:
			}
			log.Info("ws.backpressure", "command", in.Command)
			shutdown(websocket.StatusTryAgainLater, "send queue full")
			break readLoop
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// dispatch runs the command and converts a panic into an internal error.
func (c *Channel) dispatch(ctx context.Context, sess session.Session, cc *router.ConnectionContext, in v1.Inbound) (out v1.Outbound, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = v1.Outbound{}
			err = fmt.Errorf("panic in %s: %v", in.Command, r)
		}
	}()
	return c.router.Dispatch(ctx, sess, cc, in.Command, in.Payload)
}

// ---- send helpers ----

func (c *Channel) enqueue(ctx context.Context, client *Client, out v1.Outbound) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- out:
		return true
	default:
		return false
	}
}

// ---- frame IO ----

// parseInbound separates malformed JSON from well-formed JSON of the wrong shape.
func parseInbound(mt websocket.MessageType, data []byte) (v1.Inbound, *v1.ErrorPayload) {
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Inbound{}, &v1.ErrorPayload{Code: v1.CodeInvalidMessage, Message: "unsupported message type"}
	}
	if !json.Valid(data) {
		return v1.Inbound{}, &v1.ErrorPayload{Code: v1.CodeInvalidJSON, Message: "invalid JSON"}
	}

	var in v1.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return v1.Inbound{}, &v1.ErrorPayload{Code: v1.CodeInvalidMessage, Message: "message must be an object with a command"}
	}
	if err := in.Validate(); err != nil {
		return v1.Inbound{}, &v1.ErrorPayload{Code: v1.CodeInvalidMessage, Message: err.Error()}
	}
	return in, nil
}

func writeFrame(parent context.Context, conn *websocket.Conn, out v1.Outbound, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// commandLabel keeps metric cardinality bounded: unknown names collapse into one label.
func commandLabel(command, result string) string {
	if result == v1.CodeUnknownCommand || len(command) > maxCommandChars {
		return "unknown"
	}
	return command
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
