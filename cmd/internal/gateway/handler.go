package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"gridlink/cmd/internal/audit"
	"gridlink/cmd/internal/backend"
	"gridlink/cmd/internal/metrics"
	"gridlink/cmd/internal/session"
	"gridlink/cmd/internal/upstream"
	"gridlink/cmd/security/token"
)

// Sessions is what the gateway needs from the session registry.
type Sessions interface {
	Create(d session.Details) (string, error)
	Replace(old string, d session.Details) (string, error)
	Validate(src session.TokenSource) (session.Session, bool)
	Destroy(tok string) bool
}

// Prober checks a target and its credentials. upstream.Client implements it.
type Prober interface {
	Probe(ctx context.Context, t upstream.Target) (upstream.ProbeResult, error)
}

// Executor runs ad-hoc SQL for /query. backend.Service implements it.
type Executor interface {
	Execute(ctx context.Context, t upstream.Target, namespace, sql string, params []any) ([]map[string]any, error)
}

// Handler serves the connection endpoints.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions Sessions
	prober   Prober
	exec     Executor
	audit    *audit.Sink
	metrics  *metrics.Metrics
	now      func() time.Time
}

// HandlerOption customizes optional dependencies.
type HandlerOption func(*Handler)

// WithAuditSink records connect/disconnect activity.
func WithAuditSink(s *audit.Sink) HandlerOption {
	return func(h *Handler) {
		if s != nil {
			h.audit = s
		}
	}
}

// WithMetrics counts probe outcomes.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs the gateway.
func NewHandler(log *slog.Logger, cfg Config, sessions Sessions, prober Prober, exec Executor, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if sessions == nil {
		return nil, errors.New("gateway: sessions is required")
	}
	if prober == nil {
		return nil, errors.New("gateway: prober is required")
	}
	if exec == nil {
		return nil, errors.New("gateway: executor is required")
	}

	h := &Handler{
		log:      log,
		cfg:      cfg.withDefaults(),
		sessions: sessions,
		prober:   prober,
		exec:     exec,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.audit == nil {
		h.audit = audit.NewSink(log, nil, 0)
	}
	return h, nil
}

// Register wires the gateway routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/connect", h.handleConnect)
	mux.HandleFunc("/disconnect", h.handleDisconnect)
	mux.HandleFunc("/session", h.handleSession)
	mux.HandleFunc("/query", h.handleQuery)
	mux.HandleFunc("/test-connection", h.handleTestConnection)
}

// ---- handlers ----

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	req, err := h.readConnectRequest(w, r)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	d := req.details()
	ip := clientIP(r, h.cfg.TrustProxy)

	if code, ok := h.probe(w, r, d, "connect"); !ok {
		h.audit.ConnectFailed(code, d.Namespace, d.Username, ip)
		return
	}

	// A valid cookie means this browser is reconnecting: swap, don't accumulate.
	var (
		tok      string
		replaced bool
	)
	if prev, ok := h.sessions.Validate(session.FromRequest(r, h.cfg.CookieName)); ok {
		tok, err = h.sessions.Replace(prev.Token, d)
		replaced = true
	} else {
		tok, err = h.sessions.Create(d)
	}
	if err != nil {
		h.log.Error("gateway.connect.session_fail", "err", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}

	h.setSessionCookie(w, tok)
	h.audit.Connected(tok, d.Namespace, d.Username, ip, replaced)
	writeJSON(w, http.StatusOK, statusResponse{Status: statusConnected})
}

func (h *Handler) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	req, err := h.readConnectRequest(w, r)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	if _, ok := h.probe(w, r, req.details(), "test_connection"); !ok {
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: statusOK})
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	tok := session.FromRequest(r, h.cfg.CookieName).Token()
	if h.sessions.Destroy(tok) {
		h.audit.Disconnected(tok, clientIP(r, h.cfg.TrustProxy))
	}

	h.expireSessionCookie(w)
	writeJSON(w, http.StatusOK, statusResponse{Status: statusDisconnected})
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	sess, ok := h.sessions.Validate(session.FromRequest(r, h.cfg.CookieName))
	if !ok {
		writeJSON(w, http.StatusOK, sessionResponse{Status: statusDisconnected})
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess, h.now()))
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	sess, ok := h.sessions.Validate(session.FromRequest(r, h.cfg.CookieName))
	if !ok {
		writeError(w, http.StatusUnauthorized, codeSessionInvalid, "session is invalid or expired")
		return
	}

	var req queryRequest
	if err := decodeBody(w, r, bodyPolicy{MaxBytes: h.cfg.MaxBodyBytes, Strict: true}, &req); err != nil {
		writeRequestError(w, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeRequestError(w, validationError("query is required"))
		return
	}
	params := req.Parameters
	if params == nil {
		params = []any{}
	}

	rows, err := h.exec.Execute(r.Context(), backend.TargetOf(sess), sess.Namespace, req.Query, params)
	if err != nil {
		f := classify(err)
		h.log.Warn("gateway.query.fail", "token_fp", token.Fingerprint(sess.Token), "code", f.Code, "err", err)
		writeFailure(w, f)
		return
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, queryResponse{Status: statusOK, Result: queryResult{Content: rows}})
}

// ---- helpers ----

// readConnectRequest decodes and validates a connect body. Clients may send
// fields of their own (a saved-connection name, for one); they are ignored.
func (h *Handler) readConnectRequest(w http.ResponseWriter, r *http.Request) (connectRequest, error) {
	var req connectRequest
	if err := decodeBody(w, r, bodyPolicy{MaxBytes: h.cfg.MaxBodyBytes}, &req); err != nil {
		return connectRequest{}, err
	}
	if missing := req.missing(); len(missing) > 0 {
		return connectRequest{}, validationError("missing required fields: " + strings.Join(missing, ", "))
	}
	if h.cfg.RequireHTTPS && !req.UseHTTPS {
		return connectRequest{}, &requestError{
			Status:  http.StatusForbidden,
			Code:    codeInsecureTransport,
			Message: "plaintext connections to the database server are not allowed",
		}
	}
	return req, nil
}

// probe checks d against the upstream and writes the classified failure when it
// returns false. The returned code is the one sent to the client.
func (h *Handler) probe(w http.ResponseWriter, r *http.Request, d session.Details, op string) (string, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.ProbeTimeout)
	defer cancel()

	start := h.now()
	_, err := h.prober.Probe(ctx, backend.TargetOf(session.Session{Details: d}))
	if err == nil {
		h.metrics.Probe("ok")
		return "", true
	}

	kind := upstream.KindOf(err)
	h.metrics.Probe(kind.String())

	f := classify(err)
	// Host and port stay out of the log line as well as the response.
	h.log.Warn("gateway."+op+"."+kind.String(),
		"code", f.Code,
		"namespace", d.Namespace,
		"took_ms", h.now().Sub(start).Milliseconds(),
	)
	writeFailure(w, f)
	return f.Code, false
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip.String()
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	return ""
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
