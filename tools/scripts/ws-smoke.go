// Package main is an end-to-end smoke test for a running gridlink server.
//
// It validates:
//   - connect sets the session cookie and /session reports it
//   - the realtime handshake accepts the cookie and greets with "connected"
//   - getNamespaces round-trips
//   - an unknown command yields UNKNOWN_COMMAND and the socket stays usable
//   - disconnect pushes sessionExpired and closes the socket with 4002
//   - a redial with the dead cookie is refused
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/pflag"

	v1 "gridlink/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

// frame is an inbound server frame with its payload left raw.
type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type smokeClient struct {
	conn  *websocket.Conn
	inbox chan frame
	errCh chan error
}

type options struct {
	baseURL   string
	origin    string
	host      string
	port      int
	namespace string
	username  string
	password  string
	useHTTPS  bool
	timeout   time.Duration
	verbose   bool
}

func main() {
	var o options
	fs := pflag.NewFlagSet("ws-smoke", pflag.ContinueOnError)
	fs.StringVar(&o.baseURL, "url", "http://127.0.0.1:8080", "gridlink base URL")
	fs.StringVar(&o.origin, "origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
	fs.StringVar(&o.host, "db-host", "127.0.0.1", "database server host")
	fs.IntVar(&o.port, "db-port", 52773, "database server web port")
	fs.StringVar(&o.namespace, "namespace", "USER", "namespace to connect to")
	fs.StringVar(&o.username, "username", "_SYSTEM", "database user")
	fs.StringVar(&o.password, "password", os.Getenv("GRIDLINK_SMOKE_PASSWORD"), "database password (default $GRIDLINK_SMOKE_PASSWORD)")
	fs.BoolVar(&o.useHTTPS, "db-https", false, "talk to the database server over HTTPS")
	fs.DurationVar(&o.timeout, "timeout", 7*time.Second, "per-step timeout")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "verbose output")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fatalf("flags: %v", err)
	}

	base, err := validateBaseURL(o.baseURL)
	if err != nil {
		fatalf("invalid --url: %v", err)
	}
	if err := validateOrigin(o.origin); err != nil {
		fatalf("invalid --origin: %v", err)
	}

	root := context.Background()
	hc := &http.Client{Timeout: o.timeout}

	cookie := mustConnect(root, hc, base, o)
	mustSessionConnected(root, hc, base, cookie, o)

	c := mustDial(root, base, cookie, o)
	defer closeWS(c.conn)

	greet := c.mustReadUntil(root, v1.EventConnected, o.timeout)
	var hello v1.ConnectedPayload
	if err := json.Unmarshal(greet.Payload, &hello); err != nil || hello.ConnectionID == "" {
		fatalf("connected event without connectionId: %s", greet.Payload)
	}
	if o.verbose {
		fmt.Printf("ws connected: conn_id=%s namespace=%s\n", hello.ConnectionID, hello.Namespace)
	}

	mustSend(root, c.conn, v1.CommandGetNamespaces, nil, o.timeout)
	var nsList v1.NamespaceListPayload
	if err := json.Unmarshal(c.mustReadUntil(root, v1.EventNamespaceList, o.timeout).Payload, &nsList); err != nil {
		fatalf("namespaceList payload: %v", err)
	}

	mustSend(root, c.conn, "noSuchCommand", nil, o.timeout)
	ep := c.mustReadError(root, o.timeout)
	if ep.Code != v1.CodeUnknownCommand {
		fatalf("unknown command: code=%q want %q", ep.Code, v1.CodeUnknownCommand)
	}

	// The socket must survive the protocol error.
	mustSend(root, c.conn, v1.CommandGetNamespaces, nil, o.timeout)
	c.mustReadUntil(root, v1.EventNamespaceList, o.timeout)

	mustDisconnect(root, hc, base, cookie)
	c.mustReadUntil(root, v1.EventSessionExpired, o.timeout)
	c.mustClose(root, websocket.StatusCode(v1.StatusSessionExpired), o.timeout)

	mustRedialRefused(root, base, cookie, o)

	fmt.Printf("OK: conn_id=%s namespaces=%d\n", hello.ConnectionID, len(nsList.Namespaces))
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func wsURL(base *url.URL) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

func mustConnect(parent context.Context, hc *http.Client, base *url.URL, o options) *http.Cookie {
	body, _ := json.Marshal(map[string]any{
		"host":      o.host,
		"port":      o.port,
		"namespace": o.namespace,
		"username":  o.username,
		"password":  o.password,
		"useHTTPS":  o.useHTTPS,
	})

	resp := mustDo(parent, hc, http.MethodPost, base.String()+"/connect", body, nil)
	if resp.StatusCode != http.StatusOK {
		fatalf("connect: status=%d body=%s", resp.StatusCode, readBody(resp))
	}
	_ = readBody(resp)

	for _, c := range resp.Cookies() {
		if c.HttpOnly && c.Value != "" {
			return c
		}
	}
	fatalf("connect: no session cookie in response")
	return nil
}

func mustSessionConnected(parent context.Context, hc *http.Client, base *url.URL, cookie *http.Cookie, o options) {
	resp := mustDo(parent, hc, http.MethodGet, base.String()+"/session", nil, cookie)
	var s struct {
		Status string `json:"status"`
		Server struct {
			Namespace string `json:"namespace"`
		} `json:"server"`
	}
	if err := json.Unmarshal([]byte(readBody(resp)), &s); err != nil {
		fatalf("session: %v", err)
	}
	if s.Status != "connected" || s.Server.Namespace != o.namespace {
		fatalf("session: status=%q namespace=%q", s.Status, s.Server.Namespace)
	}
}

func mustDisconnect(parent context.Context, hc *http.Client, base *url.URL, cookie *http.Cookie) {
	resp := mustDo(parent, hc, http.MethodPost, base.String()+"/disconnect", nil, cookie)
	if resp.StatusCode != http.StatusOK {
		fatalf("disconnect: status=%d", resp.StatusCode)
	}
	_ = readBody(resp)
}

func mustDo(parent context.Context, hc *http.Client, method, target string, body []byte, cookie *http.Cookie) *http.Response {
	req, err := http.NewRequestWithContext(parent, method, target, bytes.NewReader(body))
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := hc.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	return resp
}

func readBody(resp *http.Response) string {
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	return string(b)
}

func dialHeader(cookie *http.Cookie, origin string) http.Header {
	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	h.Set("Cookie", cookie.String())
	return h
}

func mustDial(parent context.Context, base *url.URL, cookie *http.Cookie, o options) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, o.timeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, wsURL(base), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   dialHeader(cookie, o.origin),
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("dial: %v", err)
	}
	if got := conn.Subprotocol(); got != "" && got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan frame, 64),
		errCh: make(chan error, 1),
	}
	go c.readLoop()
	return c
}

func mustRedialRefused(parent context.Context, base *url.URL, cookie *http.Cookie, o options) {
	ctx, cancel := context.WithTimeout(parent, o.timeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, wsURL(base), &websocket.DialOptions{
		HTTPHeader: dialHeader(cookie, o.origin),
	})
	if err == nil {
		closeWS(conn)
		fatalf("redial with a destroyed session was accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		fatalf("redial: expected 401, got resp=%v err=%v", resp, err)
	}
}

func (c *smokeClient) readLoop() {
	defer close(c.inbox)
	for {
		_, b, err := c.conn.Read(context.Background())
		if err != nil {
			c.errCh <- err
			return
		}
		var f frame
		if err := json.Unmarshal(b, &f); err != nil {
			c.errCh <- fmt.Errorf("bad frame %q: %w", b, err)
			return
		}
		c.inbox <- f
	}
}

func (c *smokeClient) mustReadUntil(parent context.Context, event string, stepTimeout time.Duration) frame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", event, ctx.Err())
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q: %v", event, <-c.errCh)
			}
			if f.Event == event {
				return f
			}
			if f.Event == v1.EventError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(f.Payload, &ep)
				fatalf("server error while waiting for %q: code=%q msg=%q", event, ep.Code, ep.Message)
			}
			fatalf("unexpected event: got=%q want=%q", f.Event, event)
		}
	}
}

func (c *smokeClient) mustReadError(parent context.Context, stepTimeout time.Duration) v1.ErrorPayload {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		fatalf("timeout waiting for error event")
	case f, ok := <-c.inbox:
		if !ok {
			fatalf("connection closed while waiting for error event")
		}
		if f.Event != v1.EventError {
			fatalf("unexpected event: got=%q want=%q", f.Event, v1.EventError)
		}
		var ep v1.ErrorPayload
		if err := json.Unmarshal(f.Payload, &ep); err != nil {
			fatalf("error payload: %v", err)
		}
		return ep
	}
	return v1.ErrorPayload{}
}

func (c *smokeClient) mustClose(parent context.Context, want websocket.StatusCode, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for close %d", want)
		case _, ok := <-c.inbox:
			if ok {
				continue
			}
			err := <-c.errCh
			if got := websocket.CloseStatus(err); got != want {
				fatalf("close status: got=%d want=%d (err=%v)", got, want, err)
			}
			return
		}
	}
}

func mustSend(parent context.Context, conn *websocket.Conn, command string, payload any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	in := v1.Inbound{Command: command}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			fatalf("marshal payload: %v", err)
		}
		in.Payload = b
	}
	b, err := json.Marshal(in)
	if err != nil {
		fatalf("marshal command: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
