package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

const (
	probePath = "/api/atelier/"
	queryPath = "/api/atelier/v1/%s/action/query"

	maxResponseBytes = 32 << 20
)

// ProbeResult is what a successful probe learned about the server.
type ProbeResult struct {
	Version    string
	Namespaces []string
}

// QueryResult holds the rows of a query action.
type QueryResult struct {
	Rows []map[string]any
}

// Client calls the upstream REST API. Callers bound every call with ctx.
type Client struct {
	http *http.Client
	log  *slog.Logger
}

// NewClient builds a Client. hc may be nil.
func NewClient(hc *http.Client, log *slog.Logger) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{http: hc, log: log}
}

// envelope is the upstream's common response wrapper.
type envelope struct {
	Status struct {
		Errors  []statusEntry `json:"errors"`
		Summary string        `json:"summary"`
	} `json:"status"`
	Result struct {
		Content json.RawMessage `json:"content"`
	} `json:"result"`
}

type statusEntry struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type serverInfo struct {
	Version    string   `json:"version"`
	Namespaces []string `json:"namespaces"`
}

type queryRequest struct {
	Query      string `json:"query"`
	Parameters []any  `json:"parameters"`
}

// Probe validates the credentials in t against the server-info endpoint.
func (c *Client) Probe(ctx context.Context, t Target) (ProbeResult, error) {
	env, err := c.do(ctx, t, http.MethodGet, probePath, nil)
	if err != nil {
		// Status errors on the probe mean a wrong endpoint or a broken server,
		// never a user query.
		var ue *Error
		if errors.As(err, &ue) && ue.Kind == KindQuery {
			return ProbeResult{}, &Error{Kind: KindUpstream, Status: ue.Status, err: errors.Newf("probe status errors: %s", ue.Detail)}
		}
		return ProbeResult{}, err
	}

	var info serverInfo
	if len(env.Result.Content) > 0 {
		if err := json.Unmarshal(env.Result.Content, &info); err != nil {
			return ProbeResult{}, &Error{Kind: KindUpstream, Status: http.StatusOK, err: errors.Wrap(err, "decode server info")}
		}
	}

	return ProbeResult{
		Version:    info.Version,
		Namespaces: lo.Uniq(lo.Compact(info.Namespaces)),
	}, nil
}

// Query runs sql with positional parameters in namespace.
func (c *Client) Query(ctx context.Context, t Target, namespace, sql string, params []any) (QueryResult, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(queryRequest{Query: sql, Parameters: params})
	if err != nil {
		return QueryResult{}, errors.Wrap(err, "encode query")
	}

	path := fmt.Sprintf(queryPath, url.PathEscape(namespace))
	env, err := c.do(ctx, t, http.MethodPost, path, body)
	if err != nil {
		return QueryResult{}, err
	}

	var rows []map[string]any
	if len(env.Result.Content) > 0 && !bytes.Equal(env.Result.Content, []byte("null")) {
		if err := json.Unmarshal(env.Result.Content, &rows); err != nil {
			return QueryResult{}, &Error{Kind: KindUpstream, Status: http.StatusOK, err: errors.Wrap(err, "decode rows")}
		}
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return QueryResult{Rows: rows}, nil
}

func (c *Client) do(ctx context.Context, t Target, method, path string, body []byte) (envelope, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.BaseURL()+path, rdr)
	if err != nil {
		// A malformed host is as good as an unreachable one for the caller.
		return envelope{}, &Error{Kind: KindUnreachable, err: err}
	}
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		ue := classifyTransport(err)
		c.log.Debug("upstream.transport.fail", "kind", ue.Kind.String(), "err", err)
		return envelope{}, ue
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return envelope{}, classifyTransport(err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return envelope{}, statusError(resp.StatusCode)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && len(env.Status.Errors) > 0 && resp.StatusCode < 500 {
			return envelope{}, &Error{Kind: KindQuery, Status: resp.StatusCode, Detail: joinStatusErrors(env.Status.Errors)}
		}
		return envelope{}, statusError(resp.StatusCode)
	}
	if decodeErr != nil {
		return envelope{}, &Error{Kind: KindUpstream, Status: resp.StatusCode, err: errors.Wrap(decodeErr, "decode envelope")}
	}
	if len(env.Status.Errors) > 0 {
		return envelope{}, &Error{Kind: KindQuery, Status: resp.StatusCode, Detail: joinStatusErrors(env.Status.Errors)}
	}
	return env, nil
}

func joinStatusErrors(errs []statusEntry) string {
	msgs := lo.FilterMap(errs, func(e statusEntry, _ int) (string, bool) {
		m := strings.TrimSpace(e.Error)
		return m, m != ""
	})
	return strings.Join(msgs, "; ")
}
