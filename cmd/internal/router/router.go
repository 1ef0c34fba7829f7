package router

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"gridlink/cmd/internal/backend"
	"gridlink/cmd/internal/session"
	"gridlink/cmd/internal/upstream"
	v1 "gridlink/contracts/realtime/v1"
)

// Backend is what the router needs from the data layer. backend.Service implements it.
type Backend interface {
	ListNamespaces(ctx context.Context, t upstream.Target) ([]string, error)
	ListTables(ctx context.Context, t upstream.Target, namespace string) ([]string, error)
	TableSchema(ctx context.Context, t upstream.Target, namespace, table string) (backend.Schema, error)
	FetchPage(ctx context.Context, t upstream.Target, namespace string, schema backend.Schema, page int) (backend.Page, error)
	UpdateRow(ctx context.Context, t upstream.Target, namespace, table string, key, changes map[string]any) error
	InsertRow(ctx context.Context, t upstream.Target, namespace, table string, values map[string]any) error
	DeleteRow(ctx context.Context, t upstream.Target, namespace, table string, key map[string]any) error
}

var _ Backend = (*backend.Service)(nil)

// call is the per-dispatch state handed to handlers.
type call struct {
	target upstream.Target
	cc     *ConnectionContext
}

type handler func(ctx context.Context, c *call, raw json.RawMessage) (v1.Outbound, error)

type validator interface {
	Validate() error
}

// Router dispatches commands. It is safe for concurrent use; per-connection state
// lives in the ConnectionContext the caller passes in.
type Router struct {
	backend  Backend
	log      *slog.Logger
	handlers map[string]handler
}

// New builds the command table.
func New(b Backend, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{backend: b, log: log}
	r.handlers = map[string]handler{
		v1.CommandGetNamespaces: handle(r.getNamespaces),
		v1.CommandGetTables:     handle(r.getTables),
		v1.CommandSelectTable:   handle(r.selectTable),
		v1.CommandRequestData:   handle(r.requestData),
		v1.CommandPaginate:      handle(r.paginate),
		v1.CommandRefreshData:   handle(r.refreshData),
		v1.CommandUpdateRow:     handle(r.updateRow),
		v1.CommandInsertRow:     handle(r.insertRow),
		v1.CommandDeleteRow:     handle(r.deleteRow),
	}
	return r
}

// Commands lists the registered command names in sorted order.
func (r *Router) Commands() []string {
	names := lo.Keys(r.handlers)
	slices.Sort(names)
	return names
}

// Dispatch runs one command to completion. cc must belong to the calling connection.
func (r *Router) Dispatch(ctx context.Context, sess session.Session, cc *ConnectionContext, command string, payload json.RawMessage) (v1.Outbound, error) {
	h, ok := r.handlers[command]
	if !ok {
		return v1.Outbound{}, errors.Wrapf(ErrUnknownCommand, "%q", command)
	}
	if cc == nil {
		cc = &ConnectionContext{}
	}
	return h(ctx, &call{target: backend.TargetOf(sess), cc: cc}, payload)
}

// handle adapts a typed handler into a table entry.
func handle[P validator](fn func(ctx context.Context, c *call, p P) (v1.Outbound, error)) handler {
	return func(ctx context.Context, c *call, raw json.RawMessage) (v1.Outbound, error) {
		p, err := bind[P](raw)
		if err != nil {
			return v1.Outbound{}, err
		}
		return fn(ctx, c, p)
	}
}

// bind decodes and validates a payload. Absent and null payloads decode to the zero value.
func bind[P validator](raw json.RawMessage) (P, error) {
	var p P
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &p); err != nil {
			return p, invalidInput("payload does not match command")
		}
	}
	if err := p.Validate(); err != nil {
		return p, invalidInput(err.Error())
	}
	return p, nil
}
