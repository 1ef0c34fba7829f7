package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridlink/cmd/internal/backend"
	"gridlink/cmd/internal/session"
	"gridlink/cmd/internal/upstream"
	v1 "gridlink/contracts/realtime/v1"
)

type fakeBackend struct {
	calls []string

	schemaErr error
	pageErr   error
	writeErr  error

	lastPage int
	lastKey  map[string]any
	target   upstream.Target
}

func (f *fakeBackend) ListNamespaces(ctx context.Context, t upstream.Target) ([]string, error) {
	f.calls = append(f.calls, "ListNamespaces")
	f.target = t
	return []string{"USER", "SAMPLES"}, nil
}

func (f *fakeBackend) ListTables(ctx context.Context, t upstream.Target, namespace string) ([]string, error) {
	f.calls = append(f.calls, "ListTables:"+namespace)
	return nil, nil
}

func (f *fakeBackend) TableSchema(ctx context.Context, t upstream.Target, namespace, table string) (backend.Schema, error) {
	f.calls = append(f.calls, "TableSchema:"+table)
	if f.schemaErr != nil {
		return backend.Schema{}, f.schemaErr
	}
	return backend.Schema{
		Table:      table,
		Columns:    []backend.Column{{Name: "ID", Type: "INTEGER", PrimaryKey: true}},
		PrimaryKey: []string{"ID"},
	}, nil
}

func (f *fakeBackend) FetchPage(ctx context.Context, t upstream.Target, namespace string, schema backend.Schema, page int) (backend.Page, error) {
	f.calls = append(f.calls, "FetchPage")
	f.lastPage = page
	if f.pageErr != nil {
		return backend.Page{}, f.pageErr
	}
	return backend.Page{Page: page, PageSize: 2, Rows: []map[string]any{{"ID": 1}}}, nil
}

func (f *fakeBackend) UpdateRow(ctx context.Context, t upstream.Target, namespace, table string, key, changes map[string]any) error {
	f.calls = append(f.calls, "UpdateRow:"+namespace+":"+table)
	f.lastKey = key
	return f.writeErr
}

func (f *fakeBackend) InsertRow(ctx context.Context, t upstream.Target, namespace, table string, values map[string]any) error {
	f.calls = append(f.calls, "InsertRow")
	return f.writeErr
}

func (f *fakeBackend) DeleteRow(ctx context.Context, t upstream.Target, namespace, table string, key map[string]any) error {
	f.calls = append(f.calls, "DeleteRow")
	return f.writeErr
}

func newTestRouter(b Backend) *Router {
	return New(b, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testSession() session.Session {
	return session.Session{Details: session.Details{Host: "db", Port: 52773, Namespace: "USER", Username: "u", Password: "p"}}
}

func dispatch(t *testing.T, r *Router, cc *ConnectionContext, command, payload string) (v1.Outbound, error) {
	t.Helper()
	var raw json.RawMessage
	if payload != "" {
		raw = json.RawMessage(payload)
	}
	return r.Dispatch(context.Background(), testSession(), cc, command, raw)
}

func selectPerson(t *testing.T, r *Router, cc *ConnectionContext) {
	t.Helper()
	_, err := dispatch(t, r, cc, v1.CommandSelectTable, `{"namespace":"USER","tableName":"Sample.Person"}`)
	require.NoError(t, err)
}

func TestCommandsTable(t *testing.T) {
	r := newTestRouter(&fakeBackend{})
	assert.ElementsMatch(t, []string{
		"getNamespaces", "getTables", "selectTable", "requestData", "paginate",
		"refreshData", "updateRow", "insertRow", "deleteRow",
	}, r.Commands())
}

func TestDispatch_UnknownCommand(t *testing.T) {
	fb := &fakeBackend{}
	_, err := dispatch(t, newTestRouter(fb), &ConnectionContext{}, "dropDatabase", "")
	require.ErrorIs(t, err, ErrUnknownCommand)

	p, internal := Classify(err)
	assert.Equal(t, v1.CodeUnknownCommand, p.Code)
	assert.False(t, internal)
	assert.Empty(t, fb.calls)
}

func TestGetNamespaces_UsesSessionCredentials(t *testing.T) {
	fb := &fakeBackend{}
	out, err := dispatch(t, newTestRouter(fb), &ConnectionContext{}, v1.CommandGetNamespaces, "")
	require.NoError(t, err)

	assert.Equal(t, v1.EventNamespaceList, out.Event)
	assert.Equal(t, v1.NamespaceListPayload{Namespaces: []string{"USER", "SAMPLES"}}, out.Payload)
	assert.Equal(t, "u", fb.target.Username)
	assert.Equal(t, "p", fb.target.Password)
}

func TestGetTables_RequiresNamespace(t *testing.T) {
	fb := &fakeBackend{}
	r := newTestRouter(fb)

	_, err := dispatch(t, r, &ConnectionContext{}, v1.CommandGetTables, `{}`)
	p, _ := Classify(err)
	assert.Equal(t, v1.CodeInvalidInput, p.Code)
	assert.Empty(t, fb.calls, "validation runs before the backend")

	out, err := dispatch(t, r, &ConnectionContext{}, v1.CommandGetTables, `{"namespace":"USER"}`)
	require.NoError(t, err)
	assert.Equal(t, v1.TableListPayload{Namespace: "USER", Tables: []string{}}, out.Payload)
}

func TestBind_RejectsMistypedPayload(t *testing.T) {
	_, err := dispatch(t, newTestRouter(&fakeBackend{}), &ConnectionContext{}, v1.CommandGetTables, `"USER"`)
	p, _ := Classify(err)
	assert.Equal(t, v1.CodeInvalidInput, p.Code)
}

func TestSelectTable_UpdatesContext(t *testing.T) {
	fb := &fakeBackend{}
	r := newTestRouter(fb)
	cc := &ConnectionContext{Page: 4}

	out, err := dispatch(t, r, cc, v1.CommandSelectTable, `{"namespace":"USER","tableName":"Sample.Person"}`)
	require.NoError(t, err)

	assert.Equal(t, v1.EventTableSelected, out.Event)
	p := out.Payload.(v1.TableSelectedPayload)
	assert.Equal(t, "Sample.Person", p.Schema.Table)
	assert.Equal(t, 0, p.Data.Page)
	assert.Equal(t, []string{"TableSchema:Sample.Person", "FetchPage"}, fb.calls)

	assert.Equal(t, "USER", cc.Namespace)
	assert.Equal(t, "Sample.Person", cc.Table)
	assert.Equal(t, 0, cc.Page)
	require.NotNil(t, cc.Schema)
}

func TestSelectTable_FailureLeavesContext(t *testing.T) {
	fb := &fakeBackend{pageErr: &upstream.Error{Kind: upstream.KindTimeout}}
	cc := &ConnectionContext{}

	_, err := dispatch(t, newTestRouter(fb), cc, v1.CommandSelectTable, `{"namespace":"USER","tableName":"Sample.Person"}`)
	p, _ := Classify(err)
	assert.Equal(t, v1.CodeUpstreamTimeout, p.Code)
	assert.False(t, cc.HasTable())
	assert.Equal(t, "", cc.Namespace)
}

func TestDataCommands_RequireSelectedTable(t *testing.T) {
	r := newTestRouter(&fakeBackend{})

	for _, cmd := range []struct{ name, payload string }{
		{v1.CommandRequestData, ""},
		{v1.CommandPaginate, `{"direction":"next"}`},
		{v1.CommandRefreshData, ""},
		{v1.CommandUpdateRow, `{"primaryKey":{"ID":1},"changes":{"Name":"x"}}`},
		{v1.CommandInsertRow, `{"values":{"Name":"x"}}`},
		{v1.CommandDeleteRow, `{"primaryKey":{"ID":1}}`},
	} {
		t.Run(cmd.name, func(t *testing.T) {
			_, err := dispatch(t, r, &ConnectionContext{}, cmd.name, cmd.payload)
			p, _ := Classify(err)
			assert.Equal(t, v1.CodeNoTableSelected, p.Code)
			assert.Equal(t, "no table selected", p.Message)
		})
	}
}

func TestPageArithmetic(t *testing.T) {
	fb := &fakeBackend{}
	r := newTestRouter(fb)
	cc := &ConnectionContext{}
	selectPerson(t, r, cc)

	step := func(command, payload string, want int) {
		t.Helper()
		out, err := dispatch(t, r, cc, command, payload)
		require.NoError(t, err)
		assert.Equal(t, v1.EventTableData, out.Event)
		assert.Equal(t, want, fb.lastPage)
		assert.Equal(t, want, cc.Page)
		assert.Equal(t, want, out.Payload.(v1.TableDataPayload).Page)
	}

	step(v1.CommandPaginate, `{"direction":"prev"}`, 0)
	step(v1.CommandPaginate, `{"direction":"next"}`, 1)
	step(v1.CommandPaginate, `{"direction":"next"}`, 2)
	step(v1.CommandRequestData, "", 2)
	step(v1.CommandPaginate, `{"direction":"prev"}`, 1)
	step(v1.CommandRequestData, `{"page":5}`, 5)
	step(v1.CommandPaginate, `{"direction":"next","page":9}`, 10)
	step(v1.CommandRefreshData, "", 0)
}

func TestWrites_EmbedFailures(t *testing.T) {
	fb := &fakeBackend{}
	r := newTestRouter(fb)
	cc := &ConnectionContext{}
	selectPerson(t, r, cc)

	out, err := dispatch(t, r, cc, v1.CommandUpdateRow, `{"requestId":"r-1","rowIndex":2,"column":"Name","primaryKey":{"ID":1},"changes":{"Name":"x"}}`)
	require.NoError(t, err)
	assert.Equal(t, v1.EventSaveCellResult, out.Event)
	res := out.Payload.(v1.WriteResultPayload)
	assert.True(t, res.Success)
	assert.Nil(t, res.Error)
	assert.Equal(t, "r-1", res.RequestID)
	require.NotNil(t, res.RowIndex)
	assert.Equal(t, 2, *res.RowIndex)
	assert.Equal(t, "Name", res.Column)
	assert.Contains(t, fb.calls, "UpdateRow:USER:Sample.Person")

	fb.writeErr = &upstream.Error{Kind: upstream.KindQuery, Detail: "duplicate key"}

	for _, tc := range []struct{ cmd, payload, event string }{
		{v1.CommandUpdateRow, `{"primaryKey":{"ID":1},"changes":{"Name":"x"}}`, v1.EventSaveCellResult},
		{v1.CommandInsertRow, `{"values":{"Name":"x"}}`, v1.EventInsertRowResult},
		{v1.CommandDeleteRow, `{"primaryKey":{"ID":1}}`, v1.EventDeleteRowResult},
	} {
		out, err := dispatch(t, r, cc, tc.cmd, tc.payload)
		require.NoError(t, err, tc.cmd)
		assert.Equal(t, tc.event, out.Event)
		res := out.Payload.(v1.WriteResultPayload)
		assert.False(t, res.Success)
		require.NotNil(t, res.Error)
		assert.Equal(t, v1.CodeQueryFailed, res.Error.Code)
		assert.Contains(t, res.Error.Message, "duplicate key")
	}
}

func TestWrites_FailureCodes(t *testing.T) {
	fb := &fakeBackend{}
	r := newTestRouter(fb)
	cc := &ConnectionContext{}
	selectPerson(t, r, cc)

	tests := []struct {
		name    string
		err     error
		code    string
		message string
	}{
		{name: "rejected input", err: errors.Mark(errors.New("no changes"), backend.ErrInvalidInput), code: v1.CodeInvalidInput, message: "no changes"},
		{name: "unexpected", err: errors.New("dial tcp 10.0.0.5:1972: secret detail"), code: v1.CodeCommandError, message: "write failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb.writeErr = tt.err
			out, err := dispatch(t, r, cc, v1.CommandInsertRow, `{"values":{"Name":"x"}}`)
			require.NoError(t, err)

			res := out.Payload.(v1.WriteResultPayload)
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.code, res.Error.Code)
			assert.Equal(t, tt.message, res.Error.Message)
			assert.NotContains(t, res.Error.Message, "10.0.0.5")
		})
	}
}

func TestWrites_ValidateBeforeBackend(t *testing.T) {
	fb := &fakeBackend{}
	r := newTestRouter(fb)
	cc := &ConnectionContext{}
	selectPerson(t, r, cc)
	fb.calls = nil

	_, err := dispatch(t, r, cc, v1.CommandDeleteRow, `{}`)
	p, _ := Classify(err)
	assert.Equal(t, v1.CodeInvalidInput, p.Code)
	assert.Empty(t, fb.calls)
}

func TestClassify_Internal(t *testing.T) {
	p, internal := Classify(assert.AnError)
	assert.Equal(t, v1.CodeCommandError, p.Code)
	assert.True(t, internal)
}

func TestConnectionContextsAreIndependent(t *testing.T) {
	r := newTestRouter(&fakeBackend{})
	a, b := &ConnectionContext{}, &ConnectionContext{}
	selectPerson(t, r, a)

	assert.True(t, a.HasTable())
	assert.False(t, b.HasTable())
}
