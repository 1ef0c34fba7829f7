package router

import (
	"context"

	"github.com/samber/lo"

	"gridlink/cmd/internal/backend"
	v1 "gridlink/contracts/realtime/v1"
)

func (r *Router) getNamespaces(ctx context.Context, c *call, _ v1.Empty) (v1.Outbound, error) {
	ns, err := r.backend.ListNamespaces(ctx, c.target)
	if err != nil {
		return v1.Outbound{}, err
	}
	return v1.Outbound{
		Event:   v1.EventNamespaceList,
		Payload: v1.NamespaceListPayload{Namespaces: nonNil(ns)},
	}, nil
}

func (r *Router) getTables(ctx context.Context, c *call, p v1.GetTablesPayload) (v1.Outbound, error) {
	tables, err := r.backend.ListTables(ctx, c.target, p.Namespace)
	if err != nil {
		return v1.Outbound{}, err
	}
	return v1.Outbound{
		Event:   v1.EventTableList,
		Payload: v1.TableListPayload{Namespace: p.Namespace, Tables: nonNil(tables)},
	}, nil
}

// selectTable fetches the schema and the first page. The connection context only
// changes once both calls succeeded.
func (r *Router) selectTable(ctx context.Context, c *call, p v1.SelectTablePayload) (v1.Outbound, error) {
	schema, err := r.backend.TableSchema(ctx, c.target, p.Namespace, p.TableName)
	if err != nil {
		return v1.Outbound{}, err
	}
	page, err := r.backend.FetchPage(ctx, c.target, p.Namespace, schema, 0)
	if err != nil {
		return v1.Outbound{}, err
	}

	c.cc.selectTable(p.Namespace, p.TableName, schema)

	return v1.Outbound{
		Event: v1.EventTableSelected,
		Payload: v1.TableSelectedPayload{
			Namespace: p.Namespace,
			TableName: p.TableName,
			Schema:    wireSchema(schema),
			Data:      wirePage(page),
		},
	}, nil
}

func (r *Router) requestData(ctx context.Context, c *call, p v1.RequestDataPayload) (v1.Outbound, error) {
	if !c.cc.HasTable() {
		return v1.Outbound{}, errNoTable
	}
	page := c.cc.Page
	if p.Page != nil {
		page = *p.Page
	}
	return r.fetch(ctx, c, page)
}

func (r *Router) paginate(ctx context.Context, c *call, p v1.PaginatePayload) (v1.Outbound, error) {
	if !c.cc.HasTable() {
		return v1.Outbound{}, errNoTable
	}
	page := c.cc.Page
	if p.Page != nil {
		page = *p.Page
	}
	if p.Direction == v1.DirectionNext {
		page++
	} else {
		page = max(page-1, 0)
	}
	return r.fetch(ctx, c, page)
}

func (r *Router) refreshData(ctx context.Context, c *call, _ v1.Empty) (v1.Outbound, error) {
	if !c.cc.HasTable() {
		return v1.Outbound{}, errNoTable
	}
	return r.fetch(ctx, c, 0)
}

func (r *Router) fetch(ctx context.Context, c *call, page int) (v1.Outbound, error) {
	data, err := r.backend.FetchPage(ctx, c.target, c.cc.Namespace, *c.cc.Schema, page)
	if err != nil {
		return v1.Outbound{}, err
	}
	c.cc.Page = data.Page

	return v1.Outbound{
		Event: v1.EventTableData,
		Payload: v1.TableDataPayload{
			Namespace: c.cc.Namespace,
			TableName: c.cc.Table,
			TablePage: wirePage(data),
		},
	}, nil
}

func (r *Router) updateRow(ctx context.Context, c *call, p v1.UpdateRowPayload) (v1.Outbound, error) {
	if !c.cc.HasTable() {
		return v1.Outbound{}, errNoTable
	}
	err := r.backend.UpdateRow(ctx, c.target, c.cc.Namespace, c.cc.Table, p.PrimaryKey, p.Changes)
	return r.writeResult(v1.EventSaveCellResult, p.EditEcho, err), nil
}

func (r *Router) insertRow(ctx context.Context, c *call, p v1.InsertRowPayload) (v1.Outbound, error) {
	if !c.cc.HasTable() {
		return v1.Outbound{}, errNoTable
	}
	err := r.backend.InsertRow(ctx, c.target, c.cc.Namespace, c.cc.Table, p.Values)
	return r.writeResult(v1.EventInsertRowResult, p.EditEcho, err), nil
}

func (r *Router) deleteRow(ctx context.Context, c *call, p v1.DeleteRowPayload) (v1.Outbound, error) {
	if !c.cc.HasTable() {
		return v1.Outbound{}, errNoTable
	}
	err := r.backend.DeleteRow(ctx, c.target, c.cc.Namespace, c.cc.Table, p.PrimaryKey)
	return r.writeResult(v1.EventDeleteRowResult, p.EditEcho, err), nil
}

// writeResult embeds backend failures in the result event instead of raising them.
func (r *Router) writeResult(event string, echo v1.EditEcho, err error) v1.Outbound {
	res := v1.WriteResultPayload{EditEcho: echo, Success: err == nil}
	if err != nil {
		var internal bool
		res.Error, internal = writeFailure(err)
		if internal {
			r.log.Error("router.write.fail", "event", event, "err", err)
		} else {
			r.log.Info("router.write.fail", "event", event, "code", res.Error.Code)
		}
	}
	return v1.Outbound{Event: event, Payload: res}
}

// ---- wire conversion ----

func wireSchema(s backend.Schema) v1.TableSchema {
	return v1.TableSchema{
		Table: s.Table,
		Columns: lo.Map(s.Columns, func(c backend.Column, _ int) v1.Column {
			return v1.Column{Name: c.Name, Type: c.Type, Nullable: c.Nullable, PrimaryKey: c.PrimaryKey}
		}),
		PrimaryKey: s.PrimaryKey,
	}
}

func wirePage(p backend.Page) v1.TablePage {
	return v1.TablePage{
		Page:     p.Page,
		PageSize: p.PageSize,
		Rows:     nonNil(p.Rows),
		HasMore:  p.HasMore,
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
