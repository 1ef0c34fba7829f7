package router

import "gridlink/cmd/internal/backend"

// ConnectionContext is per-socket navigation state. It is owned by exactly one
// connection and must not be shared.
type ConnectionContext struct {
	Namespace string
	Table     string
	Schema    *backend.Schema
	Page      int
}

// HasTable reports whether a table has been selected.
func (c *ConnectionContext) HasTable() bool {
	return c != nil && c.Table != "" && c.Schema != nil
}

func (c *ConnectionContext) selectTable(namespace, table string, schema backend.Schema) {
	c.Namespace = namespace
	c.Table = table
	c.Schema = &schema
	c.Page = 0
}
