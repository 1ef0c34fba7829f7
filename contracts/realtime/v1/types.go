package v1

import (
	"errors"
	"strings"
)

// ---- Server payloads ----

// ConnectedPayload greets a freshly accepted connection.
type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
	Namespace    string `json:"namespace"`
	Username     string `json:"username"`
}

// ErrorPayload is the payload of an error event and of failed write results.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// SessionExpiredPayload precedes the StatusSessionExpired close.
type SessionExpiredPayload struct {
	Reason string `json:"reason,omitempty"`
}

// NamespaceListPayload answers getNamespaces.
type NamespaceListPayload struct {
	Namespaces []string `json:"namespaces"`
}

// TableListPayload answers getTables.
type TableListPayload struct {
	Namespace string   `json:"namespace"`
	Tables    []string `json:"tables"`
}

// Column describes one table column.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primaryKey,omitempty"`
}

// TableSchema is the cached shape of a selected table.
type TableSchema struct {
	Table      string   `json:"table"`
	Columns    []Column `json:"columns"`
	PrimaryKey []string `json:"primaryKey,omitempty"`
}

// TablePage is one page of rows.
type TablePage struct {
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
	Rows     []map[string]any `json:"rows"`
	HasMore  bool             `json:"hasMore"`
}

// TableSelectedPayload answers selectTable with schema and the first page combined.
type TableSelectedPayload struct {
	Namespace string      `json:"namespace"`
	TableName string      `json:"tableName"`
	Schema    TableSchema `json:"schema"`
	Data      TablePage   `json:"data"`
}

// TableDataPayload answers requestData, paginate and refreshData.
type TableDataPayload struct {
	Namespace string `json:"namespace"`
	TableName string `json:"tableName"`
	TablePage
}

// EditEcho carries client-side editing context that is copied back verbatim.
type EditEcho struct {
	RequestID string `json:"requestId,omitempty"`
	RowIndex  *int   `json:"rowIndex,omitempty"`
	Column    string `json:"column,omitempty"`
}

// WriteResultPayload answers updateRow, insertRow and deleteRow.
// Backend failures are reported here with Success=false, never as error events.
type WriteResultPayload struct {
	EditEcho
	Success bool          `json:"success"`
	Error   *ErrorPayload `json:"error,omitempty"`
}

// ---- Client payloads ----

// GetTablesPayload is the payload of getTables.
type GetTablesPayload struct {
	Namespace string `json:"namespace"`
}

func (p GetTablesPayload) Validate() error {
	if strings.TrimSpace(p.Namespace) == "" {
		return errors.New("namespace is required")
	}
	return nil
}

// SelectTablePayload is the payload of selectTable.
type SelectTablePayload struct {
	Namespace string `json:"namespace"`
	TableName string `json:"tableName"`
}

func (p SelectTablePayload) Validate() error {
	if strings.TrimSpace(p.Namespace) == "" {
		return errors.New("namespace is required")
	}
	if strings.TrimSpace(p.TableName) == "" {
		return errors.New("tableName is required")
	}
	return nil
}

// RequestDataPayload is the payload of requestData. A nil Page keeps the current page.
type RequestDataPayload struct {
	Page *int `json:"page,omitempty"`
}

func (p RequestDataPayload) Validate() error {
	if p.Page != nil && *p.Page < 0 {
		return errors.New("page must not be negative")
	}
	return nil
}

// PaginatePayload is the payload of paginate. Page, when set, overrides the
// connection's current page as the starting point.
type PaginatePayload struct {
	Direction string `json:"direction"`
	Page      *int   `json:"page,omitempty"`
}

func (p PaginatePayload) Validate() error {
	if p.Page != nil && *p.Page < 0 {
		return errors.New("page must not be negative")
	}
	switch p.Direction {
	case DirectionNext, DirectionPrev:
		return nil
	case "":
		return errors.New("direction is required")
	default:
		return errors.New("direction must be next or prev")
	}
}

// UpdateRowPayload is the payload of updateRow.
type UpdateRowPayload struct {
	EditEcho
	PrimaryKey map[string]any `json:"primaryKey"`
	Changes    map[string]any `json:"changes"`
}

func (p UpdateRowPayload) Validate() error {
	if len(p.PrimaryKey) == 0 {
		return errors.New("primaryKey is required")
	}
	if len(p.Changes) == 0 {
		return errors.New("changes is required")
	}
	return nil
}

// InsertRowPayload is the payload of insertRow.
type InsertRowPayload struct {
	EditEcho
	Values map[string]any `json:"values"`
}

func (p InsertRowPayload) Validate() error {
	if len(p.Values) == 0 {
		return errors.New("values is required")
	}
	return nil
}

// DeleteRowPayload is the payload of deleteRow.
type DeleteRowPayload struct {
	EditEcho
	PrimaryKey map[string]any `json:"primaryKey"`
}

func (p DeleteRowPayload) Validate() error {
	if len(p.PrimaryKey) == 0 {
		return errors.New("primaryKey is required")
	}
	return nil
}

// Empty is the payload of commands that take none. Any payload is accepted.
type Empty struct{}

func (Empty) Validate() error { return nil }
