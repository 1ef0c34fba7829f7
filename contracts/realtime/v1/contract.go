// Package v1 defines the gridlink realtime protocol v1 contract.
//
// Inbound frames are {command, payload}; outbound frames are {event, payload}.
// One JSON text frame carries exactly one message.
package v1

import (
	"encoding/json"
	"errors"
	"strings"
)

// Version is the protocol version identifier.
const Version = "v1"

// Subprotocol is offered by clients that want explicit version negotiation.
// It is optional; a connection without it speaks v1.
const Subprotocol = "gridlink.v1"

// StatusSessionExpired is the reserved close code sent after sessionExpired.
// Clients must not reconnect automatically with the same token.
const StatusSessionExpired = 4002

// Commands (client -> server).
const (
	CommandGetNamespaces = "getNamespaces"
	CommandGetTables     = "getTables"
	CommandSelectTable   = "selectTable"
	CommandRequestData   = "requestData"
	CommandPaginate      = "paginate"
	CommandRefreshData   = "refreshData"
	CommandUpdateRow     = "updateRow"
	CommandInsertRow     = "insertRow"
	CommandDeleteRow     = "deleteRow"
)

// Events (server -> client).
const (
	EventConnected       = "connected"
	EventError           = "error"
	EventSessionExpired  = "sessionExpired"
	EventNamespaceList   = "namespaceList"
	EventTableList       = "tableList"
	EventTableSelected   = "tableSelected"
	EventTableData       = "tableData"
	EventSaveCellResult  = "saveCellResult"
	EventInsertRowResult = "insertRowResult"
	EventDeleteRowResult = "deleteRowResult"
)

// Error codes carried in ErrorPayload.Code.
const (
	// Protocol errors. None of them close the socket.
	CodeInvalidJSON    = "INVALID_JSON"
	CodeInvalidMessage = "INVALID_MESSAGE"
	CodeUnknownCommand = "UNKNOWN_COMMAND"
	CodeCommandError   = "COMMAND_ERROR"

	CodeInvalidInput    = "INVALID_INPUT"
	CodeNoTableSelected = "NO_TABLE_SELECTED"
	CodeRateLimited     = "RATE_LIMITED"

	// Upstream classification.
	CodeAuthFailed          = "AUTH_FAILED"
	CodeUpstreamUnreachable = "UPSTREAM_UNREACHABLE"
	CodeUpstreamTimeout     = "UPSTREAM_TIMEOUT"
	CodeQueryFailed         = "QUERY_FAILED"
	CodeUpstreamError       = "UPSTREAM_ERROR"
)

// Page directions for paginate.
const (
	DirectionNext = "next"
	DirectionPrev = "prev"
)

// Inbound is a client command frame.
type Inbound struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation. It does not check that Command is known.
func (in Inbound) Validate() error {
	if strings.TrimSpace(in.Command) == "" {
		return errors.New("missing field: command")
	}
	return nil
}

// Outbound is a server event frame.
type Outbound struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// NewError builds an error event.
func NewError(code, message string) Outbound {
	return Outbound{Event: EventError, Payload: ErrorPayload{Code: code, Message: message}}
}
