// Package router maps realtime commands onto backend operations.
//
// Each command is a row in a table: name, typed payload, handler. Payloads are
// decoded and validated before any backend call. The router owns no sockets; the
// caller passes the session snapshot and the connection's ConnectionContext.
package router
