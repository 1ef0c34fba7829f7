// Package upstream is the HTTP client for the remote database service's REST API.
//
// It knows two endpoints: the server-info probe used to validate credentials and
// the query action used for everything else. Every failure is returned as *Error
// with a Kind; messages are fixed strings that never carry host or port.
package upstream
