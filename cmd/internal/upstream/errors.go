package upstream

import (
	"context"
	"net"

	"github.com/cockroachdb/errors"

	v1 "gridlink/contracts/realtime/v1"
)

// Kind classifies upstream failures.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindUnauthorized is a 401/403 from the upstream.
	KindUnauthorized
	// KindUnreachable covers refused connections, DNS, resets and TLS dial failures.
	KindUnreachable
	// KindTimeout covers deadlines and aborted calls.
	KindTimeout
	// KindUpstream is any other non-success response.
	KindUpstream
	// KindQuery is a query response whose status carries errors. Probe never returns it.
	KindQuery
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindUnreachable:
		return "unreachable"
	case KindTimeout:
		return "timeout"
	case KindUpstream:
		return "upstream"
	case KindQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Code maps the kind onto the shared error code vocabulary.
func (k Kind) Code() string {
	switch k {
	case KindUnauthorized:
		return v1.CodeAuthFailed
	case KindUnreachable:
		return v1.CodeUpstreamUnreachable
	case KindTimeout:
		return v1.CodeUpstreamTimeout
	case KindQuery:
		return v1.CodeQueryFailed
	default:
		return v1.CodeUpstreamError
	}
}

// Error is the only error type returned by Client.
type Error struct {
	Kind   Kind
	Status int
	// Detail is the upstream's own error text. Only set for KindQuery.
	Detail string

	err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnauthorized:
		return "authentication failed"
	case KindUnreachable:
		return "database server unreachable"
	case KindTimeout:
		return "database server did not respond in time"
	case KindQuery:
		if e.Detail != "" {
			return "query failed: " + e.Detail
		}
		return "query failed"
	default:
		return "database server returned an error"
	}
}

func (e *Error) Unwrap() error { return e.err }

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return KindUnknown
}

// classifyTransport turns an http.Client.Do error into an *Error.
func classifyTransport(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTimeout, err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, err: err}
	}
	return &Error{Kind: KindUnreachable, err: err}
}

func statusError(status int) *Error {
	if status == 401 || status == 403 {
		return &Error{Kind: KindUnauthorized, Status: status}
	}
	return &Error{Kind: KindUpstream, Status: status}
}
