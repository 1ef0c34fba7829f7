package router

import (
	"github.com/cockroachdb/errors"

	"gridlink/cmd/internal/backend"
	"gridlink/cmd/internal/upstream"
	v1 "gridlink/contracts/realtime/v1"
)

// ErrUnknownCommand is returned by Dispatch for names missing from the table.
var ErrUnknownCommand = errors.New("unknown command")

// errNoTable is reported when a data command runs before selectTable.
var errNoTable = &Error{Code: v1.CodeNoTableSelected, Message: "no table selected"}

// Error is a client-facing failure with a protocol code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func invalidInput(msg string) *Error {
	return &Error{Code: v1.CodeInvalidInput, Message: msg}
}

// Classify converts a Dispatch error into an error payload. internal is true
// when err is not a known client-facing failure; callers should hide its text
// outside development.
func Classify(err error) (p v1.ErrorPayload, internal bool) {
	if errors.Is(err, ErrUnknownCommand) {
		return v1.ErrorPayload{Code: v1.CodeUnknownCommand, Message: err.Error()}, false
	}

	var re *Error
	if errors.As(err, &re) {
		return v1.ErrorPayload{Code: re.Code, Message: re.Message}, false
	}

	var ue *upstream.Error
	if errors.As(err, &ue) {
		return v1.ErrorPayload{Code: ue.Kind.Code(), Message: ue.Error()}, false
	}

	return v1.ErrorPayload{Code: v1.CodeCommandError, Message: err.Error()}, true
}

// writeFailure is the embedded error of a failed write result. Rejected input
// keeps its text; anything unexpected gets a fixed message.
func writeFailure(err error) (p *v1.ErrorPayload, internal bool) {
	if errors.Is(err, backend.ErrInvalidInput) {
		return &v1.ErrorPayload{Code: v1.CodeInvalidInput, Message: err.Error()}, false
	}
	ep, internal := Classify(err)
	if internal {
		ep.Message = "write failed"
	}
	return &ep, internal
}
