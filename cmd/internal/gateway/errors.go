package gateway

import (
	"errors"
	"net/http"

	"gridlink/cmd/internal/upstream"
	v1 "gridlink/contracts/realtime/v1"
)

const (
	codeValidation        = "VALIDATION_ERROR"
	codeInvalidJSON       = v1.CodeInvalidJSON
	codeSessionInvalid    = "SESSION_INVALID"
	codeInsecureTransport = "INSECURE_TRANSPORT"
	codeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	codeInternal          = "INTERNAL"
)

var errInvalidPort = errors.New("port must be an integer between 1 and 65535")

// upstreamFailure is the client-facing rendition of an upstream error.
type upstreamFailure struct {
	Status  int
	Code    string
	Message string
}

// classify maps err onto the HTTP taxonomy. Messages are fixed strings, except
// for query failures which carry the upstream's own SQL error text.
func classify(err error) upstreamFailure {
	var ue *upstream.Error
	if !errors.As(err, &ue) {
		return upstreamFailure{Status: http.StatusInternalServerError, Code: codeInternal, Message: "internal error"}
	}

	f := upstreamFailure{Code: ue.Kind.Code(), Message: ue.Error()}
	switch ue.Kind {
	case upstream.KindUnauthorized:
		f.Status = http.StatusUnauthorized
		f.Message = "authentication failed"
	case upstream.KindUnreachable:
		f.Status = http.StatusBadGateway
		f.Message = "database server unreachable"
	case upstream.KindTimeout:
		f.Status = http.StatusGatewayTimeout
		f.Message = "database server did not respond in time"
	case upstream.KindQuery:
		f.Status = http.StatusBadRequest
	default:
		f.Status = http.StatusBadGateway
		f.Message = "database server returned an error"
	}
	return f
}

func writeFailure(w http.ResponseWriter, f upstreamFailure) {
	writeError(w, f.Status, f.Code, f.Message)
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
}
