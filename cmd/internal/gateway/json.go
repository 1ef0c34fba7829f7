package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// requestError is a rejected request, carrying the exact response to send.
type requestError struct {
	Status  int
	Code    string
	Message string

	err error
}

func (e *requestError) Error() string { return e.Code + ": " + e.Message }

func (e *requestError) Unwrap() error { return e.err }

func validationError(msg string) *requestError {
	return &requestError{Status: http.StatusBadRequest, Code: codeValidation, Message: msg}
}

func invalidJSON(msg string, err error) *requestError {
	return &requestError{Status: http.StatusBadRequest, Code: codeInvalidJSON, Message: msg, err: err}
}

// writeRequestError renders err. Anything that is not a *requestError is
// reported as unparseable JSON.
func writeRequestError(w http.ResponseWriter, err error) {
	var re *requestError
	if !errors.As(err, &re) {
		re = invalidJSON("invalid json", err)
	}
	writeError(w, re.Status, re.Code, re.Message)
}

// bodyPolicy says how much of a body to read and whether unknown fields fail it.
type bodyPolicy struct {
	MaxBytes int64
	Strict   bool
}

// decodeBody reads exactly one JSON object into dst. Every failure is a
// *requestError.
func decodeBody(w http.ResponseWriter, r *http.Request, p bodyPolicy, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return validationError("request body is required")
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, p.MaxBytes))
	if p.Strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		return bodyError(err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return invalidJSON("extra data after JSON object", err)
	}
	return nil
}

func bodyError(err error) *requestError {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return validationError("request body is required")
	case errors.As(err, &tooLarge):
		return &requestError{Status: http.StatusRequestEntityTooLarge, Code: codeValidation, Message: "request body too large", err: err}
	case errors.Is(err, errInvalidPort):
		return &requestError{Status: http.StatusBadRequest, Code: codeValidation, Message: errInvalidPort.Error(), err: err}
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		return invalidJSON(strings.TrimPrefix(err.Error(), "json: "), err)
	default:
		return invalidJSON("invalid json", err)
	}
}
