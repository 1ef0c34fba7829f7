package session

import (
	"net/http"
	"strings"
)

// TokenSource carries the places a token may arrive from.
// Precedence: Cookie, then bearer Header, then Query.
type TokenSource struct {
	Cookie string
	// Header is the raw Authorization header value ("Bearer <token>").
	Header string
	Query  string
}

// Token resolves the effective token or "".
func (s TokenSource) Token() string {
	if v := strings.TrimSpace(s.Cookie); v != "" {
		return v
	}
	if v := BearerToken(s.Header); v != "" {
		return v
	}
	return strings.TrimSpace(s.Query)
}

// FromRequest collects the cookie and Authorization header of r.
func FromRequest(r *http.Request, cookieName string) TokenSource {
	if r == nil {
		return TokenSource{}
	}
	src := TokenSource{Header: r.Header.Get("Authorization")}
	if c, err := r.Cookie(cookieName); err == nil {
		src.Cookie = c.Value
	}
	return src
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
