package upstream

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Target is where and as whom to talk to the upstream.
type Target struct {
	Host       string
	Port       int
	PathPrefix string
	UseHTTPS   bool

	Username string
	Password string
}

// BaseURL returns {scheme}://{host}:{port}{pathPrefix} without a trailing slash.
func (t Target) BaseURL() string {
	scheme := "http"
	if t.UseHTTPS {
		scheme = "https"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(strings.TrimSpace(t.Host), strconv.Itoa(t.Port)),
		Path:   normalizePrefix(t.PathPrefix),
	}
	return u.String()
}

func normalizePrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}
