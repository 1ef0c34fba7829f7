package gateway

import (
	"strconv"
	"strings"
	"time"

	"gridlink/cmd/internal/session"
)

// portNumber accepts a JSON number or a numeric string.
type portNumber int

func (p *portNumber) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*p = 0
		return nil
	}
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		unq, err := strconv.Unquote(raw)
		if err != nil {
			return errInvalidPort
		}
		raw = strings.TrimSpace(unq)
		if raw == "" {
			*p = 0
			return nil
		}
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 65535 {
		return errInvalidPort
	}
	*p = portNumber(n)
	return nil
}

type connectRequest struct {
	Host       string     `json:"host"`
	Port       portNumber `json:"port"`
	Namespace  string     `json:"namespace"`
	Username   string     `json:"username"`
	Password   string     `json:"password"`
	PathPrefix string     `json:"pathPrefix"`
	UseHTTPS   bool       `json:"useHTTPS"`
}

// missing lists required fields that are absent, in request order.
func (r connectRequest) missing() []string {
	var out []string
	if strings.TrimSpace(r.Host) == "" {
		out = append(out, "host")
	}
	if r.Port == 0 {
		out = append(out, "port")
	}
	if strings.TrimSpace(r.Namespace) == "" {
		out = append(out, "namespace")
	}
	if strings.TrimSpace(r.Username) == "" {
		out = append(out, "username")
	}
	if r.Password == "" {
		out = append(out, "password")
	}
	return out
}

func (r connectRequest) details() session.Details {
	return session.Details{
		Host:       strings.TrimSpace(r.Host),
		Port:       int(r.Port),
		Namespace:  strings.TrimSpace(r.Namespace),
		Username:   strings.TrimSpace(r.Username),
		Password:   r.Password,
		PathPrefix: strings.TrimSpace(r.PathPrefix),
		UseHTTPS:   r.UseHTTPS,
	}
}

type queryRequest struct {
	Query      string `json:"query"`
	Parameters []any  `json:"parameters"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type serverInfo struct {
	Namespace string `json:"namespace"`
	Username  string `json:"username"`
}

type sessionResponse struct {
	Status    string      `json:"status"`
	Server    *serverInfo `json:"server,omitempty"`
	CreatedAt *time.Time  `json:"createdAt,omitempty"`
	// TimeoutRemaining is in milliseconds.
	TimeoutRemaining *int64 `json:"timeoutRemaining,omitempty"`
}

type queryResult struct {
	Content []map[string]any `json:"content"`
}

type queryResponse struct {
	Status string      `json:"status"`
	Result queryResult `json:"result"`
}

const (
	statusConnected    = "connected"
	statusDisconnected = "disconnected"
	statusOK           = "ok"
)

func toSessionResponse(s session.Session, now time.Time) sessionResponse {
	sum := s.Summary(now)
	created := sum.CreatedAt.UTC()
	remaining := sum.TimeoutRemaining.Milliseconds()
	return sessionResponse{
		Status:           statusConnected,
		Server:           &serverInfo{Namespace: sum.Namespace, Username: sum.Username},
		CreatedAt:        &created,
		TimeoutRemaining: &remaining,
	}
}
