package session

import "time"

// Details is everything the gateway learned from a successful connect.
type Details struct {
	Host       string
	Port       int
	Namespace  string
	Username   string
	Password   string
	PathPrefix string
	UseHTTPS   bool
}

// Session is a snapshot of a stored record. Mutating it has no effect on the store.
type Session struct {
	Token string
	Details

	CreatedAt    time.Time
	LastActivity time.Time
	Timeout      time.Duration
}

// Summary is the projection of a session that is safe to return to clients.
// Host, port and password are deliberately absent.
type Summary struct {
	Namespace        string
	Username         string
	CreatedAt        time.Time
	TimeoutRemaining time.Duration
}

// Summary returns the safe projection as of now.
func (s Session) Summary(now time.Time) Summary {
	remaining := s.Timeout - now.Sub(s.LastActivity)
	if remaining < 0 {
		remaining = 0
	}
	return Summary{
		Namespace:        s.Namespace,
		Username:         s.Username,
		CreatedAt:        s.CreatedAt,
		TimeoutRemaining: remaining,
	}
}

// Reason describes why a session left the registry.
type Reason string

const (
	// ReasonExpired is an idle timeout detected on access or by the sweeper.
	ReasonExpired Reason = "expired"
	// ReasonDestroyed is an explicit disconnect.
	ReasonDestroyed Reason = "destroyed"
	// ReasonReplaced is a reconnect that presented the old token.
	ReasonReplaced Reason = "replaced"
)

// Event is delivered to subscribers once per removed session.
type Event struct {
	Token     string
	Reason    Reason
	Namespace string
	Username  string
	At        time.Time
}
