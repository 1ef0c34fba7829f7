package audit

import (
	"time"

	"gridlink/cmd/internal/ids"
)

// Actions.
const (
	ActionConnect        = "session.connect"
	ActionConnectFailed  = "session.connect.failed"
	ActionDisconnect     = "session.disconnect"
	ActionSessionRemoved = "session.removed"
)

// Event is one audit record.
type Event struct {
	ID        string
	Action    string
	TokenFP   string
	Namespace string
	Username  string
	RemoteIP  string
	Meta      map[string]any
	At        time.Time
}

func newEventID(now time.Time) string {
	return ids.MustULID(now)
}
