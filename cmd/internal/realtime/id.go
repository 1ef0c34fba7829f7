package realtime

import (
	"time"

	"gridlink/cmd/internal/ids"
)

// NewConnectionID returns a ULID identifying one websocket connection.
func NewConnectionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
