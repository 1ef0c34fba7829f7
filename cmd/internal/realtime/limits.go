package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 256 << 10 // 256 KiB; row edits can carry large text values

	// Max command name length accepted for logging and metrics labels.
	maxCommandChars = 64
)

const (
	// Heartbeat defaults.
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (commands per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
