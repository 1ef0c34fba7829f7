package realtime

import (
	"time"
)

// commandLimiter bounds how many commands one socket may run per window.
// It keeps the admission times of the last limit commands in a ring; a new
// command is admitted when the oldest of those has left the window.
//
// Only the read loop touches it, so it is not locked.
type commandLimiter struct {
	now    func() time.Time
	window time.Duration
	ring   []time.Time
	next   int
}

func newCommandLimiter(limit int, window time.Duration, now func() time.Time) *commandLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	if now == nil {
		now = time.Now
	}
	return &commandLimiter{
		now:    now,
		window: window,
		ring:   make([]time.Time, limit),
	}
}

// admit records a command and reports whether it fits the budget. When it does
// not, retryAfter is how long until the oldest admission leaves the window.
func (l *commandLimiter) admit() (ok bool, retryAfter time.Duration) {
	now := l.now()
	oldest := l.ring[l.next]
	if !oldest.IsZero() {
		if free := oldest.Add(l.window); now.Before(free) {
			return false, free.Sub(now)
		}
	}
	l.ring[l.next] = now
	l.next = (l.next + 1) % len(l.ring)
	return true, 0
}
