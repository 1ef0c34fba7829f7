package realtime

import (
	"sync"

	"gridlink/cmd/internal/session"
	v1 "gridlink/contracts/realtime/v1"
)

// Client represents one connected websocket.
//
// Design notes:
// - Send is never closed by the server; writers select on Done.
// - Close and Expire are idempotent and safe from any goroutine.
type Client struct {
	ID    string
	Token string
	Send  chan v1.Outbound

	done      chan struct{}
	closeOnce sync.Once

	expired    chan struct{}
	expireOnce sync.Once
	reason     session.Reason
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id, token string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ID:      id,
		Token:   token,
		Send:    make(chan v1.Outbound, sendQueueSize),
		done:    make(chan struct{}),
		expired: make(chan struct{}),
	}
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close signals the client goroutines to stop.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Expired is closed once the client's session has been removed.
func (c *Client) Expired() <-chan struct{} {
	return c.expired
}

// Expire marks the session as gone. The writer reacts by sending sessionExpired
// and closing with the reserved code. Only the first call's reason is kept.
func (c *Client) Expire(reason session.Reason) {
	c.expireOnce.Do(func() {
		c.reason = reason
		close(c.expired)
	})
}

// ExpireReason is valid after Expired is closed.
func (c *Client) ExpireReason() session.Reason {
	return c.reason
}
