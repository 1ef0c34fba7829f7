package realtime

import (
	"log/slog"
	"sync"

	"gridlink/cmd/internal/session"
	"gridlink/cmd/security/token"
)

// Hub indexes live clients by session token so a session removal reaches every
// socket opened with that token.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	byToken map[string]map[string]*Client
	total   int
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		byToken: make(map[string]map[string]*Client),
	}
}

// Register adds c.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.byToken[c.Token]
	if !ok {
		set = make(map[string]*Client)
		h.byToken[c.Token] = set
	}
	if _, dup := set[c.ID]; !dup {
		set[c.ID] = c
		h.total++
	}
}

// Unregister removes c. Unknown clients are ignored.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.byToken[c.Token]
	if !ok {
		return
	}
	if _, ok := set[c.ID]; !ok {
		return
	}
	delete(set, c.ID)
	h.total--
	if len(set) == 0 {
		delete(h.byToken, c.Token)
	}
}

// Expire marks every client of tok as expired and returns how many were reached.
func (h *Hub) Expire(tok string, reason session.Reason) int {
	h.mu.RLock()
	set := h.byToken[tok]
	targets := make([]*Client, 0, len(set))
	for _, c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.Expire(reason)
	}
	if len(targets) > 0 {
		h.log.Info("ws.session.expire", "token_fp", token.Fingerprint(tok), "reason", string(reason), "connections", len(targets))
	}
	return len(targets)
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// CountFor returns the number of clients registered under tok.
func (h *Hub) CountFor(tok string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byToken[tok])
}
