// Package hub maps active session tokens to live outbound event sinks and
// delivers events to them. Delivery is best-effort and at-most-once: a dead
// sink is silently detached, never surfaced to the sender.
package hub

import (
	"context"
	"log/slog"
	"sync"
)

// Sink is a one-way channel the server pushes events into for a single
// connected client. The hub owns the attachment; Send implementations only
// need to report failure so the hub can prune.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// outboundBuffer is the per-client event queue depth. A client that cannot
// drain this many pending events is treated as dead.
const outboundBuffer = 32

type client struct {
	token  string
	userID string
	sink   Sink
	out    chan Event

	closeOnce sync.Once
	done      chan struct{}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub is the connection registry. One sink per token, last writer wins.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

func New() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// Handle identifies one attachment. Detaching through it removes exactly
// that attachment: when the token has since been rebound to a newer sink,
// the newer binding stays. Connection teardown must use the handle, not
// the token, or a stale connection's cleanup would unbind its replacement.
type Handle struct {
	hub *Hub
	c   *client
}

// Detach removes the attachment this handle was issued for. Idempotent.
func (hd Handle) Detach() {
	hd.hub.remove(hd.c)
}

// Attach registers a sink for a session token. A previous sink bound to the
// same token is replaced and considered detached without notification.
func (h *Hub) Attach(token, userID string, sink Sink) Handle {
	c := &client{
		token:  token,
		userID: userID,
		sink:   sink,
		out:    make(chan Event, outboundBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if old, exists := h.clients[token]; exists {
		old.close()
	}
	h.clients[token] = c
	h.mu.Unlock()

	go h.writeLoop(c)

	slog.Debug("hub: sink attached", "userId", userID)
	return Handle{hub: h, c: c}
}

// Detach removes the token's sink. Idempotent; safe after the sink is gone.
func (h *Hub) Detach(token string) {
	h.mu.Lock()
	c, exists := h.clients[token]
	if exists {
		delete(h.clients, token)
	}
	h.mu.Unlock()

	if exists {
		c.close()
		slog.Debug("hub: sink detached", "userId", c.userID)
	}
}

// Lookup returns the sink currently bound to token.
func (h *Hub) Lookup(token string) (Sink, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[token]
	if !ok {
		return nil, false
	}
	return c.sink, true
}

// Send delivers one event to the sink bound to token. A missing, dead or
// stalled sink never aborts the caller.
func (h *Hub) Send(token string, ev Event) {
	h.mu.RLock()
	c, ok := h.clients[token]
	h.mu.RUnlock()

	if ok {
		h.enqueue(c, ev)
	}
}

// SendUser delivers one event to every session of one user. This is the
// default delivery scope for chat traffic: messages are visible only to
// their owning user's sessions.
func (h *Hub) SendUser(userID string, ev Event) {
	h.SendUserExcept(userID, "", ev)
}

// SendUserExcept is SendUser minus one session, used to relay activity from
// one of a user's sessions to the others.
func (h *Hub) SendUserExcept(userID, excludeToken string, ev Event) {
	for _, c := range h.snapshot() {
		if c.userID == userID && c.token != excludeToken {
			h.enqueue(c, ev)
		}
	}
}

// SendAll delivers one event to every attached sink except excludeToken.
// Chat traffic never uses this scope; it exists for service-wide notices.
func (h *Hub) SendAll(ev Event, excludeToken string) {
	for _, c := range h.snapshot() {
		if c.token != excludeToken {
			h.enqueue(c, ev)
		}
	}
}

func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

// enqueue hands an event to the client's writer. A full queue means the
// client stopped draining; drop it rather than block the sender.
func (h *Hub) enqueue(c *client, ev Event) {
	select {
	case c.out <- ev:
	case <-c.done:
	default:
		slog.Debug("hub: outbound queue full, dropping sink", "userId", c.userID)
		h.remove(c)
	}
}

// writeLoop drains one client's queue in FIFO order. A single writer per
// token preserves the relative order of events destined to that token.
func (h *Hub) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.out:
			if err := c.sink.Send(context.Background(), ev); err != nil {
				slog.Debug("hub: write failed, dropping sink", "userId", c.userID, "error", err)
				h.remove(c)
				return
			}
		}
	}
}

// remove detaches exactly this client, leaving any replacement attached
// under the same token untouched.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.token]; ok && cur == c {
		delete(h.clients, c.token)
	}
	h.mu.Unlock()
	c.close()
}

// Count returns the number of attached sinks.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
