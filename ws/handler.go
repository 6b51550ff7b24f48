// Package ws serves the long-lived event stream over a websocket. One
// connection is one sink in the hub; each frame carries one JSON event.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/nekochat/server/chat"
	"github.com/nekochat/server/hub"
	"github.com/nekochat/server/identity"
	"github.com/nekochat/server/session"
)

// writeTimeout bounds a single frame write; a client that cannot take a
// frame within it is treated as gone.
const writeTimeout = 5 * time.Second

// Verifier resolves the token passed in the query string.
type Verifier interface {
	Verify(token string) (*identity.User, error)
}

type Handler struct {
	sessions Verifier
	hub      *hub.Hub
	pipeline *chat.Pipeline
	devMode  bool
}

func NewHandler(sessions Verifier, h *hub.Hub, pipeline *chat.Pipeline, devMode bool) *Handler {
	return &Handler{
		sessions: sessions,
		hub:      h,
		pipeline: pipeline,
		devMode:  devMode,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing token", http.StatusUnauthorized)
		return
	}

	user, err := h.sessions.Verify(token)
	if err != nil {
		if !errors.Is(err, session.ErrInvalidToken) {
			slog.Error("ws: verify failed", "error", err)
		}
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.devMode,
	})
	if err != nil {
		slog.Error("ws: failed to accept websocket", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	h.handleConnection(r.Context(), conn, token, user)
}

// clientEvent is what a connected client may send upstream. The socket is
// push-mostly: all chat operations ride the HTTP API.
type clientEvent struct {
	Type    string `json:"type"`
	Payload struct {
		Active bool `json:"active"`
	} `json:"payload"`
}

// PresencePayload relays typing activity between a user's own sessions.
type PresencePayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Active   bool   `json:"active"`
}

func (h *Handler) handleConnection(ctx context.Context, conn *websocket.Conn, token string, user *identity.User) {
	slog.Info("ws: client connected", "userId", user.ID, "username", user.Username)

	handle := h.hub.Attach(token, user.ID, &connSink{conn: conn})
	defer handle.Detach()

	// A reconnect re-attaches and reconciles from history; the stream
	// itself never replays.
	h.hub.Send(token, hub.Event{Type: hub.EventHistory, Payload: h.pipeline.History(user.ID)})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			slog.Debug("ws: read ended", "userId", user.ID, "error", err)
			return
		}

		var ev clientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("ws: invalid client event", "userId", user.ID, "error", err)
			continue
		}

		switch ev.Type {
		case "typing":
			h.hub.SendUserExcept(user.ID, token, hub.Event{
				Type: hub.EventPresence,
				Payload: PresencePayload{
					UserID:   user.ID,
					Username: user.Username,
					Active:   ev.Payload.Active,
				},
			})
		default:
			slog.Debug("ws: unknown client event type", "type", ev.Type)
		}
	}
}

// connSink adapts a websocket connection to the hub's Sink. The hub's
// per-client writer goroutine is the only caller, so writes never race.
type connSink struct {
	conn *websocket.Conn
}

func (s *connSink) Send(ctx context.Context, ev hub.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}
