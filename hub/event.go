package hub

// Event is one structured notification pushed to a connected client.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Event types pushed over the stream.
const (
	// EventHistory carries the full chat log, sent once on attach.
	EventHistory = "history"
	// EventEcho reflects the sender's own message to all their sessions.
	EventEcho = "echo"
	// EventTyping signals that the assistant is composing a reply.
	EventTyping = "typing"
	// EventMessage carries the assistant's reply.
	EventMessage = "message"
	// EventReward announces a granted reward and the new balance.
	EventReward = "reward"
	// EventPresence relays typing activity between a user's own sessions.
	EventPresence = "presence"
)
