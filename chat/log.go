package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one entry in a user's chat log. Visible only to its owning
// user.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Log is the append-only in-memory message log, one slice per user.
// Timestamps are monotonically non-decreasing within a user's log.
type Log struct {
	now func() time.Time

	mu       sync.RWMutex
	messages map[string][]Message
}

func NewLog() *Log {
	return &Log{
		now:      time.Now,
		messages: make(map[string][]Message),
	}
}

// Append records a message and returns it with its assigned id and
// timestamp.
func (l *Log) Append(userID string, sender Sender, text string) Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now()
	if entries := l.messages[userID]; len(entries) > 0 {
		if last := entries[len(entries)-1].Timestamp; ts.Before(last) {
			ts = last
		}
	}

	msg := Message{
		ID:        uuid.NewString(),
		UserID:    userID,
		Sender:    sender,
		Text:      text,
		Timestamp: ts,
	}
	l.messages[userID] = append(l.messages[userID], msg)
	return msg
}

// History returns a copy of the user's message log in append order.
func (l *Log) History(userID string) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.messages[userID]
	out := make([]Message, len(entries))
	copy(out, entries)
	return out
}
