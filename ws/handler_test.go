package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nekochat/server/chat"
	"github.com/nekochat/server/hub"
	"github.com/nekochat/server/identity"
	"github.com/nekochat/server/policy"
	"github.com/nekochat/server/reward"
	"github.com/nekochat/server/session"
)

type fixedPolicy struct {
	text   string
	reward int
}

func (p fixedPolicy) Respond(string, int) policy.Decision {
	return policy.Decision{Text: p.text, Reward: p.reward}
}

type testEnv struct {
	t        *testing.T
	store    *identity.Store
	sessions *session.Manager
	hub      *hub.Hub
	pipeline *chat.Pipeline
	server   *httptest.Server
	ctx      context.Context
}

func newTestEnv(t *testing.T, pol policy.Policy) *testEnv {
	t.Helper()

	store := identity.NewStore(6)
	sessions := session.NewManager(store, []byte("test-secret"), time.Hour)
	ledger := reward.NewLedger(1200)
	broadcast := hub.New()
	pipeline := chat.NewPipeline(sessions, chat.NewLog(), ledger, broadcast, pol, chat.Options{
		ThinkDelayMin: time.Millisecond,
		ThinkDelayMax: 2 * time.Millisecond,
		MaxMessageLen: 500,
	})

	server := httptest.NewServer(NewHandler(sessions, broadcast, pipeline, true))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(func() {
		cancel()
		server.Close()
	})

	return &testEnv{
		t:        t,
		store:    store,
		sessions: sessions,
		hub:      broadcast,
		pipeline: pipeline,
		server:   server,
		ctx:      ctx,
	}
}

func (e *testEnv) newSession(username string) (string, *identity.User) {
	e.t.Helper()
	u, err := e.store.Register(username, "secret1")
	if err != nil {
		// Already registered in this test; log in again.
		u, err = e.store.Authenticate(username, "secret1")
		require.NoError(e.t, err)
	}
	token, err := e.sessions.Create(u.ID)
	require.NoError(e.t, err)
	return token, u
}

func (e *testEnv) dial(token string) *websocket.Conn {
	e.t.Helper()
	wsURL := "ws" + strings.TrimPrefix(e.server.URL, "http") + "?token=" + token
	conn, _, err := websocket.Dial(e.ctx, wsURL, nil)
	require.NoError(e.t, err)
	e.t.Cleanup(func() {
		conn.Close(websocket.StatusNormalClosure, "")
	})
	return conn
}

type serverEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (e *testEnv) read(conn *websocket.Conn) serverEvent {
	e.t.Helper()
	_, data, err := conn.Read(e.ctx)
	require.NoError(e.t, err)
	var ev serverEvent
	require.NoError(e.t, json.Unmarshal(data, &ev))
	return ev
}

func TestHandler_MissingToken(t *testing.T) {
	env := newTestEnv(t, fixedPolicy{text: "hi"})

	resp, err := http.Get(env.server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_InvalidToken(t *testing.T) {
	env := newTestEnv(t, fixedPolicy{text: "hi"})

	resp, err := http.Get(env.server.URL + "?token=garbage")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_HistoryOnConnect(t *testing.T) {
	env := newTestEnv(t, fixedPolicy{text: "reply"})
	token, _ := env.newSession("bob")

	conn := env.dial(token)
	ev := env.read(conn)
	require.Equal(t, hub.EventHistory, ev.Type)

	var history []chat.Message
	require.NoError(t, json.Unmarshal(ev.Payload, &history))
	assert.Empty(t, history)
}

func TestHandler_EventOrderForPost(t *testing.T) {
	env := newTestEnv(t, fixedPolicy{text: "nice", reward: 100})
	token, _ := env.newSession("bob")

	conn := env.dial(token)
	require.Equal(t, hub.EventHistory, env.read(conn).Type)

	_, err := env.pipeline.Post(context.Background(), token, "halo")
	require.NoError(t, err)

	assert.Equal(t, hub.EventEcho, env.read(conn).Type)
	assert.Equal(t, hub.EventTyping, env.read(conn).Type)

	msgEv := env.read(conn)
	require.Equal(t, hub.EventMessage, msgEv.Type)
	var msg chat.Message
	require.NoError(t, json.Unmarshal(msgEv.Payload, &msg))
	assert.Equal(t, chat.SenderAssistant, msg.Sender)
	assert.Equal(t, "nice", msg.Text)

	rewardEv := env.read(conn)
	require.Equal(t, hub.EventReward, rewardEv.Type)
	var payload chat.RewardPayload
	require.NoError(t, json.Unmarshal(rewardEv.Payload, &payload))
	assert.Equal(t, 100, payload.Granted)
	assert.Equal(t, 100, payload.Balance)
}

func TestHandler_ReconnectReceivesHistory(t *testing.T) {
	env := newTestEnv(t, fixedPolicy{text: "reply"})
	token, _ := env.newSession("bob")

	// Post while disconnected; no events are queued for absent sinks.
	_, err := env.pipeline.Post(context.Background(), token, "halo")
	require.NoError(t, err)

	conn := env.dial(token)
	ev := env.read(conn)
	require.Equal(t, hub.EventHistory, ev.Type)

	var history []chat.Message
	require.NoError(t, json.Unmarshal(ev.Payload, &history))
	require.Len(t, history, 2)
	assert.Equal(t, "halo", history[0].Text)
	assert.Equal(t, "reply", history[1].Text)
}

func TestHandler_ReconnectWhileOpenKeepsNewSink(t *testing.T) {
	env := newTestEnv(t, fixedPolicy{text: "reply"})
	token, _ := env.newSession("bob")

	conn1 := env.dial(token)
	require.Equal(t, hub.EventHistory, env.read(conn1).Type)

	// Reopening with the same token replaces the first sink in place.
	conn2 := env.dial(token)
	require.Equal(t, hub.EventHistory, env.read(conn2).Type)
	require.Equal(t, 1, env.hub.Count())

	// The stale connection's teardown must leave the replacement attached.
	conn1.Close(websocket.StatusNormalClosure, "")
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 1, env.hub.Count())

	_, err := env.pipeline.Post(context.Background(), token, "halo")
	require.NoError(t, err)

	assert.Equal(t, hub.EventEcho, env.read(conn2).Type)
	assert.Equal(t, hub.EventTyping, env.read(conn2).Type)
	assert.Equal(t, hub.EventMessage, env.read(conn2).Type)
}

func TestHandler_TypingRelayedToOtherSessions(t *testing.T) {
	env := newTestEnv(t, fixedPolicy{text: "reply"})
	token1, user := env.newSession("bob")
	token2, err := env.sessions.Create(user.ID)
	require.NoError(t, err)

	conn1 := env.dial(token1)
	conn2 := env.dial(token2)
	require.Equal(t, hub.EventHistory, env.read(conn1).Type)
	require.Equal(t, hub.EventHistory, env.read(conn2).Type)

	data, _ := json.Marshal(map[string]any{
		"type":    "typing",
		"payload": map[string]bool{"active": true},
	})
	require.NoError(t, conn1.Write(env.ctx, websocket.MessageText, data))

	ev := env.read(conn2)
	require.Equal(t, hub.EventPresence, ev.Type)
	var presence PresencePayload
	require.NoError(t, json.Unmarshal(ev.Payload, &presence))
	assert.Equal(t, user.ID, presence.UserID)
	assert.Equal(t, "bob", presence.Username)
	assert.True(t, presence.Active)
}

func TestHandler_BothSessionsSeeChatEvents(t *testing.T) {
	env := newTestEnv(t, fixedPolicy{text: "seen twice"})
	token1, user := env.newSession("bob")
	token2, err := env.sessions.Create(user.ID)
	require.NoError(t, err)

	conn1 := env.dial(token1)
	conn2 := env.dial(token2)
	require.Equal(t, hub.EventHistory, env.read(conn1).Type)
	require.Equal(t, hub.EventHistory, env.read(conn2).Type)

	_, err = env.pipeline.Post(context.Background(), token1, "halo")
	require.NoError(t, err)

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		assert.Equal(t, hub.EventEcho, env.read(conn).Type)
		assert.Equal(t, hub.EventTyping, env.read(conn).Type)
		assert.Equal(t, hub.EventMessage, env.read(conn).Type)
	}
}

func TestHandler_DisconnectDetachesSink(t *testing.T) {
	env := newTestEnv(t, fixedPolicy{text: "reply"})
	token, _ := env.newSession("bob")

	conn := env.dial(token)
	require.Equal(t, hub.EventHistory, env.read(conn).Type)
	require.Equal(t, 1, env.hub.Count())

	conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return env.hub.Count() == 0
	}, 5*time.Second, 10*time.Millisecond)

	// Posting after disconnect still commits.
	_, err := env.pipeline.Post(context.Background(), token, "still here")
	require.NoError(t, err)
	assert.Len(t, env.pipeline.History(env.mustUserID(token)), 2)
}

func (e *testEnv) mustUserID(token string) string {
	e.t.Helper()
	user, err := e.sessions.Verify(token)
	require.NoError(e.t, err)
	return user.ID
}
