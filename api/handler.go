// Package api implements the HTTP request/response surface of the chat
// relay.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nekochat/server/chat"
	"github.com/nekochat/server/identity"
	"github.com/nekochat/server/logger"
	"github.com/nekochat/server/middleware"
	"github.com/nekochat/server/reward"
	"github.com/nekochat/server/session"
)

// Sessions is the session-manager surface the API needs.
type Sessions interface {
	middleware.Verifier
	Create(userID string) (string, error)
	Revoke(token string)
}

type Handler struct {
	store    *identity.Store
	sessions Sessions
	ledger   *reward.Ledger
	pipeline *chat.Pipeline
}

func NewHandler(store *identity.Store, sessions Sessions, ledger *reward.Ledger, pipeline *chat.Pipeline) *Handler {
	return &Handler{
		store:    store,
		sessions: sessions,
		ledger:   ledger,
		pipeline: pipeline,
	}
}

// Routes assembles the API routes, wrapping the session-protected ones.
func (h *Handler) Routes(mux *http.ServeMux) {
	auth := middleware.Session(h.sessions)

	mux.HandleFunc("POST /api/register", h.HandleRegister)
	mux.HandleFunc("POST /api/login", h.HandleLogin)
	mux.HandleFunc("POST /api/logout", h.HandleLogout)
	mux.Handle("GET /api/me", auth(http.HandlerFunc(h.HandleMe)))
	mux.Handle("POST /api/chat", auth(http.HandlerFunc(h.HandleChat)))
	mux.Handle("GET /api/chats", auth(http.HandlerFunc(h.HandleChats)))
}

type userPayload struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	RewardBalance int    `json:"reward_balance"`
}

func (h *Handler) userPayload(user *identity.User) userPayload {
	return userPayload{
		ID:            user.ID,
		Username:      user.Username,
		RewardBalance: h.ledger.Get(user.ID),
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleRegister creates an account and, like login, issues a session token.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	log := logger.NewRequestLogger()

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.store.Register(req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrUsernameTaken),
			errors.Is(err, identity.ErrWeakCredential),
			errors.Is(err, identity.ErrEmptyUsername):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Error("register failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	token, err := h.sessions.Create(user.ID)
	if err != nil {
		log.Error("session create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	log.Info("user registered", "userId", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, map[string]any{
		"token": token,
		"user":  h.userPayload(user),
	})
}

// HandleLogin authenticates and issues a fresh session token. Concurrent
// sessions for the same user coexist.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	log := logger.NewRequestLogger()

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.store.Authenticate(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, identity.ErrInvalidCredential.Error())
		return
	}

	token, err := h.sessions.Create(user.ID)
	if err != nil {
		log.Error("session create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	log.Info("user logged in", "userId", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  h.userPayload(user),
	})
}

// HandleLogout revokes the presented token. Revoking an absent or already
// revoked token still succeeds.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.BearerToken(r); token != "" {
		h.sessions.Revoke(token)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// HandleMe reports the authenticated user and their current balance.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"user": h.userPayload(user)})
}

type chatRequest struct {
	Message string `json:"message"`
}

// HandleChat posts one message through the pipeline and returns the
// synchronous acknowledgement. The event stream carries the echo, typing
// and delivery events in parallel.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	log := logger.NewRequestLogger()
	token, _ := middleware.TokenFrom(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.pipeline.Post(r.Context(), token, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrMessageTooLong):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, session.ErrInvalidToken):
			writeError(w, http.StatusUnauthorized, "unauthorized")
		default:
			log.Error("chat post failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"response":     res.ResponseText,
		"reward":       res.RewardDelta,
		"total_reward": res.NewBalance,
	})
}

// HandleChats returns the user's chat history, oldest first. Reconnecting
// clients pull this instead of relying on stream replay.
func (h *Handler) HandleChats(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"chats": h.pipeline.History(user.ID)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
