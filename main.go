package main

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nekochat/server/api"
	"github.com/nekochat/server/chat"
	"github.com/nekochat/server/config"
	"github.com/nekochat/server/hub"
	"github.com/nekochat/server/identity"
	"github.com/nekochat/server/logger"
	"github.com/nekochat/server/policy"
	"github.com/nekochat/server/reward"
	"github.com/nekochat/server/session"
	"github.com/nekochat/server/ws"
)

func newHandler(cfg *config.Config) http.Handler {
	store := identity.NewStore(cfg.MinPasswordLen)
	sessions := session.NewManager(store, []byte(cfg.SecretKey), cfg.SessionTTL)
	ledger := reward.NewLedger(cfg.MaxReward)
	broadcast := hub.New()
	neko := policy.NewNeko(cfg.RewardChance, rand.Uint64())

	pipeline := chat.NewPipeline(sessions, chat.NewLog(), ledger, broadcast, neko, chat.Options{
		ThinkDelayMin: cfg.ThinkDelayMin,
		ThinkDelayMax: cfg.ThinkDelayMax,
		MaxMessageLen: cfg.MaxMessageLen,
	})

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	api.NewHandler(store, sessions, ledger, pipeline).Routes(mux)

	// WebSocket event stream (handles its own auth via query param)
	mux.Handle("GET /ws", ws.NewHandler(sessions, broadcast, pipeline, cfg.DevMode))

	return mux
}

func main() {
	cfg := config.Load()
	logger.Init()

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: newHandler(cfg),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("server starting", "addr", cfg.Addr, "maxReward", cfg.MaxReward)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
}
