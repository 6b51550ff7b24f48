// Package chat orchestrates the message pipeline: validate, store, echo,
// typing indicator, delayed policy response, reward grant, delivery.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/nekochat/server/hub"
	"github.com/nekochat/server/identity"
	"github.com/nekochat/server/logger"
	"github.com/nekochat/server/policy"
	"github.com/nekochat/server/reward"
)

var (
	ErrEmptyMessage   = errors.New("message must not be empty")
	ErrMessageTooLong = errors.New("message too long")
)

// promptLogMaxLen limits message length in logs for privacy.
const promptLogMaxLen = 50

// TokenVerifier resolves a session token to its owning user.
type TokenVerifier interface {
	Verify(token string) (*identity.User, error)
}

// Result is the synchronous acknowledgement for one posted message. The
// richer event stream carries the echo/typing/message/reward events in
// parallel.
type Result struct {
	ResponseText string
	RewardDelta  int
	NewBalance   int
}

// RewardPayload is the payload of a reward event.
type RewardPayload struct {
	Granted int `json:"granted"`
	Balance int `json:"balance"`
}

// Options tunes the pipeline.
type Options struct {
	ThinkDelayMin time.Duration
	ThinkDelayMax time.Duration
	MaxMessageLen int
	// RunnerIdleTimeout controls when an idle per-token runner is reaped.
	// Zero means a sensible default.
	RunnerIdleTimeout time.Duration
}

const defaultRunnerIdleTimeout = time.Minute

// Pipeline processes user messages strictly sequentially per session token
// while keeping unrelated tokens independent.
type Pipeline struct {
	sessions TokenVerifier
	log      *Log
	ledger   *reward.Ledger
	hub      *hub.Hub
	policy   policy.Policy
	opts     Options
	dispatch *dispatcher
}

func NewPipeline(sessions TokenVerifier, log *Log, ledger *reward.Ledger, h *hub.Hub, pol policy.Policy, opts Options) *Pipeline {
	if opts.RunnerIdleTimeout <= 0 {
		opts.RunnerIdleTimeout = defaultRunnerIdleTimeout
	}
	return &Pipeline{
		sessions: sessions,
		log:      log,
		ledger:   ledger,
		hub:      h,
		policy:   pol,
		opts:     opts,
		dispatch: newDispatcher(opts.RunnerIdleTimeout),
	}
}

// Post validates and processes one user message. Validation failures leave
// no side effects. Once processing starts it always runs to completion:
// cancelling ctx abandons the wait for the acknowledgement, never the
// message-log or ledger effects.
func (p *Pipeline) Post(ctx context.Context, token, text string) (Result, error) {
	user, err := p.sessions.Verify(token)
	if err != nil {
		return Result{}, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrEmptyMessage
	}
	if p.opts.MaxMessageLen > 0 && len(text) > p.opts.MaxMessageLen {
		return Result{}, ErrMessageTooLong
	}

	// Buffered so the runner never blocks on an abandoned caller.
	done := make(chan Result, 1)
	p.dispatch.enqueue(token, func() {
		done <- p.process(user, text)
	})

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// process runs steps Stored through Delivered for one message. It executes
// on the token's runner, so a second message from the same token cannot
// interleave its events with this one's.
func (p *Pipeline) process(user *identity.User, text string) Result {
	msg := p.log.Append(user.ID, SenderUser, text)
	p.hub.SendUser(user.ID, hub.Event{Type: hub.EventEcho, Payload: msg})
	p.hub.SendUser(user.ID, hub.Event{Type: hub.EventTyping})

	// Think-time: the runner goroutine parks on the timer; no thread is
	// held and other tokens keep flowing.
	p.wait(p.thinkDelay())

	decision := p.policy.Respond(text, p.ledger.Get(user.ID))

	balance := p.ledger.Get(user.ID)
	if decision.Reward > 0 {
		newBalance, err := p.ledger.Add(user.ID, decision.Reward)
		if err != nil {
			slog.Error("pipeline: reward grant rejected", "userId", user.ID, "delta", decision.Reward, "error", err)
		} else {
			balance = newBalance
		}
	}

	reply := p.log.Append(user.ID, SenderAssistant, decision.Text)
	p.hub.SendUser(user.ID, hub.Event{Type: hub.EventMessage, Payload: reply})
	if decision.Reward > 0 {
		p.hub.SendUser(user.ID, hub.Event{
			Type:    hub.EventReward,
			Payload: RewardPayload{Granted: decision.Reward, Balance: balance},
		})
	}

	slog.Debug("pipeline: message processed",
		"userId", user.ID,
		"text", logger.Truncate(text, promptLogMaxLen),
		"reward", decision.Reward)

	return Result{ResponseText: decision.Text, RewardDelta: decision.Reward, NewBalance: balance}
}

func (p *Pipeline) thinkDelay() time.Duration {
	d := p.opts.ThinkDelayMin
	if span := p.opts.ThinkDelayMax - p.opts.ThinkDelayMin; span > 0 {
		d += rand.N(span)
	}
	return d
}

func (p *Pipeline) wait(d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	<-t.C
}

// History returns the user's chat log.
func (p *Pipeline) History(userID string) []Message {
	return p.log.History(userID)
}
