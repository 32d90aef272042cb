package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/convoy/internal/chat"
	"github.com/mattjoyce/convoy/internal/events"
	"github.com/mattjoyce/convoy/internal/gate"
	"github.com/mattjoyce/convoy/internal/log"
)

// Deps are the collaborators shared by every handler.
type Deps struct {
	Sender chat.Sender
	State  StateStore
	Events events.Publisher
}

func (d Deps) withDefaults() Deps {
	if d.Events == nil {
		d.Events = events.Discard
	}
	return d
}

// WorkFunc is the body of one worker.
type WorkFunc func(ctx context.Context, c *Chat) error

// Handler is one plugin's state in one conversation. It owns the
// conversation's gate; no other handler shares it.
type Handler struct {
	conversation chat.ConversationID
	instance     Plugin
	env          Env
	deps         Deps
	gate         *gate.Gate
	logger       *slog.Logger

	wg sync.WaitGroup
}

func newHandler(conv chat.ConversationID, instance Plugin, env Env, deps Deps) *Handler {
	return &Handler{
		conversation: conv,
		instance:     instance,
		env:          env,
		deps:         deps.withDefaults(),
		gate:         gate.New(),
		logger:       log.WithConversation(env.Name, conv.String()),
	}
}

// Conversation returns the conversation this handler serves.
func (h *Handler) Conversation() chat.ConversationID { return h.conversation }

// Plugin returns the plugin instance.
func (h *Handler) Plugin() Plugin { return h.instance }

// Gate returns the conversation's isolation gate.
func (h *Handler) Gate() *gate.Gate { return h.gate }

// Dispatch spawns a worker that passes ev to the plugin.
func (h *Handler) Dispatch(ctx context.Context, ev chat.Event) {
	h.Spawn(ctx, func(ctx context.Context, c *Chat) error {
		return h.instance.HandleEvent(ctx, c, ev)
	})
}

// Spawn starts fn on its own worker and returns without waiting for it.
func (h *Handler) Spawn(ctx context.Context, fn WorkFunc) {
	h.wg.Add(1)
	go h.work(ctx, fn)
}

// Wait blocks until every worker spawned so far has returned.
func (h *Handler) Wait() { h.wg.Wait() }

func (h *Handler) work(ctx context.Context, fn WorkFunc) {
	defer h.wg.Done()

	id := uuid.NewString()
	logger := log.WithWorker(h.logger, id)
	data := events.WorkerData{
		WorkerID:     id,
		Plugin:       h.env.Name,
		Conversation: h.conversation.String(),
	}

	h.gate.Enter()
	defer h.gate.Exit()

	c := h.chatFor(id, logger)
	start := time.Now()
	logger.Debug("worker started")
	h.deps.Events.Publish(events.WorkerStarted, data)

	err := invoke(ctx, c, fn)
	data.DurationMS = time.Since(start).Milliseconds()

	switch {
	case err == nil:
		logger.Debug("worker finished", "duration_ms", data.DurationMS)
		h.deps.Events.Publish(events.WorkerFinished, data)
	case errors.Is(err, gate.ErrExclusivityDenied):
		logger.Info("unhandled exclusivity denial, replying")
		if rerr := c.Error(ctx, gate.DeniedReply); rerr != nil {
			logger.Error("failed to send denial reply", "error", rerr)
		}
		data.Error = err.Error()
		h.deps.Events.Publish(events.WorkerFinished, data)
	default:
		logger.Error("worker failed", "error", err, "duration_ms", data.DurationMS)
		data.Error = err.Error()
		h.deps.Events.Publish(events.WorkerFailed, data)
	}
}

// start and stop run the optional lifecycle hooks synchronously.
func (h *Handler) start(ctx context.Context) error {
	s, ok := h.instance.(Starter)
	if !ok {
		return nil
	}
	return invoke(ctx, h.chatFor("", h.logger), s.Start)
}

func (h *Handler) stop(ctx context.Context) error {
	s, ok := h.instance.(Stopper)
	if !ok {
		return nil
	}
	return invoke(ctx, h.chatFor("", h.logger), s.Stop)
}

func (h *Handler) chatFor(workerID string, logger *slog.Logger) *Chat {
	return &Chat{
		Replier:  chat.NewReplier(h.deps.Sender, h.conversation),
		env:      h.env,
		handler:  h,
		workerID: workerID,
		logger:   logger,
	}
}

// invoke calls fn and turns a panic into an error.
func invoke(ctx context.Context, c *Chat, fn WorkFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("plugin panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("plugin panic: %v", r)
		}
	}()
	return fn(ctx, c)
}
