package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/mattjoyce/convoy/internal/chat"
	"github.com/mattjoyce/convoy/internal/events"
	"github.com/mattjoyce/convoy/internal/log"
)

// Router maps the conversations one plugin is enabled in to their handlers.
type Router struct {
	def    Definition
	env    Env
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	started  bool
	handlers map[chat.ConversationID]*Handler
}

// NewRouter prepares a router for def. dataRoot is the service data
// directory; the plugin gets <dataRoot>/plugin-<name>.
func NewRouter(def Definition, cfg map[string]any, dataRoot string, deps Deps) (*Router, error) {
	if err := def.validate(); err != nil {
		return nil, err
	}
	env := Env{
		Name:   def.Name,
		Config: cfg,
		Logger: log.WithPlugin(def.Name),
	}
	if env.Config == nil {
		env.Config = map[string]any{}
	}
	if dataRoot != "" {
		env.DataDir = filepath.Join(dataRoot, "plugin-"+def.Name)
	}
	return &Router{
		def:      def,
		env:      env,
		deps:     deps.withDefaults(),
		logger:   env.Logger,
		handlers: make(map[chat.ConversationID]*Handler),
	}, nil
}

// Name returns the plugin name.
func (r *Router) Name() string { return r.def.Name }

// Definition returns the plugin definition.
func (r *Router) Definition() Definition { return r.def }

// Enable creates the plugin's handler for conv. It reports false if the
// plugin was already enabled there.
func (r *Router) Enable(ctx context.Context, conv chat.ConversationID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[conv]; ok {
		return false, nil
	}
	instance, err := r.def.New(r.env)
	if err != nil {
		return false, fmt.Errorf("create plugin %q for %s: %w", r.def.Name, conv, err)
	}
	h := newHandler(conv, instance, r.env, r.deps)
	if r.started {
		if err := h.start(ctx); err != nil {
			return false, fmt.Errorf("start plugin %q for %s: %w", r.def.Name, conv, err)
		}
	}
	r.handlers[conv] = h
	r.deps.Events.Publish(events.PluginEnabled, events.PluginData{Plugin: r.def.Name, Conversation: conv.String()})
	return true, nil
}

// Disable removes the plugin's handler for conv. It reports false if the
// plugin was not enabled there. In-flight workers run to completion.
func (r *Router) Disable(ctx context.Context, conv chat.ConversationID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handlers[conv]
	if !ok {
		return false, nil
	}
	delete(r.handlers, conv)
	r.deps.Events.Publish(events.PluginDisabled, events.PluginData{Plugin: r.def.Name, Conversation: conv.String()})
	if r.started {
		if err := h.stop(ctx); err != nil {
			return true, fmt.Errorf("stop plugin %q for %s: %w", r.def.Name, conv, err)
		}
	}
	return true, nil
}

// Enabled reports whether the plugin is enabled for conv.
func (r *Router) Enabled(conv chat.ConversationID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[conv]
	return ok
}

// Handler returns the handler for conv.
func (r *Router) Handler(conv chat.ConversationID) (*Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[conv]
	return h, ok
}

// Route hands ev to the handler of its conversation. It reports false when
// the plugin is not enabled there.
func (r *Router) Route(ctx context.Context, ev chat.Event) bool {
	h, ok := r.Handler(ev.Conversation)
	if !ok {
		return false
	}
	h.Dispatch(ctx, ev)
	return true
}

// Collect runs the definition's Collect. It returns nil when the plugin has
// none.
func (r *Router) Collect(ctx context.Context) (any, error) {
	if r.def.Collect == nil {
		return nil, nil
	}
	return r.def.Collect(ctx, r.env)
}

// Broadcast spawns one worker per conversation whose instance implements
// ScheduledHandler and returns how many were spawned.
func (r *Router) Broadcast(ctx context.Context, payload any) int {
	n := 0
	for _, h := range r.snapshot() {
		sh, ok := h.instance.(ScheduledHandler)
		if !ok {
			continue
		}
		h.Spawn(ctx, func(ctx context.Context, c *Chat) error {
			return sh.HandleScheduled(ctx, c, payload)
		})
		n++
	}
	return n
}

// Start runs the Starter hook of every handler and marks the router started,
// so later enables run it immediately. Hook failures are logged.
func (r *Router) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	for conv, h := range r.handlers {
		if err := h.start(ctx); err != nil {
			r.logger.Error("plugin start hook failed", "conversation", conv.String(), "error", err)
		}
	}
}

// Stop runs the Stopper hook of every handler. It does not wait for workers.
func (r *Router) Stop(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	r.started = false
	for conv, h := range r.handlers {
		if err := h.stop(ctx); err != nil {
			r.logger.Error("plugin stop hook failed", "conversation", conv.String(), "error", err)
		}
	}
}

// Conversations lists the conversations the plugin is enabled in, sorted by
// their string key.
func (r *Router) Conversations() []chat.ConversationID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]chat.ConversationID, 0, len(r.handlers))
	for conv := range r.handlers {
		out = append(out, conv)
	}
	slices.SortFunc(out, func(a, b chat.ConversationID) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}

// Wait blocks until the workers of every current handler have returned.
func (r *Router) Wait() {
	for _, h := range r.snapshot() {
		h.Wait()
	}
}

func (r *Router) snapshot() []*Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	return out
}
