package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/mattjoyce/convoy/internal/chat"
	"github.com/mattjoyce/convoy/internal/config"
	"github.com/mattjoyce/convoy/internal/dedupe"
	"github.com/mattjoyce/convoy/internal/events"
	"github.com/mattjoyce/convoy/internal/log"
	"github.com/mattjoyce/convoy/internal/plugin"
	"github.com/mattjoyce/convoy/internal/state"
)

// State is the dispatcher lifecycle state.
type State int

const (
	NotStarted State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNotRunning is returned for events delivered outside Running.
	ErrNotRunning = errors.New("dispatcher is not running")
	// ErrTransportClosed is returned by Run when the event stream ends
	// before ctx is done.
	ErrTransportClosed = errors.New("transport closed")
)

// Source delivers inbound events.
type Source interface {
	Receive(ctx context.Context) (<-chan chat.Event, error)
}

// Options are the dispatcher's collaborators. Config, Catalog and Sender are
// required.
type Options struct {
	Config  *config.Config
	Catalog *plugin.Catalog
	Sender  chat.Sender

	// Store persists enable/disable. Defaults to an in-memory store seeded
	// from Config.Enabled.
	Store *config.Store
	// State backs per-conversation plugin state. Optional.
	State plugin.StateStore
	// Messages records inbound and outbound traffic. Optional.
	Messages *state.MessageLog
	// Events receives dispatch, worker and gate events. Optional.
	Events events.Publisher
}

// Dispatcher maps inbound events to the plugin handlers enabled for their
// conversation.
type Dispatcher struct {
	cfg      *config.Config
	store    *config.Store
	sender   chat.Sender
	messages *state.MessageLog
	events   events.Publisher
	dedupe   *dedupe.Cache
	logger   *slog.Logger

	// order is the loaded plugin order; routers is keyed by name.
	order   []string
	routers map[string]*plugin.Router

	// mu guards state and serializes admin commands against each other and
	// against lifecycle transitions.
	mu    sync.Mutex
	state State

	// work is the context workers run on. It outlives whatever call
	// delivered their event and ends at Stop.
	work       context.Context
	cancelWork context.CancelFunc
}

// New builds the routers for every loaded plugin and applies the persisted
// enable map. No hooks run until Start.
func New(ctx context.Context, opts Options) (*Dispatcher, error) {
	if opts.Config == nil || opts.Catalog == nil || opts.Sender == nil {
		return nil, fmt.Errorf("dispatch: config, catalog and sender are required")
	}
	cfg := opts.Config

	d := &Dispatcher{
		cfg:      cfg,
		store:    opts.Store,
		messages: opts.Messages,
		events:   opts.Events,
		dedupe:   dedupe.New(cfg.Service.DedupeTTL, 0),
		logger:   log.WithComponent("dispatch"),
		routers:  make(map[string]*plugin.Router),
	}
	d.work, d.cancelWork = context.WithCancel(context.WithoutCancel(ctx))
	if d.events == nil {
		d.events = events.Discard
	}
	if d.store == nil {
		d.store = config.NewStore("", cfg.Enabled)
	}
	d.sender = &loggingSender{next: opts.Sender, log: d.messages, logger: d.logger}

	deps := plugin.Deps{Sender: d.sender, State: opts.State, Events: d.events}
	testingOnly := make(map[string]bool, len(cfg.TestingPlugins))
	for _, name := range cfg.TestingPlugins {
		testingOnly[name] = true
	}
	for _, name := range cfg.Loaded() {
		def, ok := opts.Catalog.Get(name)
		if !ok {
			return nil, fmt.Errorf("plugin %q is not built in", name)
		}
		if def.Testing && !testingOnly[name] {
			return nil, fmt.Errorf("plugin %q is a testing plugin; list it under testing_plugins", name)
		}
		r, err := plugin.NewRouter(def, cfg.PluginConfig[name], cfg.DataDir, deps)
		if err != nil {
			return nil, err
		}
		d.order = append(d.order, name)
		d.routers[name] = r
	}

	for key, plugins := range d.store.Snapshot() {
		conv, err := chat.ParseConversationID(key)
		if err != nil {
			return nil, fmt.Errorf("enabled: %w", err)
		}
		for _, name := range plugins {
			r, ok := d.routers[name]
			if !ok {
				return nil, fmt.Errorf("enabled[%s]: plugin %q not loaded", key, name)
			}
			if _, err := r.Enable(ctx, conv); err != nil {
				return nil, err
			}
		}
	}
	return d, nil
}

// State returns the lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Start runs every plugin's start hooks, moves to Running and, when
// configured, greets every master.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.state != NotStarted {
		s := d.state
		d.mu.Unlock()
		return fmt.Errorf("dispatch: cannot start from %s", s)
	}
	for _, name := range d.order {
		d.routers[name].Start(ctx)
	}
	d.state = Running
	d.mu.Unlock()

	d.logger.Info("dispatcher started", "plugins", d.order, "conversations", len(d.store.Conversations()))
	d.events.Publish(events.DispatchStarted, map[string]any{"plugins": d.order})

	if d.cfg.Service.StartupNotification {
		for _, master := range d.cfg.Masters {
			r := chat.NewReplier(d.sender, chat.NewDirect(master))
			if err := r.Success(ctx, "Always at your service!"); err != nil {
				d.logger.Warn("startup notification failed", "master", master, "error", err)
			}
		}
	}
	return nil
}

// Stop runs every plugin's stop hooks, cancels the context in-flight workers
// run on and moves to Stopped. It does not wait for workers; use Wait for that.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	if d.state == Stopped {
		d.mu.Unlock()
		return
	}
	wasRunning := d.state == Running
	d.state = Stopped
	if wasRunning {
		for _, name := range d.order {
			d.routers[name].Stop(ctx)
		}
	}
	d.mu.Unlock()

	d.cancelWork()
	d.dedupe.Close()
	d.logger.Info("dispatcher stopped")
	d.events.Publish(events.DispatchStopped, nil)
}

// Wait blocks until every worker spawned so far has returned.
func (d *Dispatcher) Wait() {
	for _, name := range d.order {
		d.routers[name].Wait()
	}
}

// Run starts the dispatcher if needed and feeds it events from src until ctx
// is done or the stream ends. The dispatcher is stopped on return.
func (d *Dispatcher) Run(ctx context.Context, src Source) error {
	if d.State() == NotStarted {
		if err := d.Start(ctx); err != nil {
			return err
		}
	}
	defer d.Stop(context.WithoutCancel(ctx))

	stream, err := src.Receive(ctx)
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-stream:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrTransportClosed
			}
			if err := d.HandleInbound(ctx, ev); err != nil {
				d.logger.Error("inbound event failed", "conversation", ev.Conversation.String(), "error", err)
			}
		}
	}
}

// HandleInbound intercepts admin commands and routes everything else to the
// plugins enabled for the event's conversation.
func (d *Dispatcher) HandleInbound(ctx context.Context, ev chat.Event) error {
	if d.State() != Running {
		return ErrNotRunning
	}
	if ev.Conversation.IsZero() {
		return fmt.Errorf("event has no conversation")
	}
	conv := ev.Conversation.String()

	if d.dedupe.Seen(ev) {
		d.logger.Debug("dropping duplicate event", "conversation", conv, "sender", ev.Sender)
		d.events.Publish(events.DispatchDuplicate, events.InboundData{Conversation: conv, Sender: ev.Sender})
		return nil
	}
	d.record(ctx, state.Entry{
		Conversation: conv,
		Direction:    state.Inbound,
		Sender:       ev.Sender,
		Text:         ev.Text,
		Attachments:  ev.AttachmentPaths,
		SentAt:       ev.Timestamp,
	})

	if prefix := d.cfg.Service.CommandPrefix; strings.HasPrefix(ev.Text, prefix) {
		command := strings.TrimPrefix(ev.Text, prefix)
		d.events.Publish(events.DispatchCommand, events.InboundData{Conversation: conv, Sender: ev.Sender, Command: firstField(command)})
		return d.handleCommand(ctx, ev, command)
	}

	var routed []string
	for _, name := range d.order {
		if d.routers[name].Route(d.work, ev) {
			routed = append(routed, name)
		}
	}
	if len(routed) > 0 {
		d.logger.Debug("routed event", "conversation", conv, "plugins", routed)
		d.events.Publish(events.DispatchInbound, events.InboundData{Conversation: conv, Sender: ev.Sender, Plugins: routed})
	}
	return nil
}

// Enabled lists the plugins enabled for conv in the order they were enabled.
func (d *Dispatcher) Enabled(conv chat.ConversationID) []string {
	return d.store.Enabled(conv.String())
}

// Available lists every loaded plugin.
func (d *Dispatcher) Available() []string {
	return slices.Clone(d.order)
}

// Conversations lists the conversations with at least one plugin enabled.
func (d *Dispatcher) Conversations() []string {
	return d.store.Conversations()
}

// PluginStatus describes one loaded plugin.
type PluginStatus struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Testing       bool     `json:"testing"`
	Conversations []string `json:"conversations"`
}

// Plugins reports every loaded plugin with the conversations it is enabled
// in.
func (d *Dispatcher) Plugins() []PluginStatus {
	out := make([]PluginStatus, 0, len(d.order))
	for _, name := range d.order {
		r := d.routers[name]
		st := PluginStatus{
			Name:          name,
			Description:   r.Definition().Description,
			Testing:       r.Definition().Testing,
			Conversations: []string{},
		}
		for _, conv := range r.Conversations() {
			st.Conversations = append(st.Conversations, conv.String())
		}
		out = append(out, st)
	}
	return out
}

// Router returns the router of a loaded plugin.
func (d *Dispatcher) Router(name string) (*plugin.Router, bool) {
	r, ok := d.routers[name]
	return r, ok
}

// Broadcast runs the plugin's Collect once and hands the result to every
// conversation it is enabled in. It returns the number of workers spawned.
func (d *Dispatcher) Broadcast(ctx context.Context, name string) (int, error) {
	if d.State() != Running {
		return 0, ErrNotRunning
	}
	r, ok := d.routers[name]
	if !ok {
		return 0, fmt.Errorf("plugin %q not loaded", name)
	}
	payload, err := r.Collect(ctx)
	if err != nil {
		return 0, fmt.Errorf("collect %s: %w", name, err)
	}
	n := r.Broadcast(d.work, payload)
	d.logger.Info("scheduled broadcast", "plugin", name, "conversations", n)
	d.events.Publish(events.ScheduleFired, map[string]any{"plugin": name, "conversations": n})
	return n, nil
}

func (d *Dispatcher) record(ctx context.Context, e state.Entry) {
	if d.messages == nil {
		return
	}
	if _, err := d.messages.Append(ctx, e); err != nil {
		d.logger.Warn("failed to record message", "conversation", e.Conversation, "error", err)
	}
}

func firstField(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}
