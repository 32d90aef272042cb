package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/mattjoyce/convoy/internal/chat"
)

// Plugin handles events for one conversation. One instance is created per
// conversation it is enabled in; HandleEvent is called concurrently, once per
// worker.
type Plugin interface {
	HandleEvent(ctx context.Context, c *Chat, ev chat.Event) error
}

// Starter is implemented by plugins that need setup when enabled in a
// conversation or when the dispatcher starts.
type Starter interface {
	Start(ctx context.Context, c *Chat) error
}

// Stopper is implemented by plugins that need teardown when disabled in a
// conversation or when the dispatcher stops.
type Stopper interface {
	Stop(ctx context.Context, c *Chat) error
}

// ScheduledHandler is implemented by plugins that receive scheduled
// broadcasts. payload is the value returned by the definition's Collect.
type ScheduledHandler interface {
	HandleScheduled(ctx context.Context, c *Chat, payload any) error
}

// Env is the per-plugin environment shared by all of its conversations.
type Env struct {
	Name    string
	Config  map[string]any
	DataDir string
	Logger  *slog.Logger
}

// String returns a config value as a string, or def if it is missing.
func (e Env) String(key, def string) string {
	if v, ok := e.Config[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// Definition describes a compiled-in plugin.
type Definition struct {
	Name        string
	Description string

	// Testing plugins are only loaded when listed under testing_plugins.
	Testing bool

	// New builds the instance for one conversation.
	New func(env Env) (Plugin, error)

	// Collect, when set, runs once per scheduled fire; its result is passed
	// to every conversation's HandleScheduled.
	Collect func(ctx context.Context, env Env) (any, error)
}

func (d Definition) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("plugin name is empty")
	}
	if strings.ContainsAny(d.Name, " \t\n/") {
		return fmt.Errorf("plugin name %q contains whitespace or slash", d.Name)
	}
	if d.New == nil {
		return fmt.Errorf("plugin %q has no constructor", d.Name)
	}
	return nil
}

// Catalog holds plugin definitions indexed by name.
type Catalog struct {
	defs map[string]Definition
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{defs: make(map[string]Definition)}
}

// Register adds def to the catalog.
func (c *Catalog) Register(def Definition) error {
	if err := def.validate(); err != nil {
		return err
	}
	if _, exists := c.defs[def.Name]; exists {
		return fmt.Errorf("plugin %q already registered", def.Name)
	}
	c.defs[def.Name] = def
	return nil
}

// Get retrieves a definition by name.
func (c *Catalog) Get(name string) (Definition, bool) {
	d, ok := c.defs[name]
	return d, ok
}

// Names returns all registered names, sorted.
func (c *Catalog) Names() []string {
	return slices.Sorted(maps.Keys(c.defs))
}
