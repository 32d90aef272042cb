package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattjoyce/convoy/internal/chat"
	"github.com/mattjoyce/convoy/internal/events"
	"github.com/mattjoyce/convoy/internal/gate"
)

// ErrNoState is returned by the state accessors when no store is configured.
var ErrNoState = errors.New("plugin state store not configured")

// StateStore persists one JSON object per (plugin, conversation).
type StateStore interface {
	Get(ctx context.Context, plugin, conversation string) (json.RawMessage, error)
	ShallowMerge(ctx context.Context, plugin, conversation string, updates json.RawMessage) (json.RawMessage, error)
}

// Chat is what a worker sees of its conversation: reply helpers, the
// conversation's gate, and per-conversation storage.
type Chat struct {
	chat.Replier

	env      Env
	handler  *Handler
	workerID string
	logger   *slog.Logger
}

// Plugin returns the plugin name.
func (c *Chat) Plugin() string { return c.env.Name }

// WorkerID identifies the worker this Chat was built for.
func (c *Chat) WorkerID() string { return c.workerID }

// Logger returns a logger tagged with plugin, conversation and worker.
func (c *Chat) Logger() *slog.Logger { return c.logger }

// Env returns the plugin environment.
func (c *Chat) Env() Env { return c.env }

// Gate returns the conversation's isolation gate.
func (c *Chat) Gate() *gate.Gate { return c.handler.gate }

// Exclusive runs fn with the conversation to itself. It returns
// gate.ErrExclusivityDenied without running fn if another worker holds or is
// acquiring exclusivity.
func (c *Chat) Exclusive(fn func() error) error {
	data := events.GateData{
		WorkerID:     c.workerID,
		Plugin:       c.env.Name,
		Conversation: c.Conversation().String(),
	}
	s, err := c.handler.gate.TryEnterExclusive()
	if err != nil {
		c.logger.Debug("exclusive access denied")
		c.handler.deps.Events.Publish(events.GateDenied, data)
		return err
	}
	c.logger.Debug("exclusive access acquired")
	c.handler.deps.Events.Publish(events.GateAcquired, data)
	defer func() {
		s.Release()
		c.handler.deps.Events.Publish(events.GateReleased, data)
	}()
	return fn()
}

// DataDir returns this conversation's private directory, creating it on first
// use.
func (c *Chat) DataDir() (string, error) {
	if c.env.DataDir == "" {
		return "", fmt.Errorf("plugin %q has no data directory", c.env.Name)
	}
	dir := filepath.Join(c.env.DataDir, "chats", c.Conversation().PathKey())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create chat data dir: %w", err)
	}
	return dir, nil
}

// State decodes this conversation's stored state into v.
func (c *Chat) State(ctx context.Context, v any) error {
	if c.handler.deps.State == nil {
		return ErrNoState
	}
	raw, err := c.handler.deps.State.Get(ctx, c.env.Name, c.Conversation().String())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode plugin state: %w", err)
	}
	return nil
}

// MergeState shallow-merges the top-level fields of updates into this
// conversation's stored state.
func (c *Chat) MergeState(ctx context.Context, updates any) error {
	if c.handler.deps.State == nil {
		return ErrNoState
	}
	raw, err := json.Marshal(updates)
	if err != nil {
		return fmt.Errorf("encode plugin state: %w", err)
	}
	_, err = c.handler.deps.State.ShallowMerge(ctx, c.env.Name, c.Conversation().String(), raw)
	return err
}
