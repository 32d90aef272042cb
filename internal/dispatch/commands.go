package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattjoyce/convoy/internal/chat"
)

const helpText = `Available commands:
%[1]shelp
%[1]senable plugin [plugin ...]
%[1]sdisable plugin [plugin ...]
%[1]slist-enabled
%[1]slist-available
`

// handleCommand runs one admin command and sends exactly one reply.
func (d *Dispatcher) handleCommand(ctx context.Context, ev chat.Event, command string) error {
	r := chat.NewReplier(d.sender, ev.Conversation)
	logger := d.logger.With("conversation", ev.Conversation.String(), "sender", ev.Sender)

	if !d.cfg.Masters.Contains(ev.Sender) {
		logger.Warn("admin command from non-master", "command", firstField(command))
		return r.Error(ctx, "You are not my master.")
	}

	fields := strings.Fields(command)
	if len(fields) == 0 {
		return r.Error(ctx, "Invalid command.")
	}
	name, params := fields[0], fields[1:]
	logger.Info("admin command", "command", name, "params", params)

	d.mu.Lock()
	defer d.mu.Unlock()

	switch name {
	case "help":
		return r.Reply(ctx, fmt.Sprintf(helpText, d.cfg.Service.CommandPrefix))
	case "enable":
		if len(params) == 0 {
			return r.Error(ctx, "Usage: "+d.cfg.Service.CommandPrefix+"enable plugin [plugin ...]")
		}
		return r.Reply(ctx, d.enable(ctx, ev.Conversation, params))
	case "disable":
		if len(params) == 0 {
			return r.Error(ctx, "Usage: "+d.cfg.Service.CommandPrefix+"disable plugin [plugin ...]")
		}
		return r.Reply(ctx, d.disable(ctx, ev.Conversation, params))
	case "list-enabled":
		return r.Reply(ctx, listing("Enabled plugins:", d.Enabled(ev.Conversation)))
	case "list-available":
		return r.Reply(ctx, listing("Available plugins:", d.Available()))
	default:
		return r.Error(ctx, "Invalid command.")
	}
}

// enable returns one result line per plugin, each carrying its own glyph.
func (d *Dispatcher) enable(ctx context.Context, conv chat.ConversationID, plugins []string) string {
	key := conv.String()
	var lines []string
	changed := false
	for _, p := range plugins {
		r, ok := d.routers[p]
		if !ok {
			lines = append(lines, "Plugin "+p+" not loaded"+chat.ErrorGlyph)
			continue
		}
		if r.Enabled(conv) {
			lines = append(lines, "Plugin "+p+" is already enabled.")
			continue
		}
		if _, err := r.Enable(ctx, conv); err != nil {
			d.logger.Error("enable failed", "plugin", p, "conversation", key, "error", err)
			lines = append(lines, "Plugin "+p+" could not be enabled."+chat.ErrorGlyph)
			continue
		}
		d.store.Enable(key, p)
		changed = true
		lines = append(lines, "Plugin "+p+" enabled."+chat.SuccessGlyph)
	}
	return d.finish(lines, changed)
}

func (d *Dispatcher) disable(ctx context.Context, conv chat.ConversationID, plugins []string) string {
	key := conv.String()
	var lines []string
	changed := false
	for _, p := range plugins {
		r, ok := d.routers[p]
		if !ok || !r.Enabled(conv) {
			lines = append(lines, "Plugin "+p+" is already disabled.")
			continue
		}
		if _, err := r.Disable(ctx, conv); err != nil {
			// The handler is gone either way; only the stop hook failed.
			d.logger.Error("plugin stop hook failed", "plugin", p, "conversation", key, "error", err)
		}
		d.store.Disable(key, p)
		changed = true
		lines = append(lines, "Plugin "+p+" disabled."+chat.SuccessGlyph)
	}
	return d.finish(lines, changed)
}

func (d *Dispatcher) finish(lines []string, changed bool) string {
	if changed {
		if err := d.store.Save(); err != nil {
			d.logger.Error("failed to save config", "path", d.store.Path(), "error", err)
			lines = append(lines, "Could not save the config file."+chat.ErrorGlyph)
		}
	}
	return strings.Join(lines, "\n")
}

func listing(header string, items []string) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	for _, it := range items {
		b.WriteString(it)
		b.WriteString("\n")
	}
	return b.String()
}
