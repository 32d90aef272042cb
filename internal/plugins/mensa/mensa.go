// Package mensa posts the cafeteria menu to every conversation it is enabled
// in, once per scheduled fire. Sending "mensa" repeats the last menu.
package mensa

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mattjoyce/convoy/internal/chat"
	"github.com/mattjoyce/convoy/internal/plugin"
)

// Name is the plugin name used in config.
const Name = "mensa"

const (
	defaultURL     = "https://www.studentenwerkfrankfurt.de/essen-trinken/speiseplaene/cafeteria-darwins/"
	defaultPanelID = "c486"
)

// Definition returns the plugin definition. Config keys: url, panel_id.
func Definition() plugin.Definition {
	return plugin.Definition{
		Name:        Name,
		Description: "Daily cafeteria menu.",
		New: func(plugin.Env) (plugin.Plugin, error) {
			return mensa{}, nil
		},
		Collect: collect,
	}
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func collect(ctx context.Context, env plugin.Env) (any, error) {
	url := env.String("url", defaultURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch menu: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch menu: unexpected status %s", resp.Status)
	}
	menus, err := parseMenus(resp.Body, env.String("panel_id", defaultPanelID))
	if err != nil {
		return nil, err
	}
	env.Logger.Info("fetched menu", "dishes", len(menus))
	return menus, nil
}

type mensa struct{}

type chatState struct {
	Last string `json:"last,omitempty"`
}

func (mensa) HandleEvent(ctx context.Context, c *plugin.Chat, ev chat.Event) error {
	if ev.Text != "mensa" {
		return nil
	}
	var st chatState
	if err := c.State(ctx, &st); err != nil && !errors.Is(err, plugin.ErrNoState) {
		return err
	}
	if st.Last == "" {
		return c.Error(ctx, "No menu fetched yet.")
	}
	return c.Reply(ctx, st.Last)
}

func (mensa) HandleScheduled(ctx context.Context, c *plugin.Chat, payload any) error {
	menus, ok := payload.([]Menu)
	if !ok {
		return fmt.Errorf("unexpected payload %T", payload)
	}
	text := format(menus)
	if err := c.MergeState(ctx, chatState{Last: text}); err != nil && !errors.Is(err, plugin.ErrNoState) {
		c.Logger().Warn("failed to store menu", "error", err)
	}
	return c.Reply(ctx, text)
}

func format(menus []Menu) string {
	var b strings.Builder
	b.WriteString("Mensa today:\n\n")
	for _, m := range menus {
		fmt.Fprintf(&b, "%s %s\n%s\n\n", m.Name, m.Price, m.Desc)
	}
	return b.String()
}
