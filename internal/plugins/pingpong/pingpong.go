// Package pingpong answers "ping" with "pong".
package pingpong

import (
	"context"

	"github.com/mattjoyce/convoy/internal/chat"
	"github.com/mattjoyce/convoy/internal/plugin"
)

// Name is the plugin name used in config.
const Name = "pingpong"

// Definition returns the plugin definition.
func Definition() plugin.Definition {
	return plugin.Definition{
		Name:        Name,
		Description: `Replies "pong" to "ping".`,
		New: func(plugin.Env) (plugin.Plugin, error) {
			return pingPong{}, nil
		},
	}
}

type pingPong struct{}

func (pingPong) HandleEvent(ctx context.Context, c *plugin.Chat, ev chat.Event) error {
	if ev.Text != "ping" {
		return nil
	}
	return c.Reply(ctx, "pong")
}
