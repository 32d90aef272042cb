// Package locktest exercises the isolation gate from chat. It is a testing
// plugin and only loads from testing_plugins.
//
// Commands (the unit defaults to one second, see the "unit" config key):
//
//	backup      wait 0.3 units, take the lock, hold it for one unit
//	backup_A    wait 0.3 units, take the lock, hold it for one unit
//	backup_B    same after 0.6 units
//	backup_C    same after 0.9 units, replying with its own text on denial
//	anything    reply "start pong", wait one unit, reply "pong"
package locktest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/convoy/internal/chat"
	"github.com/mattjoyce/convoy/internal/gate"
	"github.com/mattjoyce/convoy/internal/plugin"
)

// Name is the plugin name used in config.
const Name = "locktest"

// CustomDenial is the reply of backup_C when the lock is taken.
const CustomDenial = "We want to do our own handling if we cannot get the exclusive lock."

// Definition returns the plugin definition.
func Definition() plugin.Definition {
	return plugin.Definition{
		Name:        Name,
		Description: "Isolation gate test commands.",
		Testing:     true,
		New: func(env plugin.Env) (plugin.Plugin, error) {
			unit, err := time.ParseDuration(env.String("unit", "1s"))
			if err != nil {
				return nil, fmt.Errorf("locktest unit: %w", err)
			}
			if unit <= 0 {
				return nil, fmt.Errorf("locktest unit must be positive")
			}
			return &lockTest{unit: unit}, nil
		},
	}
}

type lockTest struct {
	unit time.Duration
}

func (p *lockTest) scaled(f float64) time.Duration {
	return time.Duration(f * float64(p.unit))
}

func (p *lockTest) HandleEvent(ctx context.Context, c *plugin.Chat, ev chat.Event) error {
	switch ev.Text {
	case "backup":
		time.Sleep(p.scaled(0.3))
		if err := c.Reply(ctx, "Acquiring lock..."); err != nil {
			return err
		}
		return c.Exclusive(func() error { return p.hold(ctx, c, "") })

	case "backup_A", "backup_B", "backup_C":
		delay := map[string]float64{"backup_A": 0.3, "backup_B": 0.6, "backup_C": 0.9}[ev.Text]
		time.Sleep(p.scaled(delay))
		if err := c.Reply(ctx, ev.Text+": Attempting to acquire exclusive lock..."); err != nil {
			return err
		}
		err := c.Exclusive(func() error { return p.hold(ctx, c, ev.Text+": ") })
		if ev.Text == "backup_C" && errors.Is(err, gate.ErrExclusivityDenied) {
			return c.Error(ctx, CustomDenial)
		}
		return err

	default:
		if err := c.Reply(ctx, "start pong"); err != nil {
			return err
		}
		time.Sleep(p.unit)
		return c.Reply(ctx, "pong")
	}
}

func (p *lockTest) hold(ctx context.Context, c *plugin.Chat, label string) error {
	if err := c.Reply(ctx, fmt.Sprintf("%sLocked - sleeping %s ...", label, p.unit)); err != nil {
		return err
	}
	time.Sleep(p.unit)
	return c.Reply(ctx, label+"... done sleeping / locking")
}
