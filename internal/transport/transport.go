// Package transport selects the chat backend the dispatcher runs on.
package transport

import (
	"context"
	"fmt"

	"github.com/mattjoyce/convoy/internal/chat"
	"github.com/mattjoyce/convoy/internal/config"
	"github.com/mattjoyce/convoy/internal/transport/matrix"
	"github.com/mattjoyce/convoy/internal/transport/memory"
	"github.com/mattjoyce/convoy/internal/transport/signalcli"
)

// Transport delivers inbound events and sends replies.
type Transport interface {
	chat.Sender
	// Receive streams inbound events. The channel closes when ctx is done or
	// the backend disconnects.
	Receive(ctx context.Context) (<-chan chat.Event, error)
	Close() error
}

var (
	_ Transport = (*signalcli.Transport)(nil)
	_ Transport = (*matrix.Transport)(nil)
	_ Transport = (*memory.Transport)(nil)
)

// Open builds the transport named by cfg.Kind.
func Open(ctx context.Context, cfg config.TransportConfig) (Transport, error) {
	switch cfg.Kind {
	case config.TransportSignalCLI:
		return signalcli.Dial(ctx, cfg.SignalCLI)
	case config.TransportMatrix:
		return matrix.New(cfg.Matrix)
	case config.TransportMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}
