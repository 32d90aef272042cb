// Package matrix bridges a Matrix account through mautrix. Each room is a
// group conversation whose id is the room id.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/mattjoyce/convoy/internal/chat"
	"github.com/mattjoyce/convoy/internal/config"
	"github.com/mattjoyce/convoy/internal/log"
)

// ErrDirectUnsupported is returned when sending to a non-room conversation.
var ErrDirectUnsupported = errors.New("matrix: direct conversations are not supported")

// Transport is a Matrix client.
type Transport struct {
	client *mautrix.Client
	self   id.UserID
	logger *slog.Logger
	cancel context.CancelFunc
}

// New creates a client. It does not contact the homeserver until Receive.
func New(cfg config.MatrixConfig) (*Transport, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	return &Transport{
		client: client,
		self:   id.UserID(cfg.UserID),
		logger: log.WithComponent("matrix"),
	}, nil
}

// Send posts msg.Text to the room named by msg.To.
func (t *Transport) Send(ctx context.Context, msg chat.Message) error {
	if !msg.To.IsGroup() {
		return ErrDirectUnsupported
	}
	if len(msg.Attachments) > 0 {
		t.logger.Warn("dropping attachments, not supported on matrix", "room", string(msg.To.Bytes()), "count", len(msg.Attachments))
	}
	if _, err := t.client.SendText(ctx, id.RoomID(msg.To.Bytes()), msg.Text); err != nil {
		return fmt.Errorf("send to %s: %w", string(msg.To.Bytes()), err)
	}
	return nil
}

// Receive starts syncing and streams text messages from other users.
func (t *Transport) Receive(ctx context.Context) (<-chan chat.Event, error) {
	syncer, ok := t.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return nil, fmt.Errorf("unexpected syncer type: %T", t.client.Syncer)
	}

	ctx, t.cancel = context.WithCancel(ctx)
	out := make(chan chat.Event, 16)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		ev, ok := convert(evt, t.self)
		if !ok {
			return
		}
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	})

	go func() {
		defer close(out)
		if err := t.client.SyncWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.logger.Error("matrix sync failed", "error", err)
		}
	}()
	return out, nil
}

// Close stops syncing.
func (t *Transport) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}

// convert turns a room message into an event. Own messages and non-text
// messages are skipped.
func convert(evt *event.Event, self id.UserID) (chat.Event, bool) {
	if evt == nil || evt.Sender == self {
		return chat.Event{}, false
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText || content.Body == "" {
		return chat.Event{}, false
	}
	return chat.NewEvent(
		time.UnixMilli(evt.Timestamp),
		evt.Sender.String(),
		[]byte(evt.RoomID),
		content.Body,
		nil,
	), true
}
