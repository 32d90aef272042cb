// Package memory is an in-process transport for tests and local runs.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mattjoyce/convoy/internal/chat"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("memory transport closed")

// Transport records outbound messages and delivers injected events.
type Transport struct {
	mu      sync.Mutex
	changed chan struct{}
	sent    []chat.Message
	sendErr error

	inbound   chan chat.Event
	closeOnce sync.Once
	closed    chan struct{}
}

// New returns an open transport.
func New() *Transport {
	return &Transport{
		changed: make(chan struct{}),
		inbound: make(chan chat.Event, 64),
		closed:  make(chan struct{}),
	}
}

// Send records msg.
func (t *Transport) Send(_ context.Context, msg chat.Message) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, msg)
	close(t.changed)
	t.changed = make(chan struct{})
	return nil
}

// FailSends makes every following Send return err. Pass nil to recover.
func (t *Transport) FailSends(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}

// Inject queues ev for delivery by Receive.
func (t *Transport) Inject(ev chat.Event) error {
	select {
	case <-t.closed:
		return ErrClosed
	case t.inbound <- ev:
		return nil
	}
}

// Receive delivers injected events until ctx is done or the transport closes.
func (t *Transport) Receive(ctx context.Context) (<-chan chat.Event, error) {
	out := make(chan chat.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.closed:
				return
			case ev := <-t.inbound:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				case <-t.closed:
					return
				}
			}
		}
	}()
	return out, nil
}

// Close stops Receive and rejects further sends.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// Sent returns a copy of every recorded message.
func (t *Transport) Sent() []chat.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]chat.Message(nil), t.sent...)
}

// Texts returns the text of every message sent to conversation.
func (t *Transport) Texts(conversation chat.ConversationID) []string {
	var out []string
	for _, m := range t.Sent() {
		if m.To == conversation {
			out = append(out, m.Text)
		}
	}
	return out
}

// Reset forgets recorded messages.
func (t *Transport) Reset() {
	t.mu.Lock()
	t.sent = nil
	t.mu.Unlock()
}

// WaitFor blocks until at least n messages are recorded or timeout passes.
// It returns the recorded messages either way.
func (t *Transport) WaitFor(n int, timeout time.Duration) ([]chat.Message, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		t.mu.Lock()
		if len(t.sent) >= n {
			out := append([]chat.Message(nil), t.sent...)
			t.mu.Unlock()
			return out, true
		}
		ch := t.changed
		t.mu.Unlock()

		select {
		case <-ch:
		case <-deadline.C:
			return t.Sent(), false
		}
	}
}
