package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/mattjoyce/convoy/internal/chat"
	"github.com/mattjoyce/convoy/internal/state"
)

// loggingSender records every outbound message in the message log before
// handing it to the transport.
type loggingSender struct {
	next   chat.Sender
	log    *state.MessageLog
	logger *slog.Logger
}

func (s *loggingSender) Send(ctx context.Context, msg chat.Message) error {
	if err := s.next.Send(ctx, msg); err != nil {
		s.logger.Warn("send failed", "conversation", msg.To.String(), "error", err)
		return err
	}
	if s.log == nil {
		return nil
	}
	if _, err := s.log.Append(ctx, state.Entry{
		Conversation: msg.To.String(),
		Direction:    state.Outbound,
		Text:         msg.Text,
		Attachments:  msg.Attachments,
		SentAt:       time.Now(),
	}); err != nil {
		s.logger.Warn("failed to record message", "conversation", msg.To.String(), "error", err)
	}
	return nil
}
