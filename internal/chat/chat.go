// Package chat defines the conversation-level data model shared by the
// transports, the dispatcher and plugins.
package chat

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const groupPrefix = "group:"

// Suffix glyphs appended by Replier.Error and Replier.Success.
const (
	ErrorGlyph   = " ❌"
	SuccessGlyph = " ✔"
)

// ConversationID identifies a direct chat (by participant id) or a group chat
// (by the group's raw id bytes). It is comparable, so two ids built from the
// same bytes are equal and hash to the same map bucket.
type ConversationID struct {
	group bool
	key   string
}

// NewDirect returns the id of a one-to-one conversation with participant.
func NewDirect(participant string) ConversationID {
	return ConversationID{key: participant}
}

// NewGroup returns the id of the group identified by id. The bytes are copied.
func NewGroup(id []byte) ConversationID {
	return ConversationID{group: true, key: string(id)}
}

// ConversationFor picks the conversation an event belongs to: the group when
// groupID is non-empty, otherwise the direct chat with sender.
func ConversationFor(sender string, groupID []byte) ConversationID {
	if len(groupID) > 0 {
		return NewGroup(groupID)
	}
	return NewDirect(sender)
}

// IsGroup reports whether the conversation is a group chat.
func (c ConversationID) IsGroup() bool { return c.group }

// IsZero reports whether c is the zero value.
func (c ConversationID) IsZero() bool { return !c.group && c.key == "" }

// Participant returns the participant id of a direct conversation.
func (c ConversationID) Participant() string {
	if c.group {
		return ""
	}
	return c.key
}

// Bytes returns a copy of the group id bytes, or nil for direct chats.
func (c ConversationID) Bytes() []byte {
	if !c.group {
		return nil
	}
	return []byte(c.key)
}

// String renders the stable on-disk key: the participant id for direct chats
// and "group:<base64>" for groups.
func (c ConversationID) String() string {
	if c.group {
		return groupPrefix + base64.StdEncoding.EncodeToString([]byte(c.key))
	}
	return c.key
}

// PathKey renders a key that is safe to use as one path segment. Group ids
// use the URL-safe alphabet so they never contain a slash.
func (c ConversationID) PathKey() string {
	if c.group {
		return "group-" + base64.RawURLEncoding.EncodeToString([]byte(c.key))
	}
	return strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(c.key)
}

// ParseConversationID is the inverse of ConversationID.String.
func ParseConversationID(s string) (ConversationID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ConversationID{}, fmt.Errorf("conversation id is empty")
	}
	if rest, ok := strings.CutPrefix(s, groupPrefix); ok {
		raw, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return ConversationID{}, fmt.Errorf("decode group id %q: %w", rest, err)
		}
		if len(raw) == 0 {
			return ConversationID{}, fmt.Errorf("group id is empty")
		}
		return NewGroup(raw), nil
	}
	return NewDirect(s), nil
}

// Event is one inbound chat message. Treat it as immutable once built.
type Event struct {
	Timestamp       time.Time
	Conversation    ConversationID
	Sender          string
	Text            string
	AttachmentPaths []string
}

// NewEvent builds an Event from the transport callback shape
// (timestamp, sender, group id or empty, text, attachments).
func NewEvent(ts time.Time, sender string, groupID []byte, text string, attachments []string) Event {
	var paths []string
	if len(attachments) > 0 {
		paths = append([]string(nil), attachments...)
	}
	return Event{
		Timestamp:       ts,
		Conversation:    ConversationFor(sender, groupID),
		Sender:          sender,
		Text:            text,
		AttachmentPaths: paths,
	}
}

// Message is one outbound reply.
type Message struct {
	To          ConversationID
	Text        string
	Attachments []string
}

// Sender delivers outbound messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Replier binds a Sender to one conversation.
type Replier struct {
	sender Sender
	to     ConversationID
}

// NewReplier returns a Replier that sends to conversation.
func NewReplier(s Sender, conversation ConversationID) Replier {
	return Replier{sender: s, to: conversation}
}

// Conversation returns the destination conversation.
func (r Replier) Conversation() ConversationID { return r.to }

// Reply sends text unchanged.
func (r Replier) Reply(ctx context.Context, text string, attachments ...string) error {
	return r.sender.Send(ctx, Message{To: r.to, Text: text, Attachments: attachments})
}

// Error sends text marked as a failure.
func (r Replier) Error(ctx context.Context, text string, attachments ...string) error {
	return r.Reply(ctx, text+ErrorGlyph, attachments...)
}

// Success sends text marked as a success.
func (r Replier) Success(ctx context.Context, text string, attachments ...string) error {
	return r.Reply(ctx, text+SuccessGlyph, attachments...)
}
