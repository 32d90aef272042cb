package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	sent []Message
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.sent = append(r.sent, msg)
	return nil
}

func TestGroupIDsCompareStructurally(t *testing.T) {
	a := []byte{0, 1, 2}
	b := []byte{0, 1, 2}

	idA := NewGroup(a)
	idB := NewGroup(b)
	assert.Equal(t, idA, idB)

	m := map[ConversationID]int{idA: 1}
	assert.Equal(t, 1, m[idB], "group ids built from equal bytes must share a map key")

	// Mutating the source slice must not change the id.
	a[0] = 9
	assert.Equal(t, idA, idB)
}

func TestDirectAndGroupNeverCollide(t *testing.T) {
	direct := NewDirect("abc")
	group := NewGroup([]byte("abc"))
	assert.NotEqual(t, direct, group)
	assert.False(t, direct.IsGroup())
	assert.True(t, group.IsGroup())
}

func TestConversationFor(t *testing.T) {
	assert.Equal(t, NewDirect("+123"), ConversationFor("+123", nil))
	assert.Equal(t, NewDirect("+123"), ConversationFor("+123", []byte{}))
	assert.Equal(t, NewGroup([]byte{7}), ConversationFor("+123", []byte{7}))
}

func TestConversationIDRoundTrip(t *testing.T) {
	tests := []ConversationID{
		NewDirect("+4912345"),
		NewGroup([]byte{0, 1, 2}),
		NewGroup([]byte("!room:example.org")),
	}
	for _, id := range tests {
		parsed, err := ParseConversationID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed, id.String())
	}
}

func TestParseConversationIDErrors(t *testing.T) {
	_, err := ParseConversationID("")
	assert.Error(t, err)
	_, err = ParseConversationID("group:***")
	assert.Error(t, err)
	_, err = ParseConversationID("group:")
	assert.Error(t, err)
}

func TestGroupString(t *testing.T) {
	assert.Equal(t, "group:AAEC", NewGroup([]byte{0, 1, 2}).String())
	assert.Equal(t, "+1", NewDirect("+1").String())
	assert.Equal(t, "", NewGroup([]byte{1}).Participant())
	assert.Nil(t, NewDirect("+1").Bytes())
}

func TestPathKey(t *testing.T) {
	assert.Equal(t, "+4912", NewDirect("+4912").PathKey())
	assert.Equal(t, "a_b", NewDirect("a/b").PathKey())
	// 0xfb 0xff encodes to "+/8" in the standard alphabet.
	assert.Equal(t, "group--_8", NewGroup([]byte{0xfb, 0xff}).PathKey())
}

func TestNewEventCopiesAttachments(t *testing.T) {
	paths := []string{"/tmp/a"}
	ev := NewEvent(time.Unix(10, 0), "+1", nil, "hi", paths)
	paths[0] = "/tmp/b"
	assert.Equal(t, []string{"/tmp/a"}, ev.AttachmentPaths)
	assert.Equal(t, NewDirect("+1"), ev.Conversation)
}

func TestReplierGlyphs(t *testing.T) {
	rec := &recordingSender{}
	r := NewReplier(rec, NewDirect("+1"))
	ctx := context.Background()

	require.NoError(t, r.Reply(ctx, "plain"))
	require.NoError(t, r.Error(ctx, "failed"))
	require.NoError(t, r.Success(ctx, "done", "/tmp/x"))

	require.Len(t, rec.sent, 3)
	assert.Equal(t, "plain", rec.sent[0].Text)
	assert.Equal(t, "failed ❌", rec.sent[1].Text)
	assert.Equal(t, "done ✔", rec.sent[2].Text)
	assert.Equal(t, []string{"/tmp/x"}, rec.sent[2].Attachments)
	for _, m := range rec.sent {
		assert.Equal(t, NewDirect("+1"), m.To)
	}
}
