package state

import (
	"context"
	"testing"
	"time"
)

func TestMessageLogAppendAndList(t *testing.T) {
	t.Parallel()

	log := NewMessageLog(openTestDB(t))
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	tick := 0
	log.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	ctx := context.Background()

	in, err := log.Append(ctx, Entry{Conversation: "+1", Direction: Inbound, Sender: "+1", Text: "ping"})
	if err != nil {
		t.Fatalf("Append(in): %v", err)
	}
	if in.ID == "" || in.SentAt.IsZero() {
		t.Fatalf("expected id and sent_at to be filled, got %+v", in)
	}
	if _, err := log.Append(ctx, Entry{Conversation: "+1", Direction: Outbound, Text: "pong", Attachments: []string{"/tmp/a.png"}}); err != nil {
		t.Fatalf("Append(out): %v", err)
	}
	if _, err := log.Append(ctx, Entry{Conversation: "+2", Direction: Inbound, Sender: "+2", Text: "hi"}); err != nil {
		t.Fatalf("Append(other): %v", err)
	}

	got, err := log.List(ctx, "+1", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Text != "pong" || got[0].Direction != Outbound {
		t.Fatalf("expected newest first, got %+v", got[0])
	}
	if len(got[0].Attachments) != 1 || got[0].Attachments[0] != "/tmp/a.png" {
		t.Fatalf("attachments not round-tripped: %+v", got[0].Attachments)
	}
	if got[1].Attachments != nil {
		t.Fatalf("expected nil attachments, got %+v", got[1].Attachments)
	}

	all, err := log.List(ctx, "", 2)
	if err != nil {
		t.Fatalf("List(all): %v", err)
	}
	if len(all) != 2 || all[0].Conversation != "+2" {
		t.Fatalf("unexpected list across conversations: %+v", all)
	}
}

func TestMessageLogValidates(t *testing.T) {
	t.Parallel()

	log := NewMessageLog(openTestDB(t))
	if _, err := log.Append(context.Background(), Entry{Direction: Inbound, Text: "x"}); err == nil {
		t.Fatal("expected error for empty conversation")
	}
	if _, err := log.Append(context.Background(), Entry{Conversation: "+1", Direction: "sideways"}); err == nil {
		t.Fatal("expected error for invalid direction")
	}
}
