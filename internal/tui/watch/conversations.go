package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/convoy/internal/events"
)

// ConversationState is what the watch view knows about one conversation,
// rebuilt from the event stream.
type ConversationState struct {
	Key       string
	Plugins   map[string]bool
	Active    int
	Held      bool
	HeldBy    string
	Denials   int
	Failures  int
	LastEvent time.Time
}

type eventPayload struct {
	Conversation string `json:"conversation"`
	Plugin       string `json:"plugin"`
	WorkerID     string `json:"worker_id"`
}

// updateConversationState folds one event into the per-conversation view.
func updateConversationState(convs map[string]*ConversationState, e events.Event) {
	var p eventPayload
	if err := json.Unmarshal(e.Data, &p); err != nil || p.Conversation == "" {
		return
	}

	c, ok := convs[p.Conversation]
	if !ok {
		c = &ConversationState{Key: p.Conversation, Plugins: map[string]bool{}}
		convs[p.Conversation] = c
	}
	c.LastEvent = e.At

	switch e.Type {
	case events.PluginEnabled:
		c.Plugins[p.Plugin] = true
	case events.PluginDisabled:
		delete(c.Plugins, p.Plugin)
	case events.WorkerStarted:
		c.Active++
	case events.WorkerFinished, events.WorkerFailed:
		if c.Active > 0 {
			c.Active--
		}
		if e.Type == events.WorkerFailed {
			c.Failures++
		}
	case events.GateAcquired:
		c.Held = true
		c.HeldBy = p.Plugin
	case events.GateReleased:
		c.Held = false
		c.HeldBy = ""
	case events.GateDenied:
		c.Denials++
	}
}

func sortedConversations(convs map[string]*ConversationState) []*ConversationState {
	out := make([]*ConversationState, 0, len(convs))
	for _, c := range convs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastEvent.Equal(out[j].LastEvent) {
			return out[i].LastEvent.After(out[j].LastEvent)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func newConversationTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Conversation", Width: 28},
			{Title: "Plugins", Width: 6},
			{Title: "Workers", Width: 7},
			{Title: "Gate", Width: 18},
			{Title: "Denied", Width: 6},
			{Title: "Failed", Width: 6},
			{Title: "Last", Width: 8},
		}),
		table.WithHeight(8),
		table.WithFocused(true),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true).Foreground(lipgloss.Color("#61AFEF"))
	s.Selected = s.Selected.Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#874BFD"))
	t.SetStyles(s)
	return t
}

func conversationRows(list []*ConversationState) []table.Row {
	rows := make([]table.Row, 0, len(list))
	for _, c := range list {
		gate := "open"
		if c.Held {
			gate = "held"
			if c.HeldBy != "" {
				gate += " by " + c.HeldBy
			}
		}
		rows = append(rows, table.Row{
			truncate(c.Key, 28),
			fmt.Sprintf("%d", len(c.Plugins)),
			fmt.Sprintf("%d", c.Active),
			gate,
			fmt.Sprintf("%d", c.Denials),
			fmt.Sprintf("%d", c.Failures),
			c.LastEvent.Local().Format("15:04:05"),
		})
	}
	return rows
}

func renderConversations(t table.Model, count int, theme Theme, width int) string {
	title := theme.Title.Render(fmt.Sprintf("CONVERSATIONS (%d)", count))
	if count == 0 {
		return theme.Panel(width, title, theme.Dim.Render("  No conversation activity yet"))
	}
	return theme.Panel(width, title, t.View())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
