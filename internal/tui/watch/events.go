package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/convoy/internal/events"
)

const visibleEvents = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	title := theme.Title.Render("EVENT STREAM")
	if len(eventLog) == 0 {
		return theme.Panel(width, title, theme.Dim.Render("  Waiting for events..."))
	}

	lines := make([]string, 0, visibleEvents)
	for _, e := range eventLog[:min(len(eventLog), visibleEvents)] {
		lines = append(lines, formatEvent(e, theme))
	}
	body := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	return theme.Panel(width, title, body)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Local().Format("15:04:05"))
	typeName := theme.ForEvent(e.Type).Render(fmt.Sprintf("%-18s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, describeEvent(e))
}

// describeEvent picks the interesting fields out of an event payload.
func describeEvent(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if id, ok := data["worker_id"].(string); ok && id != "" {
		if len(id) > 8 {
			id = id[:8]
		}
		parts = append(parts, fmt.Sprintf("[%s]", id))
	}
	for _, key := range []string{"plugin", "conversation", "sender", "command", "error"} {
		if v, ok := data[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	if n, ok := data["conversations"].(float64); ok {
		parts = append(parts, fmt.Sprintf("%d conversations", int(n)))
	}
	if ms, ok := data["duration_ms"].(float64); ok && ms > 0 {
		parts = append(parts, fmt.Sprintf("%dms", int(ms)))
	}

	if len(parts) == 0 {
		raw := strings.TrimSpace(string(e.Data))
		switch raw {
		case "", "{}", "null":
			return ""
		}
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
