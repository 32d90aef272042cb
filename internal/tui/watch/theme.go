// Package watch implements the `convoy watch` TUI: a live view of the
// dispatcher's event stream, grouped by conversation.
package watch

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/convoy/internal/events"
)

type palette struct {
	ok, running, failed, held lipgloss.TerminalColor
	border, title, header     lipgloss.TerminalColor
	dim, accent, off          lipgloss.TerminalColor
}

var defaultPalette = palette{
	ok:      lipgloss.AdaptiveColor{Dark: "#98C379", Light: "#2E7D32"},
	running: lipgloss.AdaptiveColor{Dark: "#E5C07B", Light: "#B26A00"},
	failed:  lipgloss.AdaptiveColor{Dark: "#E06C75", Light: "#C62828"},
	held:    lipgloss.AdaptiveColor{Dark: "#C678DD", Light: "#7B1FA2"},
	border:  lipgloss.AdaptiveColor{Dark: "#5C6370", Light: "#9E9E9E"},
	title:   lipgloss.AdaptiveColor{Dark: "#FAFAFA", Light: "#212121"},
	header:  lipgloss.AdaptiveColor{Dark: "#61AFEF", Light: "#1565C0"},
	dim:     lipgloss.AdaptiveColor{Dark: "#7F848E", Light: "#757575"},
	accent:  lipgloss.AdaptiveColor{Dark: "#56B6C2", Light: "#00838F"},
	off:     lipgloss.AdaptiveColor{Dark: "#3E4451", Light: "#E0E0E0"},
}

// Theme holds every style the watch view renders with.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusHeld    lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	MeterActive   lipgloss.Style
	MeterInactive lipgloss.Style
}

func newTheme(p palette) Theme {
	fg := func(c lipgloss.TerminalColor) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	return Theme{
		StatusOK:      fg(p.ok),
		StatusRunning: fg(p.running),
		StatusFailed:  fg(p.failed).Bold(true),
		StatusHeld:    fg(p.held).Bold(true),
		Border:        lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(p.border),
		Title:         fg(p.title).Bold(true).Padding(0, 1),
		Header:        fg(p.header).Bold(true),
		Dim:           fg(p.dim),
		Highlight:     fg(p.accent),
		MeterActive:   fg(p.ok),
		MeterInactive: fg(p.off),
	}
}

func NewDefaultTheme() Theme { return newTheme(defaultPalette) }

// Panel stacks lines inside a bordered box that fills width.
func (t Theme) Panel(width int, lines ...string) string {
	return t.Border.Width(max(width-4, 10)).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// ForEvent colors an event type by what it means for a conversation.
func (t Theme) ForEvent(eventType string) lipgloss.Style {
	switch eventType {
	case events.WorkerFailed, events.GateDenied:
		return t.StatusFailed
	case events.GateAcquired:
		return t.StatusHeld
	case events.WorkerStarted, events.DispatchStarted:
		return t.StatusRunning
	case events.WorkerFinished, events.GateReleased, events.PluginEnabled:
		return t.StatusOK
	case events.ScheduleFired, events.DispatchCommand:
		return t.Highlight
	}
	return t.Dim
}
