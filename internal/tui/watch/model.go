package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/convoy/internal/events"
)

const maxEventLog = 50

// Model is the BubbleTea model for `convoy watch`.
type Model struct {
	ctx    context.Context
	apiURL string
	apiKey string

	width  int
	height int

	health        HealthState
	conversations map[string]*ConversationState
	eventLog      []events.Event
	lastID        int64
	lastBroadcast string

	activity Activity
	spinner  spinner.Model
	table    table.Model
	theme    Theme

	hubEvents chan events.Event

	lastError string
}

// New creates a watch model. ctx bounds the event subscription.
func New(ctx context.Context, apiURL, apiKey string) *Model {
	theme := NewDefaultTheme()
	return &Model{
		ctx:           ctx,
		apiURL:        apiURL,
		apiKey:        apiKey,
		conversations: make(map[string]*ConversationState),
		hubEvents:     make(chan events.Event, 100),
		spinner:       spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(theme.Highlight)),
		table:         newConversationTable(),
		theme:         theme,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.ctx, m.apiURL, m.apiKey, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL, m.apiKey) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		m.activity.Decay(time.Time(msg))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		m = m.applyEvent(events.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.Dispatcher = msg.Dispatcher
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.PluginsLoaded = msg.PluginsLoaded
		m.health.Conversations = msg.Conversations
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		if msg.err != nil {
			m.lastError = fmt.Sprintf("event stream: %v, reconnecting...", msg.err)
		}
		// The pending receiveNextEvent keeps reading from hubEvents, so the
		// new subscription only has to feed the same channel.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.ctx, m.apiURL, m.apiKey, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})
	}

	return m, nil
}

// applyEvent folds e into the model state.
func (m Model) applyEvent(e events.Event) Model {
	if e.ID > m.lastID {
		m.lastID = e.ID
	}
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}
	m.activity.OnEvent(time.Now())

	if e.Type == events.ScheduleFired {
		var data struct {
			Plugin string `json:"plugin"`
		}
		_ = json.Unmarshal(e.Data, &data)
		m.lastBroadcast = fmt.Sprintf("%s at %s", data.Plugin, e.At.Local().Format("15:04"))
	}

	updateConversationState(m.conversations, e)
	m.table.SetRows(conversationRows(sortedConversations(m.conversations)))

	m.health.Connected = true
	m.lastError = ""
	return m
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to convoy..."
	}

	parts := []string{
		renderHeader(m.health, m.activity, m.spinner.View(), m.lastBroadcast, m.theme, m.width),
		renderConversations(m.table, len(m.conversations), m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select conversation"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

// Run starts the TUI and blocks until the user quits.
func Run(ctx context.Context, apiURL, apiKey string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	_, err := tea.NewProgram(New(ctx, apiURL, apiKey), tea.WithContext(ctx)).Run()
	return err
}
