package watch

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/convoy/internal/events"
)

// event builds a payload the way the hub does: nil data becomes {}.
func event(t *testing.T, id int64, typ string, data any) events.Event {
	t.Helper()
	b := []byte("{}")
	if data != nil {
		var err error
		b, err = json.Marshal(data)
		require.NoError(t, err)
	}
	return events.Event{ID: id, Type: typ, At: time.Now(), Data: b}
}

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		"id: 3",
		"event: worker.started",
		`data: {"plugin":"pingpong"}`,
		"",
		": keep-alive",
		"",
		"id: 4",
		"event: gate.denied",
		`data: {}`,
		"",
		"",
	}, "\n")

	var got []events.Event
	require.NoError(t, readSSE(strings.NewReader(stream), func(e events.Event) { got = append(got, e) }))
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, events.WorkerStarted, got[0].Type)
	assert.JSONEq(t, `{"plugin":"pingpong"}`, string(got[0].Data))
	assert.False(t, got[0].At.IsZero())
	assert.Equal(t, events.GateDenied, got[1].Type)
}

func TestUpdateConversationState(t *testing.T) {
	convs := map[string]*ConversationState{}
	conv := "+4912"
	gate := events.GateData{WorkerID: "w1", Plugin: "locktest", Conversation: conv}

	updateConversationState(convs, event(t, 1, events.PluginEnabled, events.PluginData{Plugin: "locktest", Conversation: conv}))
	updateConversationState(convs, event(t, 2, events.WorkerStarted, events.WorkerData{WorkerID: "w1", Plugin: "locktest", Conversation: conv}))
	updateConversationState(convs, event(t, 3, events.WorkerStarted, events.WorkerData{WorkerID: "w2", Plugin: "locktest", Conversation: conv}))
	updateConversationState(convs, event(t, 4, events.GateAcquired, gate))
	updateConversationState(convs, event(t, 5, events.GateDenied, events.GateData{WorkerID: "w2", Plugin: "locktest", Conversation: conv}))

	c := convs[conv]
	require.NotNil(t, c)
	assert.Equal(t, 2, c.Active)
	assert.True(t, c.Held)
	assert.Equal(t, "locktest", c.HeldBy)
	assert.Equal(t, 1, c.Denials)
	assert.True(t, c.Plugins["locktest"])

	updateConversationState(convs, event(t, 6, events.GateReleased, gate))
	updateConversationState(convs, event(t, 7, events.WorkerFinished, events.WorkerData{WorkerID: "w1", Conversation: conv}))
	updateConversationState(convs, event(t, 8, events.WorkerFailed, events.WorkerData{WorkerID: "w2", Conversation: conv, Error: "boom"}))
	updateConversationState(convs, event(t, 9, events.WorkerFinished, events.WorkerData{WorkerID: "w3", Conversation: conv}))
	updateConversationState(convs, event(t, 10, events.PluginDisabled, events.PluginData{Plugin: "locktest", Conversation: conv}))

	assert.False(t, c.Held)
	assert.Equal(t, 0, c.Active, "never goes negative")
	assert.Equal(t, 1, c.Failures)
	assert.Empty(t, c.Plugins)

	updateConversationState(convs, event(t, 11, events.DispatchStarted, map[string]any{"plugins": []string{"x"}}))
	assert.Len(t, convs, 1, "events without a conversation are ignored")
}

func TestSortedConversations(t *testing.T) {
	now := time.Now()
	convs := map[string]*ConversationState{
		"a": {Key: "a", LastEvent: now.Add(-time.Minute)},
		"b": {Key: "b", LastEvent: now},
		"c": {Key: "c", LastEvent: now},
	}
	var keys []string
	for _, c := range sortedConversations(convs) {
		keys = append(keys, c.Key)
	}
	assert.Equal(t, []string{"b", "c", "a"}, keys)
}

func TestActivityDecay(t *testing.T) {
	var a Activity
	start := time.Now()
	a.OnEvent(start)
	assert.Equal(t, activityMax, a.level)

	a.Decay(start.Add(5 * time.Second))
	assert.Equal(t, 3, a.level)

	a.Decay(start.Add(time.Minute))
	assert.Equal(t, 0, a.level)
}

func TestDescribeEvent(t *testing.T) {
	e := event(t, 1, events.WorkerFailed, events.WorkerData{
		WorkerID: "0123456789", Plugin: "mensa", Conversation: "+1", Error: "boom", DurationMS: 12,
	})
	assert.Equal(t, "[01234567] mensa +1 boom 12ms", describeEvent(e))

	assert.Equal(t, "", describeEvent(event(t, 2, events.DispatchStopped, nil)))
	assert.Equal(t, "", describeEvent(events.Event{Type: events.DispatchStopped, Data: []byte("null")}))
	assert.Equal(t, "", describeEvent(events.Event{Type: events.DispatchStopped}))
	assert.Equal(t, "mensa 3 conversations", describeEvent(event(t, 3, events.ScheduleFired, map[string]any{"plugin": "mensa", "conversations": 3})))
}

func TestModelUpdate(t *testing.T) {
	m := New(context.Background(), "http://127.0.0.1:0", "key")

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	model := next.(Model)

	next, cmd := model.Update(eventMsg(event(t, 7, events.ScheduleFired, map[string]any{"plugin": "mensa", "conversations": 2})))
	model = next.(Model)
	assert.NotNil(t, cmd)
	assert.Equal(t, int64(7), model.lastID)
	assert.Contains(t, model.lastBroadcast, "mensa")
	require.Len(t, model.eventLog, 1)

	next, _ = model.Update(eventMsg(event(t, 8, events.WorkerStarted, events.WorkerData{WorkerID: "w", Plugin: "pingpong", Conversation: "+1"})))
	model = next.(Model)
	assert.Len(t, model.table.Rows(), 1)

	next, _ = model.Update(healthMsg{Status: "ok", Dispatcher: "running", PluginsLoaded: 3})
	model = next.(Model)
	assert.True(t, model.health.Connected)
	assert.Equal(t, 3, model.health.PluginsLoaded)

	view := model.View()
	assert.Contains(t, view, "CONVOY WATCH")
	assert.Contains(t, view, "CONVERSATIONS (1)")
	assert.Contains(t, view, events.WorkerStarted)

	next, _ = model.Update(sseDisconnectedMsg{})
	model = next.(Model)
	assert.False(t, model.health.Connected)
	assert.NotEmpty(t, model.lastError)

	_, cmd = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestEventLogIsBounded(t *testing.T) {
	model := *New(context.Background(), "", "")
	for i := range maxEventLog + 5 {
		model = model.applyEvent(event(t, int64(i+1), events.DispatchInbound, events.InboundData{Conversation: "+1"}))
	}
	assert.Len(t, model.eventLog, maxEventLog)
	assert.Equal(t, int64(maxEventLog+5), model.eventLog[0].ID)
}
