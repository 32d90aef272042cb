package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/convoy/internal/chat"
	"github.com/mattjoyce/convoy/internal/config"
	"github.com/mattjoyce/convoy/internal/events"
	"github.com/mattjoyce/convoy/internal/log"
	"github.com/mattjoyce/convoy/internal/plugin"
	"github.com/mattjoyce/convoy/internal/plugins"
	"github.com/mattjoyce/convoy/internal/state"
	"github.com/mattjoyce/convoy/internal/storage"
	"github.com/mattjoyce/convoy/internal/transport/memory"
)

const master = "+123"

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.Masters = config.Masters{master}
	cfg.Plugins = []string{"pingpong"}
	cfg.TestingPlugins = []string{"locktest"}
	cfg.PluginConfig = map[string]map[string]any{"locktest": {"unit": "200ms"}}
	cfg.Transport.Kind = config.TransportMemory
	return cfg
}

func newDispatcher(t *testing.T, cfg *config.Config, opts ...func(*Options)) (*Dispatcher, *memory.Transport) {
	t.Helper()
	catalog, err := plugins.Catalog()
	require.NoError(t, err)

	bus := memory.New()
	o := Options{Config: cfg, Catalog: catalog, Sender: bus}
	for _, fn := range opts {
		fn(&o)
	}
	d, err := New(context.Background(), o)
	require.NoError(t, err)
	t.Cleanup(func() {
		d.Stop(context.Background())
		d.Wait()
	})
	return d, bus
}

func started(t *testing.T, cfg *config.Config, opts ...func(*Options)) (*Dispatcher, *memory.Transport) {
	t.Helper()
	d, bus := newDispatcher(t, cfg, opts...)
	require.NoError(t, d.Start(context.Background()))
	return d, bus
}

var clock atomic.Int64

// send delivers text with a unique timestamp so dedupe never drops it.
func send(t *testing.T, d *Dispatcher, sender string, group []byte, text string) {
	t.Helper()
	ts := time.Unix(1_700_000_000, clock.Add(1))
	require.NoError(t, d.HandleInbound(context.Background(), chat.NewEvent(ts, sender, group, text, nil)))
}

func TestMasterCommands(t *testing.T) {
	d, bus := started(t, testConfig(t))

	send(t, d, "+000", nil, "//enable pingpong")
	send(t, d, "+000", nil, "ping")
	send(t, d, master, nil, "//enable pingpong")
	send(t, d, master, nil, "ping")
	d.Wait()
	send(t, d, master, nil, "//disable pingpong")
	send(t, d, master, nil, "ping")
	d.Wait()

	assert.Equal(t, []string{"You are not my master." + chat.ErrorGlyph}, bus.Texts(chat.NewDirect("+000")))
	assert.Equal(t, []string{
		"Plugin pingpong enabled." + chat.SuccessGlyph,
		"pong",
		"Plugin pingpong disabled." + chat.SuccessGlyph,
	}, bus.Texts(chat.NewDirect(master)))
}

func TestCommandReplies(t *testing.T) {
	tests := []struct {
		name  string
		setup []string
		text  string
		want  string
	}{
		{"invalid", nil, "//frobnicate", "Invalid command." + chat.ErrorGlyph},
		{"empty", nil, "//", "Invalid command." + chat.ErrorGlyph},
		{"not loaded", nil, "//enable weather", "Plugin weather not loaded" + chat.ErrorGlyph},
		{"already enabled", []string{"//enable pingpong"}, "//enable pingpong", "Plugin pingpong is already enabled."},
		{"already disabled", nil, "//disable pingpong", "Plugin pingpong is already disabled."},
		{"disable unknown", nil, "//disable weather", "Plugin weather is already disabled."},
		{
			"multi enable",
			nil,
			"//enable pingpong weather locktest",
			"Plugin pingpong enabled." + chat.SuccessGlyph + "\n" +
				"Plugin weather not loaded" + chat.ErrorGlyph + "\n" +
				"Plugin locktest enabled." + chat.SuccessGlyph,
		},
		{"enable usage", nil, "//enable", "Usage: //enable plugin [plugin ...]" + chat.ErrorGlyph},
		{"disable usage", nil, "//disable  ", "Usage: //disable plugin [plugin ...]" + chat.ErrorGlyph},
		{"list enabled empty", nil, "//list-enabled", "Enabled plugins:\n"},
		{"list enabled", []string{"//enable locktest pingpong"}, "//list-enabled", "Enabled plugins:\nlocktest\npingpong\n"},
		{"list available", nil, "//list-available", "Available plugins:\npingpong\nlocktest\n"},
		{
			"help",
			nil,
			"//help",
			"Available commands:\n//help\n//enable plugin [plugin ...]\n//disable plugin [plugin ...]\n//list-enabled\n//list-available\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, bus := started(t, testConfig(t))
			for _, s := range tt.setup {
				send(t, d, master, nil, s)
			}
			bus.Reset()

			send(t, d, master, nil, tt.text)
			assert.Equal(t, []string{tt.want}, bus.Texts(chat.NewDirect(master)))
		})
	}
}

func TestCustomCommandPrefix(t *testing.T) {
	cfg := testConfig(t)
	cfg.Service.CommandPrefix = "!"
	d, bus := started(t, cfg)

	send(t, d, master, nil, "!enable pingpong")
	send(t, d, master, nil, "//enable pingpong")
	d.Wait()

	assert.Equal(t, []string{"Plugin pingpong enabled." + chat.SuccessGlyph}, bus.Texts(chat.NewDirect(master)))
}

func TestGroupCommandsApplyToTheGroup(t *testing.T) {
	d, bus := started(t, testConfig(t))
	group := []byte{0xde, 0xad}
	gid := chat.NewGroup(group)

	send(t, d, master, group, "//enable pingpong")
	send(t, d, "+999", group, "ping")
	send(t, d, master, nil, "ping")
	d.Wait()

	assert.Equal(t, []string{"Plugin pingpong enabled." + chat.SuccessGlyph, "pong"}, bus.Texts(gid))
	assert.Empty(t, bus.Texts(chat.NewDirect(master)))
	assert.Equal(t, []string{"pingpong"}, d.Enabled(gid))
	assert.Equal(t, []string{gid.String()}, d.Conversations())
}

func TestConversationsWithoutPluginsAllocateNothing(t *testing.T) {
	d, bus := started(t, testConfig(t))

	send(t, d, "+5", nil, "ping")
	d.Wait()

	assert.Empty(t, bus.Sent())
	for _, name := range d.Available() {
		r, ok := d.Router(name)
		require.True(t, ok)
		assert.Empty(t, r.Conversations())
	}
}

func TestEnabledFromConfig(t *testing.T) {
	cfg := testConfig(t)
	group := chat.NewGroup([]byte{1, 2, 3})
	cfg.Enabled = map[string][]string{
		group.String(): {"pingpong"},
	}
	d, bus := started(t, cfg)

	send(t, d, "+9", []byte{1, 2, 3}, "ping")
	d.Wait()
	assert.Equal(t, []string{"pong"}, bus.Texts(group))
}

func TestNewRejectsBadPluginLists(t *testing.T) {
	catalog, err := plugins.Catalog()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown plugin", func(c *config.Config) { c.Plugins = []string{"weather"} }},
		{"testing plugin listed as regular", func(c *config.Config) {
			c.Plugins = []string{"locktest"}
			c.TestingPlugins = nil
		}},
		{"enabled plugin not loaded", func(c *config.Config) {
			c.Enabled = map[string][]string{"+1": {"mensa"}}
		}},
		{"bad conversation key", func(c *config.Config) {
			c.Enabled = map[string][]string{"group:***": {"pingpong"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := New(context.Background(), Options{Config: cfg, Catalog: catalog, Sender: memory.New()})
			assert.Error(t, err)
		})
	}

	_, err = New(context.Background(), Options{Config: testConfig(t)})
	assert.Error(t, err)
}

func TestLifecycle(t *testing.T) {
	d, _ := newDispatcher(t, testConfig(t))
	ev := chat.NewEvent(time.Now(), master, nil, "ping", nil)

	assert.Equal(t, NotStarted, d.State())
	assert.ErrorIs(t, d.HandleInbound(context.Background(), ev), ErrNotRunning)

	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, Running, d.State())
	assert.Error(t, d.Start(context.Background()))

	d.Stop(context.Background())
	assert.Equal(t, Stopped, d.State())
	assert.ErrorIs(t, d.HandleInbound(context.Background(), ev), ErrNotRunning)
	assert.Error(t, d.Start(context.Background()))
	d.Stop(context.Background())

	assert.Equal(t, "running", Running.String())
}

func TestStartupNotification(t *testing.T) {
	cfg := testConfig(t)
	cfg.Masters = config.Masters{"+1", "+2"}
	cfg.Service.StartupNotification = true
	_, bus := started(t, cfg)

	want := "Always at your service!" + chat.SuccessGlyph
	assert.Equal(t, []string{want}, bus.Texts(chat.NewDirect("+1")))
	assert.Equal(t, []string{want}, bus.Texts(chat.NewDirect("+2")))
}

func TestDuplicateEventsAreDropped(t *testing.T) {
	hub := events.NewHub(16)
	d, bus := started(t, testConfig(t), func(o *Options) { o.Events = hub })
	send(t, d, master, nil, "//enable pingpong")
	bus.Reset()

	ev := chat.NewEvent(time.Unix(42, 0), master, nil, "ping", nil)
	require.NoError(t, d.HandleInbound(context.Background(), ev))
	require.NoError(t, d.HandleInbound(context.Background(), ev))
	d.Wait()

	assert.Equal(t, []string{"pong"}, bus.Texts(chat.NewDirect(master)))
	types := eventTypes(hub)
	assert.Contains(t, types, events.DispatchDuplicate)
	assert.Contains(t, types, events.DispatchInbound)
}

func TestDedupeDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Service.DedupeTTL = 0
	d, bus := started(t, cfg)
	send(t, d, master, nil, "//enable pingpong")
	bus.Reset()

	ev := chat.NewEvent(time.Unix(42, 0), master, nil, "ping", nil)
	require.NoError(t, d.HandleInbound(context.Background(), ev))
	require.NoError(t, d.HandleInbound(context.Background(), ev))
	d.Wait()

	assert.Equal(t, []string{"pong", "pong"}, bus.Texts(chat.NewDirect(master)))
}

func TestEnablePersistsToConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "# convoy\nmasters: \"+123\"\ntransport:\n  kind: memory\nplugins: [pingpong]\ntesting_plugins: [locktest]\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	store := config.NewStore(path, cfg.Enabled)
	d, _ := started(t, cfg, func(o *Options) { o.Store = store })

	group := []byte{9}
	send(t, d, master, nil, "//enable pingpong locktest")
	send(t, d, master, group, "//enable pingpong")
	send(t, d, master, nil, "//disable locktest")

	reloaded, err := config.Load(path)
	require.NoError(t, err, "saved config must pass checksum verification")
	assert.Equal(t, map[string][]string{
		master:                        {"pingpong"},
		chat.NewGroup(group).String(): {"pingpong"},
	}, reloaded.Enabled)

	send(t, d, master, group, "//disable pingpong")
	reloaded, err = config.Load(path)
	require.NoError(t, err)
	assert.NotContains(t, reloaded.Enabled, chat.NewGroup(group).String())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# convoy")
}

func TestSaveFailureIsReported(t *testing.T) {
	store := config.NewStore(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	d, bus := started(t, testConfig(t), func(o *Options) { o.Store = store })

	send(t, d, master, nil, "//enable pingpong")
	assert.Equal(t, []string{
		"Plugin pingpong enabled." + chat.SuccessGlyph + "\nCould not save the config file." + chat.ErrorGlyph,
	}, bus.Texts(chat.NewDirect(master)))
	assert.Equal(t, []string{"pingpong"}, d.Enabled(chat.NewDirect(master)))
}

func TestMessageLog(t *testing.T) {
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	messages := state.NewMessageLog(db)

	d, _ := started(t, testConfig(t), func(o *Options) {
		o.Messages = messages
		o.State = state.NewStore(db)
	})
	send(t, d, master, nil, "//enable pingpong")
	send(t, d, master, nil, "ping")
	d.Wait()

	entries, err := messages.List(context.Background(), master, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	var got []string
	for _, e := range entries {
		got = append(got, string(e.Direction)+":"+e.Text)
	}
	assert.ElementsMatch(t, []string{
		"in://enable pingpong",
		"out:Plugin pingpong enabled." + chat.SuccessGlyph,
		"in:ping",
		"out:pong",
	}, got)
}

// heldSender blocks worker replies until released and fails them when their
// context is already done, as a network transport would.
type heldSender struct {
	next    chat.Sender
	release chan struct{}
}

func (h *heldSender) Send(ctx context.Context, msg chat.Message) error {
	if msg.Text == "pong" {
		<-h.release
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.next.Send(ctx, msg)
}

func TestWorkersOutliveTheDeliveringCall(t *testing.T) {
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	messages := state.NewMessageLog(db)

	cfg := testConfig(t)
	cfg.Enabled = map[string][]string{master: {"pingpong"}}
	bus := memory.New()
	held := &heldSender{next: bus, release: make(chan struct{})}
	d, _ := started(t, cfg, func(o *Options) {
		o.Sender = held
		o.Messages = messages
	})

	ctx, cancel := context.WithCancel(context.Background())
	ev := chat.NewEvent(time.Unix(1_700_000_000, clock.Add(1)), master, nil, "ping", nil)
	require.NoError(t, d.HandleInbound(ctx, ev))
	cancel()
	close(held.release)
	d.Wait()

	assert.Equal(t, []string{"pong"}, bus.Texts(chat.NewDirect(master)))

	entries, err := messages.List(context.Background(), master, 0)
	require.NoError(t, err)
	var got []string
	for _, e := range entries {
		got = append(got, string(e.Direction)+":"+e.Text)
	}
	assert.ElementsMatch(t, []string{"in:ping", "out:pong"}, got)
}

func TestStopCancelsWorkerContext(t *testing.T) {
	cfg := testConfig(t)
	cfg.Enabled = map[string][]string{master: {"pingpong"}}
	bus := memory.New()
	held := &heldSender{next: bus, release: make(chan struct{})}
	d, _ := started(t, cfg, func(o *Options) { o.Sender = held })

	send(t, d, master, nil, "ping")
	d.Stop(context.Background())
	close(held.release)
	d.Wait()

	assert.Empty(t, bus.Texts(chat.NewDirect(master)), "reply sent after stop")
}

func TestRunFeedsEventsUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Enabled = map[string][]string{master: {"pingpong"}}
	d, bus := newDispatcher(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, bus) }()

	require.NoError(t, bus.Inject(chat.NewEvent(time.Now(), master, nil, "ping", nil)))
	msgs, ok := bus.WaitFor(1, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, "pong", msgs[0].Text)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, Stopped, d.State())
}

func TestRunReportsClosedTransport(t *testing.T) {
	d, bus := newDispatcher(t, testConfig(t))

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), bus) }()

	require.Eventually(t, func() bool { return d.State() == Running }, time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTransportClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after transport closed")
	}
}

type tally struct{}

func (tally) HandleEvent(context.Context, *plugin.Chat, chat.Event) error { return nil }

func (tally) HandleScheduled(ctx context.Context, c *plugin.Chat, payload any) error {
	return c.Reply(ctx, payload.(string))
}

func TestBroadcast(t *testing.T) {
	catalog := plugin.NewCatalog()
	require.NoError(t, catalog.Register(plugin.Definition{
		Name: "tally",
		New:  func(plugin.Env) (plugin.Plugin, error) { return tally{}, nil },
		Collect: func(context.Context, plugin.Env) (any, error) {
			return "collected", nil
		},
	}))
	cfg := testConfig(t)
	cfg.Plugins = []string{"tally"}
	cfg.TestingPlugins = nil
	cfg.Enabled = map[string][]string{"+1": {"tally"}, "+2": {"tally"}}

	bus := memory.New()
	d, err := New(context.Background(), Options{Config: cfg, Catalog: catalog, Sender: bus})
	require.NoError(t, err)

	_, err = d.Broadcast(context.Background(), "tally")
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	n, err := d.Broadcast(context.Background(), "tally")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	d.Wait()
	assert.Equal(t, []string{"collected"}, bus.Texts(chat.NewDirect("+1")))
	assert.Equal(t, []string{"collected"}, bus.Texts(chat.NewDirect("+2")))

	_, err = d.Broadcast(context.Background(), "nope")
	assert.Error(t, err)
}

func eventTypes(hub *events.Hub) []string {
	var out []string
	for _, ev := range hub.SnapshotSince(0) {
		if !slices.Contains(out, ev.Type) {
			out = append(out, ev.Type)
		}
	}
	return out
}
