package signalcli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/convoy/internal/chat"
	"github.com/mattjoyce/convoy/internal/config"
	"github.com/mattjoyce/convoy/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

// fakeDaemon answers every request on the first accepted connection with
// reply and records the decoded requests.
type fakeDaemon struct {
	ln       net.Listener
	path     string
	conn     chan net.Conn
	requests chan map[string]any
	reply    func(req map[string]any) string
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	// Socket paths are length-limited, so avoid the long t.TempDir path.
	dir, err := os.MkdirTemp("", "sc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	path := filepath.Join(dir, "s")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	d := &fakeDaemon{
		ln:       ln,
		path:     path,
		conn:     make(chan net.Conn, 1),
		requests: make(chan map[string]any, 8),
		reply: func(req map[string]any) string {
			return `{"jsonrpc":"2.0","id":"` + req["id"].(string) + `","result":{"timestamp":1}}`
		},
	}
	go d.serve()
	return d
}

func (d *fakeDaemon) serve() {
	conn, err := d.ln.Accept()
	if err != nil {
		return
	}
	d.conn <- conn
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		var req map[string]any
		if json.Unmarshal(sc.Bytes(), &req) != nil {
			continue
		}
		d.requests <- req
		_, _ = conn.Write([]byte(d.reply(req) + "\n"))
	}
}

func (d *fakeDaemon) push(t *testing.T, line string) {
	t.Helper()
	select {
	case conn := <-d.conn:
		d.conn <- conn
		_, err := conn.Write([]byte(line + "\n"))
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("client never connected")
	}
}

func dial(t *testing.T, d *fakeDaemon) *Transport {
	t.Helper()
	tr, err := Dial(context.Background(), config.SignalCLIConfig{
		Socket:         d.path,
		Account:        "+100",
		AttachmentsDir: "/var/lib/signal/attachments",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func nextRequest(t *testing.T, d *fakeDaemon) map[string]any {
	t.Helper()
	select {
	case req := <-d.requests:
		return req
	case <-time.After(time.Second):
		t.Fatal("no request received")
		return nil
	}
}

func TestSendDirect(t *testing.T) {
	d := newFakeDaemon(t)
	tr := dial(t, d)

	err := tr.Send(context.Background(), chat.Message{
		To:          chat.NewDirect("+200"),
		Text:        "pong",
		Attachments: []string{"/tmp/a.png"},
	})
	require.NoError(t, err)

	req := nextRequest(t, d)
	assert.Equal(t, "send", req["method"])
	params := req["params"].(map[string]any)
	assert.Equal(t, "+100", params["account"])
	assert.Equal(t, []any{"+200"}, params["recipient"])
	assert.Equal(t, "pong", params["message"])
	assert.Equal(t, []any{"/tmp/a.png"}, params["attachments"])
	assert.NotContains(t, params, "groupId")
}

func TestSendGroup(t *testing.T) {
	d := newFakeDaemon(t)
	tr := dial(t, d)

	require.NoError(t, tr.Send(context.Background(), chat.Message{
		To:   chat.NewGroup([]byte{0, 1, 2}),
		Text: "hello",
	}))

	params := nextRequest(t, d)["params"].(map[string]any)
	assert.Equal(t, "AAEC", params["groupId"])
	assert.NotContains(t, params, "recipient")
	assert.NotContains(t, params, "attachments")
}

func TestSendReportsRPCError(t *testing.T) {
	d := newFakeDaemon(t)
	d.reply = func(req map[string]any) string {
		return `{"jsonrpc":"2.0","id":"` + req["id"].(string) + `","error":{"code":-1,"message":"unregistered user"}}`
	}
	tr := dial(t, d)

	err := tr.Send(context.Background(), chat.Message{To: chat.NewDirect("+200"), Text: "x"})
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr), "got %v", err)
	assert.Equal(t, "unregistered user", rpcErr.Message)
}

func TestSendWithoutDestination(t *testing.T) {
	d := newFakeDaemon(t)
	tr := dial(t, d)
	assert.Error(t, tr.Send(context.Background(), chat.Message{Text: "x"}))
}

func TestReceiveConvertsEnvelopes(t *testing.T) {
	d := newFakeDaemon(t)
	tr := dial(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := tr.Receive(ctx)
	require.NoError(t, err)

	// Receipts carry no dataMessage and are dropped.
	d.push(t, `{"jsonrpc":"2.0","method":"receive","params":{"envelope":{"sourceNumber":"+200","timestamp":5,"receiptMessage":{}}}}`)
	d.push(t, `{"jsonrpc":"2.0","method":"receive","params":{"envelope":{"source":"+200","sourceNumber":"+200","timestamp":1700000000000,"dataMessage":{"timestamp":1700000000000,"message":"ping"}}}}`)
	d.push(t, `{"jsonrpc":"2.0","method":"receive","params":{"envelope":{"sourceUuid":"u-1","timestamp":7,"dataMessage":{"message":"","attachments":[{"id":"abc.jpg","contentType":"image/jpeg"}],"groupInfo":{"groupId":"AAEC"}}}}}`)

	recv := func() chat.Event {
		select {
		case ev := <-events:
			return ev
		case <-time.After(time.Second):
			t.Fatal("no event received")
			return chat.Event{}
		}
	}

	ev := recv()
	assert.Equal(t, "ping", ev.Text)
	assert.Equal(t, "+200", ev.Sender)
	assert.Equal(t, chat.NewDirect("+200"), ev.Conversation)
	assert.Equal(t, time.UnixMilli(1700000000000), ev.Timestamp)

	ev = recv()
	assert.Equal(t, "u-1", ev.Sender)
	assert.Equal(t, chat.NewGroup([]byte{0, 1, 2}), ev.Conversation)
	assert.Equal(t, []string{"/var/lib/signal/attachments/abc.jpg"}, ev.AttachmentPaths)
	assert.Equal(t, time.UnixMilli(7), ev.Timestamp)
}

func TestReceiveEndsWhenConnectionDrops(t *testing.T) {
	d := newFakeDaemon(t)
	tr := dial(t, d)

	events, err := tr.Receive(context.Background())
	require.NoError(t, err)

	conn := <-d.conn
	require.NoError(t, conn.Close())

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("event stream stayed open after disconnect")
	}

	err = tr.Send(context.Background(), chat.Message{To: chat.NewDirect("+1"), Text: "x"})
	assert.Error(t, err)
}
