// Package signalcli talks to a signal-cli daemon over its JSON-RPC UNIX
// socket.
package signalcli

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/mattjoyce/convoy/internal/chat"
	"github.com/mattjoyce/convoy/internal/config"
	"github.com/mattjoyce/convoy/internal/log"
)

// Transport sends and receives Signal messages through signal-cli.
type Transport struct {
	rpc            *rpcConn
	account        string
	attachmentsDir string
	logger         *slog.Logger
}

// Dial connects to the daemon socket named in cfg.
func Dial(ctx context.Context, cfg config.SignalCLIConfig) (*Transport, error) {
	rpc, err := dialRPC(ctx, cfg.Socket)
	if err != nil {
		return nil, err
	}
	return &Transport{
		rpc:            rpc,
		account:        cfg.Account,
		attachmentsDir: cfg.AttachmentsDir,
		logger:         log.WithComponent("signal-cli"),
	}, nil
}

// Send delivers msg to a recipient or a group.
func (t *Transport) Send(ctx context.Context, msg chat.Message) error {
	params := map[string]any{"message": msg.Text}
	if t.account != "" {
		params["account"] = t.account
	}
	switch {
	case msg.To.IsGroup():
		params["groupId"] = base64.StdEncoding.EncodeToString(msg.To.Bytes())
	case msg.To.Participant() != "":
		params["recipient"] = []string{msg.To.Participant()}
	default:
		return fmt.Errorf("message has no destination")
	}
	if len(msg.Attachments) > 0 {
		params["attachments"] = msg.Attachments
	}

	if _, err := t.rpc.call(ctx, "send", params); err != nil {
		return fmt.Errorf("send to %s: %w", msg.To, err)
	}
	return nil
}

// Receive streams inbound data messages until ctx is done or the connection
// drops. It must be called at most once.
func (t *Transport) Receive(ctx context.Context) (<-chan chat.Event, error) {
	out := make(chan chat.Event, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-t.rpc.notifications:
				if !ok {
					t.logger.Warn("signal-cli connection closed")
					return
				}
				ev, ok := t.toEvent(n)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close disconnects from the daemon.
func (t *Transport) Close() error {
	return t.rpc.close()
}

func (t *Transport) toEvent(n *notification) (chat.Event, bool) {
	if n.Method != "receive" {
		return chat.Event{}, false
	}
	var params struct {
		Envelope *envelope `json:"envelope"`
	}
	if err := json.Unmarshal(n.Params, &params); err != nil || params.Envelope == nil {
		t.logger.Debug("ignoring malformed receive notification", "error", err)
		return chat.Event{}, false
	}
	env := params.Envelope
	dm := env.DataMessage
	if dm == nil || (dm.Message == "" && len(dm.Attachments) == 0) {
		return chat.Event{}, false
	}

	sender := env.SourceNumber
	if sender == "" {
		sender = env.Source
	}
	if sender == "" {
		sender = env.SourceUUID
	}

	var groupID []byte
	if dm.GroupInfo != nil && dm.GroupInfo.GroupID != "" {
		raw, err := base64.StdEncoding.DecodeString(dm.GroupInfo.GroupID)
		if err != nil {
			t.logger.Warn("ignoring message with undecodable group id", "group_id", dm.GroupInfo.GroupID, "error", err)
			return chat.Event{}, false
		}
		groupID = raw
	}

	var paths []string
	for _, a := range dm.Attachments {
		p := a.ID
		if t.attachmentsDir != "" {
			p = filepath.Join(t.attachmentsDir, a.ID)
		}
		paths = append(paths, p)
	}

	ts := dm.Timestamp
	if ts == 0 {
		ts = env.Timestamp
	}
	return chat.NewEvent(time.UnixMilli(ts), sender, groupID, dm.Message, paths), true
}

type envelope struct {
	Source       string       `json:"source"`
	SourceNumber string       `json:"sourceNumber"`
	SourceUUID   string       `json:"sourceUuid"`
	Timestamp    int64        `json:"timestamp"`
	DataMessage  *dataMessage `json:"dataMessage,omitempty"`
}

type dataMessage struct {
	Timestamp   int64        `json:"timestamp"`
	Message     string       `json:"message"`
	Attachments []attachment `json:"attachments"`
	GroupInfo   *groupInfo   `json:"groupInfo,omitempty"`
}

type attachment struct {
	ContentType string `json:"contentType"`
	Filename    string `json:"filename"`
	ID          string `json:"id"`
}

type groupInfo struct {
	GroupID string `json:"groupId"`
	Type    string `json:"type"`
}
