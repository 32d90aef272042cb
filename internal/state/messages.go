package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Direction tells inbound events apart from outbound replies.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

const defaultListLimit = 100

// Entry is one logged chat message.
type Entry struct {
	ID           string    `json:"id"`
	Conversation string    `json:"conversation"`
	Direction    Direction `json:"direction"`
	Sender       string    `json:"sender,omitempty"`
	Text         string    `json:"text"`
	Attachments  []string  `json:"attachments,omitempty"`
	SentAt       time.Time `json:"sent_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// MessageLog is an append-only record of inbound and outbound messages.
type MessageLog struct {
	db  *sql.DB
	now func() time.Time
}

func NewMessageLog(db *sql.DB) *MessageLog {
	return &MessageLog{db: db, now: time.Now}
}

// Append stores e, filling ID and CreatedAt. A zero SentAt defaults to now.
func (l *MessageLog) Append(ctx context.Context, e Entry) (Entry, error) {
	if strings.TrimSpace(e.Conversation) == "" {
		return Entry{}, fmt.Errorf("conversation is empty")
	}
	if e.Direction != Inbound && e.Direction != Outbound {
		return Entry{}, fmt.Errorf("invalid direction %q", e.Direction)
	}

	e.ID = uuid.NewString()
	e.CreatedAt = l.now().UTC()
	if e.SentAt.IsZero() {
		e.SentAt = e.CreatedAt
	}

	attachments := e.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	attJSON, err := json.Marshal(attachments)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal attachments: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
INSERT INTO message_log(id, conversation, direction, sender, body, attachments, sent_at, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.Conversation, string(e.Direction), e.Sender, e.Text, string(attJSON),
		e.SentAt.UTC().Format(time.RFC3339Nano), e.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Entry{}, fmt.Errorf("insert message log: %w", err)
	}
	return e, nil
}

// List returns up to limit entries, newest first. An empty conversation lists
// every conversation.
func (l *MessageLog) List(ctx context.Context, conversation string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
SELECT id, conversation, direction, sender, body, attachments, sent_at, created_at
FROM message_log`
	args := []any{}
	if conversation != "" {
		query += "\nWHERE conversation = ?"
		args = append(args, conversation)
	}
	query += "\nORDER BY created_at DESC, rowid DESC\nLIMIT ?;"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query message log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message log rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e                 Entry
		direction         string
		attJSON           string
		sentAtS, createdS string
	)
	if err := row.Scan(&e.ID, &e.Conversation, &direction, &e.Sender, &e.Text, &attJSON, &sentAtS, &createdS); err != nil {
		return Entry{}, err
	}
	e.Direction = Direction(direction)

	if err := json.Unmarshal([]byte(attJSON), &e.Attachments); err != nil {
		return Entry{}, fmt.Errorf("decode attachments of message %q: %w", e.ID, err)
	}
	if len(e.Attachments) == 0 {
		e.Attachments = nil
	}

	var err error
	if e.SentAt, err = time.Parse(time.RFC3339Nano, sentAtS); err != nil {
		return Entry{}, fmt.Errorf("parse message_log.sent_at: %w", err)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdS); err != nil {
		return Entry{}, fmt.Errorf("parse message_log.created_at: %w", err)
	}
	return e, nil
}
