package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const openTimeout = 5 * time.Second

var pragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA journal_mode = WAL",
}

// migrations are applied in order; PRAGMA user_version records how many ran.
// Append only.
var migrations = []string{
	`CREATE TABLE plugin_state (
  plugin_name  TEXT NOT NULL,
  conversation TEXT NOT NULL,
  state        JSON NOT NULL DEFAULT '{}',
  updated_at   TEXT,
  PRIMARY KEY (plugin_name, conversation)
)`,
	`CREATE TABLE message_log (
  id           TEXT PRIMARY KEY,
  conversation TEXT NOT NULL,
  direction    TEXT NOT NULL,
  sender       TEXT NOT NULL DEFAULT '',
  body         TEXT NOT NULL,
  attachments  JSON NOT NULL DEFAULT '[]',
  sent_at      TEXT NOT NULL,
  created_at   TEXT NOT NULL
)`,
	`CREATE INDEX message_log_conversation_created_at_idx ON message_log(conversation, created_at)`,
}

// OpenSQLite opens the state database at path, creating its directory, and
// brings the schema up to date.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("state.path is empty")
	}
	if err := RequireLocal(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := prepare(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func prepare(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("apply %q: %w", p, err)
		}
	}
	return Migrate(ctx, db)
}

// SchemaVersion returns the number of migrations applied to db.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// Migrate applies pending migrations, each in its own transaction. A database
// newer than this binary is an error.
func Migrate(ctx context.Context, db *sql.DB) error {
	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("schema version %d is newer than supported %d", current, len(migrations))
	}
	for i := current; i < len(migrations); i++ {
		if err := applyMigration(ctx, db, i); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, i int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: %w", i+1, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
		return fmt.Errorf("migration %d: %w", i+1, err)
	}
	// PRAGMA does not take bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
		return fmt.Errorf("migration %d: set version: %w", i+1, err)
	}
	return tx.Commit()
}
