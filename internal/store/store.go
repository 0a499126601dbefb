// Package store implements the optional durable event/trade log (spec §6:
// "Training data, long-term trade logs, and caches are OPTIONAL ... which
// MUST be replaceable with no-ops"). Backed by modernc.org/sqlite (pure
// Go, cgo-free) with vmihailenco/msgpack/v5 encoding the appended payloads,
// the same pairing the teacher reaches for elsewhere in the pack for
// compact on-disk records.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

// Store is the durable append-only log contract (spec §6: "Store.Append(event)").
type Store interface {
	Append(ctx context.Context, kind string, payload any) error
	Close() error
}

// NoOp satisfies Store by discarding everything — the default when no
// durable store is configured, matching the spec's "MUST be replaceable
// with no-ops" requirement.
type NoOp struct{}

func (NoOp) Append(context.Context, string, any) error { return nil }
func (NoOp) Close() error                              { return nil }

// SQLiteStore persists appended records to a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates/opens a SQLite-backed Store at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn

	const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	payload BLOB NOT NULL,
	created_at DATETIME NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append msgpack-encodes payload and inserts one row.
func (s *SQLiteStore) Append(ctx context.Context, kind string, payload any) error {
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return fmt.Errorf("store: encode payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (kind, payload, created_at) VALUES (?, ?, ?)`,
		kind, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: insert: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
