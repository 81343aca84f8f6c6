// Package sqlite provides a durable snapshot store for thread histories and
// run-context state, backed by modernc.org/sqlite (pure Go, no cgo). It plugs
// directly into the agency persistence hook contract: Load rehydrates a fresh
// ThreadStore, Save upserts the full snapshot. Both are idempotent and safe
// to call with partial data.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/agency/core"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS threads (
	key        TEXT PRIMARY KEY,
	messages   TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS run_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// Store persists snapshots in a single SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and initializes
// the schema. WAL mode and a busy timeout make the store safe for concurrent
// runs sharing one agency; SQLite allows a single writer, so the connection
// pool is capped at one.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_busy_timeout=5000",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral in-memory database, useful for tests.
func OpenInMemory() (*Store, error) {
	return Open(":memory:")
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Save upserts the full snapshot in one transaction. Threads absent from the
// snapshot are left untouched, so a partial snapshot never destroys earlier
// progress.
func (s *Store) Save(snapshot core.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return &core.PersistenceError{Op: "save", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	for key, msgs := range snapshot.Threads {
		payload, err := json.Marshal(msgs)
		if err != nil {
			return &core.PersistenceError{Op: "save", Err: fmt.Errorf("encode thread %s: %w", key, err)}
		}
		if _, err := tx.Exec(`
			INSERT INTO threads (key, messages, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				messages = excluded.messages,
				updated_at = excluded.updated_at
		`, key, string(payload), now); err != nil {
			return &core.PersistenceError{Op: "save", Err: fmt.Errorf("upsert thread %s: %w", key, err)}
		}
	}

	for key, value := range snapshot.State {
		payload, err := json.Marshal(value)
		if err != nil {
			return &core.PersistenceError{Op: "save", Err: fmt.Errorf("encode state %s: %w", key, err)}
		}
		if _, err := tx.Exec(`
			INSERT INTO run_state (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at
		`, key, string(payload), now); err != nil {
			return &core.PersistenceError{Op: "save", Err: fmt.Errorf("upsert state %s: %w", key, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &core.PersistenceError{Op: "save", Err: err}
	}
	return nil
}

// Load reads the complete persisted snapshot.
func (s *Store) Load() (core.Snapshot, error) {
	snapshot := core.Snapshot{
		Threads: map[string][]core.Message{},
		State:   map[string]any{},
	}

	rows, err := s.db.Query(`SELECT key, messages FROM threads`)
	if err != nil {
		return snapshot, &core.PersistenceError{Op: "load", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var key, payload string
		if err := rows.Scan(&key, &payload); err != nil {
			return snapshot, &core.PersistenceError{Op: "load", Err: err}
		}
		var msgs []core.Message
		if err := json.Unmarshal([]byte(payload), &msgs); err != nil {
			return snapshot, &core.PersistenceError{Op: "load", Err: fmt.Errorf("decode thread %s: %w", key, err)}
		}
		snapshot.Threads[key] = msgs
	}
	if err := rows.Err(); err != nil {
		return snapshot, &core.PersistenceError{Op: "load", Err: err}
	}

	stateRows, err := s.db.Query(`SELECT key, value FROM run_state`)
	if err != nil {
		return snapshot, &core.PersistenceError{Op: "load", Err: err}
	}
	defer stateRows.Close()

	for stateRows.Next() {
		var key, payload string
		if err := stateRows.Scan(&key, &payload); err != nil {
			return snapshot, &core.PersistenceError{Op: "load", Err: err}
		}
		var value any
		if err := json.Unmarshal([]byte(payload), &value); err != nil {
			return snapshot, &core.PersistenceError{Op: "load", Err: fmt.Errorf("decode state %s: %w", key, err)}
		}
		snapshot.State[key] = value
	}
	if err := stateRows.Err(); err != nil {
		return snapshot, &core.PersistenceError{Op: "load", Err: err}
	}

	return snapshot, nil
}

// Hooks returns the load/save pair wired for agency options.
func (s *Store) Hooks() (core.LoadHook, core.SaveHook) {
	return s.Load, s.Save
}
