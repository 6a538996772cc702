// Package oplog persists the operation log shown by `logs` and GET /logs.
package oplog

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Operation names.
const (
	OpScheduledToggle = "scheduled_toggle"
	OpSmartToggle     = "smart_toggle"
	OpTimedToggle     = "timed_toggle"
	OpTurnOn          = "turn_on"
	OpTurnOff         = "turn_off"
	OpForceRefresh    = "force_refresh"
	OpStart           = "start"
	OpStop            = "stop"
	OpReactivate      = "reactivate"
	OpSettings        = "settings"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 100

// Entry is one logged operation.
type Entry struct {
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	Op     string    `json:"op"`
	Mode   string    `json:"mode,omitempty"`
	OK     bool      `json:"ok"`
	Detail string    `json:"detail,omitempty"`
}

// Store is a SQLite-backed operation log.
type Store struct {
	db *sql.DB

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Open opens (or creates) the log database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create oplog dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open oplog db: %w", err)
	}
	// One writer; the daemon and the API share this handle.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate oplog db: %w", err)
	}
	return &Store{db: db, entropy: ulid.Monotonic(rand.Reader, 0)}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS operations (
			id     TEXT PRIMARY KEY,
			at     TEXT NOT NULL,
			op     TEXT NOT NULL,
			mode   TEXT NOT NULL DEFAULT '',
			ok     INTEGER NOT NULL,
			detail TEXT NOT NULL DEFAULT ''
		)
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) newID(t time.Time) string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

// Record stores e, filling ID and At when empty.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.At = e.At.UTC()
	if e.ID == "" {
		e.ID = s.newID(e.At)
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO operations (id, at, op, mode, ok, detail) VALUES (?, ?, ?, ?, ?, ?)",
		e.ID, e.At.Format(time.RFC3339Nano), e.Op, e.Mode, ok, e.Detail,
	)
	if err != nil {
		return e, fmt.Errorf("record %s: %w", e.Op, err)
	}
	return e, nil
}

// List returns up to limit entries, newest first. limit <= 0 uses DefaultListLimit.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, at, op, mode, ok, detail FROM operations ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e  Entry
			at string
			ok int
		)
		if err := rows.Scan(&e.ID, &at, &e.Op, &e.Mode, &ok, &e.Detail); err != nil {
			return nil, err
		}
		e.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse time %q: %w", at, err)
		}
		e.OK = ok != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Clear deletes every entry and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM operations")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
