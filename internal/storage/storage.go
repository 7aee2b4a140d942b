// Package storage persists the append-only event log in SQLite. The encoded
// byte stream is owned exclusively by this package; the in-memory state is
// reconstructed from it on every start.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"

	"github.com/weichain/gsol-minter/internal/events"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the sql.DB connection holding the event log.
type Store struct {
	conn *sql.DB
	path string
}

// New opens the event store at the given path with WAL mode and busy timeout.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", path, err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	// Events must be durable before RecordEvent returns.
	if _, err := conn.Exec("PRAGMA synchronous=FULL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	return &Store{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	slog.Info("closing event store", "path", s.path)
	return s.conn.Close()
}

// RunMigrations applies all pending SQL migration files from the embedded filesystem.
func (s *Store) RunMigrations() error {
	if _, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d", &version); err != nil {
			slog.Warn("skipping migration with unparseable version", "file", entry.Name())
			continue
		}

		var count int
		if err := s.conn.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("failed to check migration status for version %d: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", entry.Name(), err)
		}
		if _, err := s.conn.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("failed to record migration version %d: %w", version, err)
		}

		slog.Info("migration applied", "version", version, "file", entry.Name())
	}

	return nil
}

// RecordEvent appends one event to the log. The event is durable when the
// call returns.
func (s *Store) RecordEvent(ev events.Event) error {
	encoded, err := cbor.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event (tag %d): %w", ev.Payload.EventTag(), err)
	}
	if _, err := s.conn.Exec("INSERT INTO events (payload) VALUES (?)", encoded); err != nil {
		return fmt.Errorf("failed to append event (tag %d): %w", ev.Payload.EventTag(), err)
	}
	return nil
}

// ForEachEvent iterates over all events in insertion order. Used only during
// replay and for the storage diagnostic.
func (s *Store) ForEachEvent(f func(events.Event) error) error {
	rows, err := s.conn.Query("SELECT payload FROM events ORDER BY seq ASC")
	if err != nil {
		return fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var encoded []byte
		if err := rows.Scan(&encoded); err != nil {
			return fmt.Errorf("failed to scan event row: %w", err)
		}
		var ev events.Event
		if err := cbor.Unmarshal(encoded, &ev); err != nil {
			return fmt.Errorf("failed to decode stored event: %w", err)
		}
		if err := f(ev); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountEvents returns the number of events in the log.
func (s *Store) CountEvents() (int, error) {
	var count int
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// AllEvents loads the full log. Diagnostics only; replay streams instead.
func (s *Store) AllEvents() ([]events.Event, error) {
	var all []events.Event
	if err := s.ForEachEvent(func(ev events.Event) error {
		all = append(all, ev)
		return nil
	}); err != nil {
		return nil, err
	}
	return all, nil
}
