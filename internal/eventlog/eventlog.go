// Package eventlog is a write-only, embedded-migration sqlite audit trail
// of session lifecycle events for post-hoc "why did my session disappear"
// support queries. The control API records the Session Manager's events
// (connected, disconnected, reaped); breakpoint delete counts and exit
// classifications are not recorded. It is never read back into the
// authoritative in-memory session state — spec's "no persisted state"
// contract for session state itself still holds.
package eventlog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the audit-trail database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at dsn and applies
// any pending migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: journal_mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("eventlog: migrate bootstrap: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("eventlog: read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		var applied int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, name).Scan(&applied)
		if err != nil {
			return fmt.Errorf("eventlog: check migration %s: %w", name, err)
		}
		if applied > 0 {
			continue
		}

		sqlBytes, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("eventlog: read migration %s: %w", name, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("eventlog: begin tx for %s: %w", name, err)
		}
		if _, err := tx.Exec(string(sqlBytes)); err != nil {
			tx.Rollback()
			return fmt.Errorf("eventlog: apply migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name) VALUES (?)`, name); err != nil {
			tx.Rollback()
			return fmt.Errorf("eventlog: record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("eventlog: commit migration %s: %w", name, err)
		}
	}
	return nil
}

// Record appends one lifecycle event. Best-effort: callers log failures
// rather than let audit-trail trouble affect live session handling.
func (s *Store) Record(ctx context.Context, sessionID, event, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events (session_id, event, detail) VALUES (?, ?, ?)`,
		sessionID, event, detail)
	if err != nil {
		return fmt.Errorf("eventlog: record: %w", err)
	}
	return nil
}

// EventRecord is one row from the audit trail.
type EventRecord struct {
	ID         int64
	SessionID  string
	Event      string
	Detail     sql.NullString
	OccurredAt string
}

// ForSession returns the audit trail for one session, oldest first.
func (s *Store) ForSession(ctx context.Context, sessionID string) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event, detail, occurred_at FROM session_events WHERE session_id = ? ORDER BY id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var r EventRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Event, &r.Detail, &r.OccurredAt); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
