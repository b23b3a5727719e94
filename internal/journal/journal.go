// Package journal keeps a durable record of every session notification in
// SQLite so that finished sessions can still be inspected.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bhandras/ussdpilot/internal/bus"
	"github.com/bhandras/ussdpilot/pkg/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	noteSessionEnded = "SESSION_ENDED"
	writeTimeout     = 5 * time.Second
)

// Event is one journaled notification.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	State     string    `json:"state,omitempty"`
	At        time.Time `json:"at"`
}

// SessionRecord summarises one session.
type SessionRecord struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	FinalState string     `json:"finalState,omitempty"`
	EndReason  string     `json:"endReason,omitempty"`
}

// Journal is the SQLite-backed notification store.
type Journal struct {
	db *sql.DB
}

// Open opens the database at path and applies pending migrations. Use
// ":memory:" for a throwaway journal.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// One connection keeps an in-memory database alive and serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Journal{db: db}, nil
}

// runMigrations applies every embedded migration not yet recorded in
// schema_migrations, in file name order.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")

		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		body, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", version, err)
		}
		if _, err := db.Exec(string(body)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", version, err)
		}
		if _, err := db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", version, err)
		}
	}
	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores n. The first notification of a session creates its row and
// SESSION_ENDED closes it. Every notification is appended as an event.
func (j *Journal) Record(ctx context.Context, n bus.Notification) error {
	if strings.TrimSpace(n.SessionID) == "" {
		return nil
	}
	atMs := n.At.UnixMilli()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Rows for sessions first seen mid-flight are created on demand.
	_, err = tx.ExecContext(ctx, `
INSERT INTO sessions (id, started_at_ms) VALUES (?, ?)
ON CONFLICT(id) DO NOTHING;
`, n.SessionID, atMs)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if n.Type == noteSessionEnded {
		_, err = tx.ExecContext(ctx, `
UPDATE sessions SET ended_at_ms = ?, final_state = ?, end_reason = ?
WHERE id = ? AND ended_at_ms IS NULL;
`, atMs, n.State, n.Message, n.SessionID)
		if err != nil {
			return fmt.Errorf("close session: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO session_events (session_id, type, message, state, at_ms)
VALUES (?, ?, ?, ?, ?);
`, n.SessionID, n.Type, n.Message, n.State, atMs)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

// Events returns the journaled notifications of sessionID, oldest first.
func (j *Journal) Events(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT id, session_id, type, message, state, at_ms
FROM session_events
WHERE session_id = ?
ORDER BY id ASC;
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e    Event
			atMs int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.Message, &e.State, &atMs); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.At = time.UnixMilli(atMs)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Sessions returns the most recent sessions, newest first. limit <= 0
// returns all of them.
func (j *Journal) Sessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	query := `
SELECT id, started_at_ms, ended_at_ms, final_state, end_reason
FROM sessions
ORDER BY started_at_ms DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			r         SessionRecord
			startedMs int64
			endedMs   sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &startedMs, &endedMs, &r.FinalState, &r.EndReason); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		r.StartedAt = time.UnixMilli(startedMs)
		if endedMs.Valid {
			ended := time.UnixMilli(endedMs.Int64)
			r.EndedAt = &ended
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Subscriber is the part of the bus the journal listens on.
type Subscriber interface {
	Subscribe(topic string, handler bus.Handler) *bus.Subscription
}

// Follow records every session notification published on b. Write failures
// are logged and do not affect the sessions.
func (j *Journal) Follow(b Subscriber) *bus.Subscription {
	return b.Subscribe(bus.TopicSessionEvent, func(_ string, payload any) {
		n, ok := payload.(bus.Notification)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := j.Record(ctx, n); err != nil {
			logger.Warnf("[journal] %s %s not recorded: %v", n.SessionID, n.Type, err)
		}
	})
}
