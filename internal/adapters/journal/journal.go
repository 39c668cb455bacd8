// Package journal records progress events in a SQLite database so a task's
// history can be inspected after the process exits.
package journal

import (
	"context"
	"crypto/rand"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_events.sql
var migrationV1 string

var migrations = []string{migrationV1}

// Entry is one recorded event.
type Entry struct {
	ID        string
	TaskID    string
	Type      string
	Payload   map[string]any
	CreatedAt time.Time
}

// Journal is a ProgressSink backed by SQLite.
type Journal struct {
	db   *sql.DB
	path string

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Open opens or creates the journal at path and applies pending migrations.
func Open(ctx context.Context, path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	j := &Journal{
		db:      db,
		path:    path,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	if err := j.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating journal: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, migrations[0]); err != nil {
		return fmt.Errorf("applying migration 1: %w", err)
	}

	var current int
	row := j.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		if i > 0 {
			if _, err := j.db.ExecContext(ctx, migrations[i]); err != nil {
				return fmt.Errorf("applying migration %d: %w", i+1, err)
			}
		}
		if _, err := j.db.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			i+1, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Emit implements core.ProgressSink.
func (j *Journal) Emit(ctx context.Context, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	taskID, _ := payload["task_id"].(string)
	now := time.Now().UTC()

	j.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(now), j.entropy).String()
	j.mu.Unlock()

	_, err = j.db.ExecContext(ctx,
		"INSERT INTO events (id, task_id, type, payload, created_at) VALUES (?, ?, ?, ?, ?)",
		id, taskID, eventType, string(data), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// List returns the events of taskID in emission order.
func (j *Journal) List(ctx context.Context, taskID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT id, task_id, type, payload, created_at FROM events WHERE task_id = ? ORDER BY id",
		taskID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var payload, created string
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Type, &payload, &created); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("decoding payload of %s: %w", e.ID, err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Tasks returns the distinct task IDs in the journal, most recent first.
func (j *Journal) Tasks(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT task_id FROM events GROUP BY task_id ORDER BY MAX(id) DESC")
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Path returns the database path.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
