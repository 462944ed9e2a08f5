// Package history persists one record per generation run in a local SQLite
// database, backing the CLI history listing and the serve mode task status.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Run is one generation run.
type Run struct {
	ID       string
	Lat      float64
	Lon      float64
	Size     int
	Rotation float64
	Provider string
	Started  time.Time
	Finished time.Time
	Status   string
	Error    string
}

// Duration returns the run's wall-clock duration, zero while running.
func (r Run) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

const createTable = `
CREATE TABLE IF NOT EXISTS runs (
	id       TEXT PRIMARY KEY,
	lat      REAL NOT NULL,
	lon      REAL NOT NULL,
	size     INTEGER NOT NULL,
	rotation REAL NOT NULL,
	provider TEXT NOT NULL,
	started  INTEGER NOT NULL,
	finished INTEGER NOT NULL DEFAULT 0,
	status   TEXT NOT NULL,
	error    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_started ON runs (started DESC);
`

// Store is the run history database. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(filepath.Clean(path)), 0777); err != nil {
		return nil, fmt.Errorf("history: create database dir: %w", err)
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: ping database: %w", err)
	}
	if _, err := db.Exec(createTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin records the start of a run with StatusRunning.
func (s *Store) Begin(ctx context.Context, run Run) error {
	if run.Started.IsZero() {
		run.Started = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, lat, lon, size, rotation, provider, started, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Lat, run.Lon, run.Size, run.Rotation, run.Provider,
		toMillis(run.Started), StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("history: record run start: %w", err)
	}
	return nil
}

// Finish records the outcome of a run. A nil runErr marks it done, anything
// else failed with the error text kept.
func (s *Store) Finish(ctx context.Context, id string, runErr error) error {
	status, errText := StatusDone, ""
	if runErr != nil {
		status, errText = StatusFailed, runErr.Error()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished = ?, status = ?, error = ? WHERE id = ?`,
		toMillis(time.Now()), status, errText, id,
	)
	if err != nil {
		return fmt.Errorf("history: record run finish: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("history: unknown run %s", id)
	}
	return nil
}

// Get returns one run by id.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	rows, err := s.query(ctx, `WHERE id = ?`, id)
	if err != nil {
		return Run{}, err
	}
	if len(rows) == 0 {
		return Run{}, sql.ErrNoRows
	}
	return rows[0], nil
}

// Recent returns the newest runs, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.query(ctx, `ORDER BY started DESC, id LIMIT ?`, limit)
}

// Prune deletes all but the newest keep runs and returns how many rows went.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started DESC, id LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return int(n), nil
}

func (s *Store) query(ctx context.Context, tail string, args ...any) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lat, lon, size, rotation, provider, started, finished, status, error
		FROM runs `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &r.Lat, &r.Lon, &r.Size, &r.Rotation,
			&r.Provider, &started, &finished, &r.Status, &r.Error); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		r.Started = fromMillis(started)
		r.Finished = fromMillis(finished)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: query runs: %w", err)
	}
	return runs, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}
