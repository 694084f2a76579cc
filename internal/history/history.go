// File: internal/history/history.go
// Brief: SQLite record of past chefctl runs.

// Package history keeps one row per chefctl run in a small SQLite database
// next to the chef-client logs.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoHistory is returned when a read-only open finds no database.
var ErrNoHistory = errors.New("no run history recorded yet")

// Entry is one chefctl run.
type Entry struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Status      string    `json:"status"`
	ExitCode    int       `json:"exit_code"`
	Attempts    int       `json:"attempts"`
	LogFile     string    `json:"log_file"`
	AttrsDigest string    `json:"attrs_digest,omitempty"`
	RepoRev     string    `json:"repo_revision,omitempty"`
	Owner       string    `json:"owner"`
	Args        []string  `json:"args"`
	Error       string    `json:"error,omitempty"`
}

// Duration is the wall time of the run.
func (e Entry) Duration() time.Duration {
	if e.FinishedAt.IsZero() || e.StartedAt.IsZero() {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// Open opens (and for writers creates) the database at path.
func Open(ctx context.Context, path string, readOnly bool) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history database path is empty")
	}
	if readOnly {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w (%s)", ErrNoHistory, path)
			}
			return nil, err
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dataSource(path, readOnly))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, path: path, readOnly: readOnly}
	if !readOnly {
		if err := s.initSchema(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// busyTimeoutMS is how long a connection waits on a locked database.
const busyTimeoutMS = 5000

// dataSource builds the modernc DSN. The busy timeout is applied through the
// driver's _pragma parameter so every pooled connection gets it; readers open
// the file URI in read-only mode.
func dataSource(path string, readOnly bool) string {
	q := url.Values{}
	q.Set("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	if !readOnly {
		return path + "?" + q.Encode()
	}
	q.Set("mode", "ro")
	u := url.URL{Scheme: "file", Path: path, RawQuery: q.Encode()}
	return u.String()
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`
CREATE TABLE IF NOT EXISTS chefctl_runs (
  run_id TEXT PRIMARY KEY,
  started_at_ns INTEGER NOT NULL,
  finished_at_ns INTEGER NOT NULL,
  status TEXT NOT NULL,
  exit_code INTEGER NOT NULL,
  attempts INTEGER NOT NULL,
  log_file TEXT NOT NULL,
  attrs_digest TEXT NOT NULL,
  repo_revision TEXT NOT NULL,
  owner TEXT NOT NULL,
  args_json TEXT NOT NULL,
  error TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS chefctl_runs_started ON chefctl_runs(started_at_ns);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init history schema: %w", err)
		}
	}
	return nil
}

// Record inserts or replaces the row for e.ID.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if s.readOnly {
		return errors.New("history store is read-only")
	}
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("history entry has no run id")
	}
	args := e.Args
	if args == nil {
		args = []string{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO chefctl_runs (run_id, started_at_ns, finished_at_ns, status, exit_code, attempts, log_file, attrs_digest, repo_revision, owner, args_json, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
  finished_at_ns=excluded.finished_at_ns,
  status=excluded.status,
  exit_code=excluded.exit_code,
  attempts=excluded.attempts,
  log_file=excluded.log_file,
  attrs_digest=excluded.attrs_digest,
  repo_revision=excluded.repo_revision,
  args_json=excluded.args_json,
  error=excluded.error
`, e.ID, unixNano(e.StartedAt), unixNano(e.FinishedAt), e.Status, e.ExitCode, e.Attempts, e.LogFile, e.AttrsDigest, e.RepoRev, e.Owner, string(argsJSON), e.Error)
	if err != nil {
		return fmt.Errorf("record run %s: %w", e.ID, err)
	}
	return nil
}

// List returns the most recent runs first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	q := `SELECT run_id, started_at_ns, finished_at_ns, status, exit_code, attempts, log_file, attrs_digest, repo_revision, owner, args_json, error
FROM chefctl_runs ORDER BY started_at_ns DESC, run_id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                 Entry
			started, finished int64
			argsJSON          string
		)
		if err := rows.Scan(&e.ID, &started, &finished, &e.Status, &e.ExitCode, &e.Attempts, &e.LogFile, &e.AttrsDigest, &e.RepoRev, &e.Owner, &argsJSON, &e.Error); err != nil {
			return nil, err
		}
		e.StartedAt = fromUnixNano(started)
		e.FinishedAt = fromUnixNano(finished)
		if err := json.Unmarshal([]byte(argsJSON), &e.Args); err != nil {
			return nil, fmt.Errorf("decode args for run %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune keeps the newest keep runs and deletes the rest.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
DELETE FROM chefctl_runs WHERE run_id NOT IN (
  SELECT run_id FROM chefctl_runs ORDER BY started_at_ns DESC, run_id DESC LIMIT ?
)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
