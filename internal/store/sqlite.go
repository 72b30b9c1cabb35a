// Package store persists an audit trail of enrichment runs: one row per
// run plus the identifier substitutions and unresolved ids it produced.
package store

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Run statuses as stored in the runs table.
const (
	RunStatusRunning  = "running"
	RunStatusComplete = "complete"
	RunStatusFailed   = "failed"
)

// Run is one recorded enrichment run.
type Run struct {
	ID         string
	Input      string
	Status     string
	TotalRows  int64
	Written    int64
	StartedAt  time.Time
	FinishedAt *time.Time
}

// SQLiteStore implements the audit trail using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	input       TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	total_rows  INTEGER NOT NULL DEFAULT 0,
	written     INTEGER NOT NULL DEFAULT 0,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS aliases (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	original_id  TEXT NOT NULL,
	alternate_id TEXT NOT NULL,
	PRIMARY KEY (run_id, original_id)
);

CREATE TABLE IF NOT EXISTS unresolved (
	run_id  TEXT NOT NULL REFERENCES runs(id),
	unit_id TEXT NOT NULL,
	PRIMARY KEY (run_id, unit_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_aliases_run_id ON aliases(run_id);
CREATE INDEX IF NOT EXISTS idx_unresolved_run_id ON unresolved(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun records the start of an enrichment run over the given input.
func (s *SQLiteStore) CreateRun(ctx context.Context, input string, totalRows int) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, input, status, total_rows, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, input, RunStatusRunning, totalRows, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &Run{
		ID:        id,
		Input:     input,
		Status:    RunStatusRunning,
		TotalRows: int64(totalRows),
		StartedAt: now,
	}, nil
}

// FinishRun closes a run with its final status and written-row count.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID, status string, written int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, written = ?, finished_at = ? WHERE id = ?`,
		status, written, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// RecordAliases stores the identifier substitutions made during a run.
func (s *SQLiteStore) RecordAliases(ctx context.Context, runID string, aliases map[string]string) error {
	originals := make([]string, 0, len(aliases))
	for id := range aliases {
		originals = append(originals, id)
	}
	sort.Strings(originals)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin aliases tx")
	}
	defer tx.Rollback()

	for _, id := range originals {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO aliases (run_id, original_id, alternate_id) VALUES (?, ?, ?)`,
			runID, id, aliases[id],
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert alias %s", id)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit aliases")
}

// RecordUnresolved stores the ids that stayed missing after fallback
// resolution.
func (s *SQLiteStore) RecordUnresolved(ctx context.Context, runID string, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin unresolved tx")
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO unresolved (run_id, unit_id) VALUES (?, ?)`,
			runID, id,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert unresolved %s", id)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit unresolved")
}

// GetRun returns one run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, input, status, total_rows, written, started_at, finished_at FROM runs WHERE id = ?`,
		runID,
	)
	var (
		r        Run
		finished sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.Input, &r.Status, &r.TotalRows, &r.Written, &r.StartedAt, &finished); err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(err, "sqlite: run %s not found", runID)
		}
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, input, status, total_rows, written, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			finished sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Input, &r.Status, &r.TotalRows, &r.Written, &r.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// ListAliases returns the substitutions recorded for a run.
func (s *SQLiteStore) ListAliases(ctx context.Context, runID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT original_id, alternate_id FROM aliases WHERE run_id = ?`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list aliases for run %s", runID)
	}
	defer rows.Close()

	aliases := map[string]string{}
	for rows.Next() {
		var original, alternate string
		if err := rows.Scan(&original, &alternate); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alias")
		}
		aliases[original] = alternate
	}
	return aliases, eris.Wrap(rows.Err(), "sqlite: list aliases iterate")
}

// ListUnresolved returns the unresolved ids recorded for a run, sorted.
func (s *SQLiteStore) ListUnresolved(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT unit_id FROM unresolved WHERE run_id = ? ORDER BY unit_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list unresolved for run %s", runID)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan unresolved")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: list unresolved iterate")
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: %s %s not found", kind, id)
	}
	return nil
}
