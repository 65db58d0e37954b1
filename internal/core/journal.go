package core

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/cloudsync/cloudsync/internal/model"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS runs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id          TEXT NOT NULL UNIQUE,
    operation       TEXT NOT NULL,
    name            TEXT NOT NULL,
    state           TEXT NOT NULL DEFAULT 'pending'
                    CHECK(state IN ('pending', 'committed', 'failed')),
    dry_run         INTEGER NOT NULL DEFAULT 0,
    total           INTEGER NOT NULL DEFAULT 0,
    created         INTEGER NOT NULL DEFAULT 0,
    updated         INTEGER NOT NULL DEFAULT 0,
    removed         INTEGER NOT NULL DEFAULT 0,
    skipped         INTEGER NOT NULL DEFAULT 0,
    error           TEXT NOT NULL DEFAULT '',
    started_at      TEXT NOT NULL,
    finished_at     TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
CREATE INDEX IF NOT EXISTS idx_runs_name ON runs(name);
`

// Journal records every run in a SQLCipher database keyed by the passphrase.
//
// INVARIANTS:
// - A run is inserted as pending before the reconciler starts
// - A run ends committed or failed, never both
// - A wrong passphrase fails at open, not at first write
type Journal struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// OpenJournal opens (creating if needed) the journal at dbPath.
// An empty passphrase opens the database unencrypted.
func OpenJournal(ctx context.Context, dbPath, passphrase string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL", dbPath)
	if passphrase != "" {
		dsn += "&_pragma_key=" + url.QueryEscape(passphrase)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	// reading the schema fails when the key does not match
	var count int
	if err := db.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master").Scan(&count); err != nil {
		db.Close()
		return nil, fmt.Errorf("invalid passphrase or corrupted journal: %w", err)
	}
	if _, err := db.ExecContext(ctx, journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal: %w", err)
	}

	return &Journal{db: db, now: time.Now}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Begin records a pending run and returns its identifier.
func (j *Journal) Begin(ctx context.Context, op model.Operation, name string, dryRun bool) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	runID := uuid.New().String()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, operation, name, state, dry_run, started_at)
		VALUES (?, ?, ?, 'pending', ?, ?)
	`, runID, string(op), name, dryRun, j.now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("failed to begin run: %w", err)
	}
	return runID, nil
}

// Commit marks the run as committed with its final counts.
func (j *Journal) Commit(ctx context.Context, runID string, c Counts) error {
	return j.finish(ctx, runID, model.RunStateCommitted, c, "")
}

// Fail marks the run as failed with the counts reached and the error.
func (j *Journal) Fail(ctx context.Context, runID string, c Counts, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	return j.finish(ctx, runID, model.RunStateFailed, c, msg)
}

func (j *Journal) finish(ctx context.Context, runID string, state model.RunState, c Counts, msg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	res, err := j.db.ExecContext(ctx, `
		UPDATE runs
		SET state = ?, total = ?, created = ?, updated = ?, removed = ?, skipped = ?,
		    error = ?, finished_at = ?
		WHERE run_id = ? AND state = 'pending'
	`, string(state), c.Total(), c.Created, c.Updated, c.Removed, c.Skipped,
		msg, j.now().UTC().Format(time.RFC3339), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s is not pending", runID)
	}
	return nil
}

// Recent returns up to limit runs, newest first. A limit <= 0 returns all.
func (j *Journal) Recent(ctx context.Context, limit int) ([]*model.RunRecord, error) {
	query := runColumns + ` ORDER BY id DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return j.query(ctx, query, args...)
}

// Pending returns runs that never finished, oldest first.
func (j *Journal) Pending(ctx context.Context) ([]*model.RunRecord, error) {
	return j.query(ctx, runColumns+` WHERE state = 'pending' ORDER BY id ASC`)
}

const runColumns = `
	SELECT id, run_id, operation, name, state, dry_run, total, created, updated, removed, skipped,
	       error, started_at, finished_at
	FROM runs`

func (j *Journal) query(ctx context.Context, query string, args ...interface{}) ([]*model.RunRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []*model.RunRecord
	for rows.Next() {
		var rec model.RunRecord
		var op, state, startedAt string
		var finishedAt sql.NullString
		err := rows.Scan(&rec.ID, &rec.RunID, &op, &rec.Name, &state, &rec.DryRun,
			&rec.Total, &rec.Created, &rec.Updated, &rec.Removed, &rec.Skipped,
			&rec.Error, &startedAt, &finishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.Operation = model.Operation(op)
		rec.State = model.RunState(state)
		rec.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if finishedAt.Valid {
			rec.FinishedAt, _ = time.Parse(time.RFC3339, finishedAt.String)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
