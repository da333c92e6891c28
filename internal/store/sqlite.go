package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	process_date TEXT NOT NULL,
	started_at TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	success INTEGER NOT NULL,
	history_written INTEGER NOT NULL,
	transactions INTEGER NOT NULL,
	tickers INTEGER NOT NULL,
	universe_lines INTEGER NOT NULL,
	files_written INTEGER NOT NULL,
	error TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

const (
	journalDateLayout = "2006-01-02"
	journalTimeLayout = time.RFC3339Nano
)

// Journal records every pipeline run in a SQLite database.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (or creates) the journal database at path.
func NewJournal(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single writer keeps SQLite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	if err := addHistoryWritten(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// addHistoryWritten upgrades journals created before the history_written
// column existed. Old successful runs are taken as completed.
func addHistoryWritten(db *sql.DB) error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('runs') WHERE name = 'history_written'`).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = db.Exec(`
		ALTER TABLE runs ADD COLUMN history_written INTEGER NOT NULL DEFAULT 0;
		UPDATE runs SET history_written = success;`)
	return err
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordRun inserts rec, replacing any row with the same ID.
func (j *Journal) RecordRun(ctx context.Context, rec RunRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
		(id, process_date, started_at, duration_ms, success, history_written, transactions, tickers, universe_lines, files_written, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.ProcessDate.UTC().Format(journalDateLayout),
		rec.StartedAt.UTC().Format(journalTimeLayout),
		rec.Duration.Milliseconds(),
		boolToInt(rec.Success),
		boolToInt(rec.HistoryWritten),
		rec.Transactions,
		rec.Tickers,
		rec.UniverseLines,
		rec.FilesWritten,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", rec.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. A non-positive limit
// returns every run.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, process_date, started_at, duration_ms, success, history_written, transactions, tickers, universe_lines, files_written, error
		FROM runs
		ORDER BY started_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			rec                       RunRecord
			processDate, start        string
			durationMS, success, hist int64
		)
		if err := rows.Scan(&rec.ID, &processDate, &start, &durationMS, &success, &hist,
			&rec.Transactions, &rec.Tickers, &rec.UniverseLines, &rec.FilesWritten, &rec.Error); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if rec.ProcessDate, err = time.Parse(journalDateLayout, processDate); err != nil {
			return nil, fmt.Errorf("run %s: process_date: %w", rec.ID, err)
		}
		if rec.StartedAt, err = time.Parse(journalTimeLayout, start); err != nil {
			return nil, fmt.Errorf("run %s: started_at: %w", rec.ID, err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.Success = success != 0
		rec.HistoryWritten = hist != 0
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// LastCompleted returns the latest process date whose history files were
// all written. Runs that only missed the universe file count as completed.
func (j *Journal) LastCompleted(ctx context.Context) (time.Time, bool, error) {
	var processDate sql.NullString
	err := j.db.QueryRowContext(ctx,
		`SELECT MAX(process_date) FROM runs WHERE history_written = 1`).Scan(&processDate)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying last completed run: %w", err)
	}
	if !processDate.Valid {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(journalDateLayout, processDate.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last completed run: %w", err)
	}
	return t, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
