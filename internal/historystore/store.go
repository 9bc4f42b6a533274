// Package historystore optionally mirrors each run's Result into a local
// SQLite database, purely for operator inspection via the `atomloop jobs`
// subcommand. The Iteration Driver never imports it — the CLI records each
// run once, after the driver has returned its Result.
package historystore

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/atomloop/atomloop/internal/driver"
)

// Store persists run summaries to a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at dsn and
// ensures its schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history store %s: %w", dsn, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to history store %s: %w", dsn, err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	task_text        TEXT NOT NULL,
	success          INTEGER NOT NULL,
	iterations       INTEGER NOT NULL,
	reason           TEXT NOT NULL,
	output           TEXT NOT NULL,
	duration_seconds REAL NOT NULL,
	started_at       TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history store schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveResult records one run's outcome. runID should be unique per run
// (the driver's minted UUID).
func (s *Store) SaveResult(runID, taskText string, result driver.Result, startedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO runs (id, task_text, success, iterations, reason, output, duration_seconds, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, taskText, boolToInt(result.Success), result.Iterations, string(result.Reason), result.Output, result.DurationSeconds, startedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", runID, err)
	}
	return nil
}

// Summary is a lightweight listing row, truncated for display the way
// the teacher's job listing truncates its task field.
type Summary struct {
	ID              string
	Task            string
	Success         bool
	Iterations      int
	Reason          string
	DurationSeconds float64
	StartedAt       time.Time
}

// List returns every recorded run, newest first.
func (s *Store) List() ([]Summary, error) {
	rows, err := s.db.Query(`SELECT id, task_text, success, iterations, reason, duration_seconds, started_at FROM runs`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var (
			sum        Summary
			successInt int
			startedAt  string
		)
		if err := rows.Scan(&sum.ID, &sum.Task, &successInt, &sum.Iterations, &sum.Reason, &sum.DurationSeconds, &startedAt); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		sum.Success = successInt != 0
		if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
			sum.StartedAt = t
		}
		if len(sum.Task) > 60 {
			sum.Task = sum.Task[:57] + "..."
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run rows: %w", err)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})

	return summaries, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
