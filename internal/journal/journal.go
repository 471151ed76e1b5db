// Package journal keeps the history of migration runs in SQLite so an
// interrupted run can be resumed after its last processed database.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lherron/couchmig/internal/db"
	"github.com/lherron/couchmig/internal/migrate"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

// Run is one recorded run
type Run struct {
	ID         string     `json:"id" yaml:"id"`
	Op         string     `json:"op" yaml:"op"`
	Prefix     string     `json:"prefix" yaml:"prefix"`
	Host       string     `json:"host" yaml:"host"`
	Source     string     `json:"source,omitempty" yaml:"source,omitempty"`
	Target     string     `json:"target,omitempty" yaml:"target,omitempty"`
	After      string     `json:"after,omitempty" yaml:"after,omitempty"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Status     string     `json:"status" yaml:"status"`
	Total      int        `json:"total" yaml:"total"`
	Succeeded  int        `json:"succeeded" yaml:"succeeded"`
	Failed     int        `json:"failed" yaml:"failed"`
}

// Item is one processed database of a run
type Item struct {
	Seq        int       `json:"seq" yaml:"seq"`
	DB         string    `json:"db" yaml:"db"`
	Status     string    `json:"status" yaml:"status"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
}

// Item statuses
const (
	ItemSuccess = "success"
	ItemError   = "error"
)

// Journal records runs. It implements migrate.Recorder.
type Journal struct {
	db *db.DB
}

var _ migrate.Recorder = (*Journal)(nil)

// Open opens the journal at path, applying pending schema migrations
func Open(path string) (*Journal, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return &Journal{db: database}, nil
}

// New wraps an already migrated database
func New(database *db.DB) *Journal {
	return &Journal{db: database}
}

// Path returns the journal file path
func (j *Journal) Path() string {
	return j.db.Path()
}

// Close closes the journal
func (j *Journal) Close() error {
	return j.db.Close()
}

// BeginRun records the start of a run
func (j *Journal) BeginRun(ctx context.Context, id string, info migrate.RunInfo) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, op, prefix, host, source, target, after_db, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, info.Op, info.Prefix, info.Host, info.Source, info.Target, info.After,
		formatTime(time.Now()), migrate.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", id, err)
	}
	return nil
}

// RecordItem records one processed database
func (j *Journal) RecordItem(ctx context.Context, runID string, seq int, dbName string, itemErr error) error {
	status := ItemSuccess
	var message sql.NullString
	if itemErr != nil {
		status = ItemError
		message = sql.NullString{String: itemErr.Error(), Valid: true}
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO run_items (run_id, seq, db, status, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, seq, dbName, status, message, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to insert item %s of run %s: %w", dbName, runID, err)
	}
	return nil
}

// FinishRun records the outcome of a run
func (j *Journal) FinishRun(ctx context.Context, summary migrate.RunSummary) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, status = ?, total = ?, succeeded = ?, failed = ?
		WHERE id = ?
	`, formatTime(summary.FinishedAt), summary.Status, summary.Total, summary.Succeeded, summary.Failed, summary.ID)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", summary.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", summary.ID)
	}
	return nil
}

// ResumePoint returns the database to resume after for op and prefix. Only
// the most recent run counts, and only when it did not run to completion:
// still marked running (the process died) or aborted. ok is false when there
// is nothing to resume.
func (j *Journal) ResumePoint(ctx context.Context, op, prefix string) (after string, ok bool, err error) {
	var id, status, runAfter string
	err = j.db.QueryRowContext(ctx, `
		SELECT id, status, after_db FROM runs
		WHERE op = ? AND prefix = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1
	`, op, prefix).Scan(&id, &status, &runAfter)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query last run: %w", err)
	}
	if status != migrate.StatusRunning && status != migrate.StatusAborted {
		return "", false, nil
	}

	var last string
	err = j.db.QueryRowContext(ctx, `
		SELECT db FROM run_items WHERE run_id = ? ORDER BY seq DESC LIMIT 1
	`, id).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// interrupted before its first item; resume where it resumed
		return runAfter, runAfter != "", nil
	case err != nil:
		return "", false, fmt.Errorf("failed to query last item of run %s: %w", id, err)
	}
	return last, true, nil
}

// Runs returns the most recent runs, newest first
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, op, prefix, host, source, target, after_db, started_at, finished_at,
		       status, total, succeeded, failed
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started string
		var finished sql.NullString
		if err := rows.Scan(&r.ID, &r.Op, &r.Prefix, &r.Host, &r.Source, &r.Target, &r.After,
			&started, &finished, &r.Status, &r.Total, &r.Succeeded, &r.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		if finished.Valid {
			t := parseTime(finished.String)
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Items returns the processed databases of a run in processing order
func (j *Journal) Items(ctx context.Context, runID string) ([]Item, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, db, status, error, finished_at
		FROM run_items WHERE run_id = ?
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items of run %s: %w", runID, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var message sql.NullString
		var finished string
		if err := rows.Scan(&it.Seq, &it.DB, &it.Status, &message, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		it.Error = message.String
		it.FinishedAt = parseTime(finished)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
