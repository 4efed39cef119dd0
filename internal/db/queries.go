package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lucasnoah/fixloop/internal/orchestrator"
	"github.com/lucasnoah/fixloop/internal/ticket"
)

const timeLayout = "2006-01-02T15:04:05Z"

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

// Run represents a row in the runs table.
type Run struct {
	RunID         string `json:"run_id"`
	Repo          string `json:"repo"`
	Task          string `json:"task"`
	TaskType      string `json:"task_type"`
	Priority      string `json:"priority"`
	Status        string `json:"status"`
	Iterations    int    `json:"iterations"`
	MaxIterations int    `json:"max_iterations"`
	HITLReason    string `json:"hitl_reason,omitempty"`
	StopReason    string `json:"stop_reason,omitempty"`
	Patches       int    `json:"patches"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// ToolRunRow represents a row in the tool_runs table.
type ToolRunRow struct {
	ID         int64  `json:"id"`
	RunID      string `json:"run_id"`
	Seq        int    `json:"seq"`
	RunType    string `json:"run_type"`
	Command    string `json:"command"`
	Status     string `json:"status"`
	ExitCode   *int   `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	Summary    string `json:"summary,omitempty"`
}

// RunEvent represents a row in the run_events table.
type RunEvent struct {
	ID         int64  `json:"id"`
	RunID      string `json:"run_id"`
	Stage      string `json:"stage"`
	NextStage  string `json:"next_stage"`
	Iteration  int    `json:"iteration"`
	Escalated  bool   `json:"escalated"`
	Reason     string `json:"reason,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Timestamp  string `json:"timestamp"`
}

// StatusRunning marks a run that has not reached the Report stage.
const StatusRunning = "running"

// RecordEvent inserts one stage event.
func (d *DB) RecordEvent(ctx context.Context, e orchestrator.Event) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := d.conn.ExecContext(ctx, d.Rebind(
		`INSERT INTO run_events (run_id, stage, next_stage, iteration, escalated, reason, duration_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		e.RunID, string(e.Stage), string(e.Next), e.Iteration, e.Escalated, e.Reason,
		e.Duration.Milliseconds(), at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// SaveRun upserts the run row and replaces its tool runs.
func (d *DB) SaveRun(ctx context.Context, t *ticket.Ticket) error {
	status := string(t.Final())
	if status == "" {
		status = StatusRunning
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, d.Rebind(
		`INSERT INTO runs (run_id, repo, task, task_type, priority, status, iterations, max_iterations,
		                   hitl_reason, stop_reason, patches, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id) DO UPDATE SET
		     status = excluded.status,
		     iterations = excluded.iterations,
		     hitl_reason = excluded.hitl_reason,
		     stop_reason = excluded.stop_reason,
		     patches = excluded.patches,
		     updated_at = excluded.updated_at`),
		t.RunID, t.RepoRef, t.TaskPrompt, t.TaskType, t.Priority, status, t.Iteration.Count, t.Iteration.Max,
		t.HITL.Reason, t.Iteration.StopReason, len(t.Patches), t.CreatedAt.UTC().Format(timeLayout), now(),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, d.Rebind(`DELETE FROM tool_runs WHERE run_id = ?`), t.RunID); err != nil {
		return fmt.Errorf("clear tool runs: %w", err)
	}
	insert := d.Rebind(
		`INSERT INTO tool_runs (run_id, seq, run_type, command, status, exit_code, duration_ms, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	for i, r := range t.ToolRuns {
		if _, err := tx.ExecContext(ctx, insert,
			t.RunID, i, string(r.RunType), r.Command, string(r.Status), r.ExitCode,
			int64(r.DurationSec*1000), r.Summary,
		); err != nil {
			return fmt.Errorf("insert tool run %d: %w", i, err)
		}
	}
	return tx.Commit()
}

const runColumns = `run_id, repo, task, task_type, priority, status, iterations, max_iterations,
	hitl_reason, stop_reason, patches, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var hitl, stop sql.NullString
	if err := row.Scan(&r.RunID, &r.Repo, &r.Task, &r.TaskType, &r.Priority, &r.Status, &r.Iterations,
		&r.MaxIterations, &hitl, &stop, &r.Patches, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.HITLReason = hitl.String
	r.StopReason = stop.String
	return &r, nil
}

// GetRun returns a run, or nil when it is unknown.
func (d *DB) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := d.conn.QueryRowContext(ctx, d.Rebind(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`), runID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs newest first, optionally filtered by status. limit <= 0 means no limit.
func (d *DB) ListRuns(ctx context.Context, status string, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, run_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := d.conn.QueryContext(ctx, d.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetToolRuns returns a run's tool runs in execution order.
func (d *DB) GetToolRuns(ctx context.Context, runID string) ([]ToolRunRow, error) {
	rows, err := d.conn.QueryContext(ctx, d.Rebind(
		`SELECT id, run_id, seq, run_type, command, status, exit_code, duration_ms, summary
		 FROM tool_runs WHERE run_id = ? ORDER BY seq`), runID)
	if err != nil {
		return nil, fmt.Errorf("get tool runs: %w", err)
	}
	defer rows.Close()

	var out []ToolRunRow
	for rows.Next() {
		var r ToolRunRow
		var exitCode sql.NullInt64
		var summary sql.NullString
		if err := rows.Scan(&r.ID, &r.RunID, &r.Seq, &r.RunType, &r.Command, &r.Status, &exitCode, &r.DurationMs, &summary); err != nil {
			return nil, fmt.Errorf("scan tool run: %w", err)
		}
		if exitCode.Valid {
			v := int(exitCode.Int64)
			r.ExitCode = &v
		}
		r.Summary = summary.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRunEvents returns a run's stage events in order.
func (d *DB) GetRunEvents(ctx context.Context, runID string) ([]RunEvent, error) {
	rows, err := d.conn.QueryContext(ctx, d.Rebind(
		`SELECT id, run_id, stage, next_stage, iteration, escalated, reason, duration_ms, timestamp
		 FROM run_events WHERE run_id = ? ORDER BY id`), runID)
	if err != nil {
		return nil, fmt.Errorf("get run events: %w", err)
	}
	defer rows.Close()

	var out []RunEvent
	for rows.Next() {
		var e RunEvent
		var reason sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Stage, &e.NextStage, &e.Iteration, &e.Escalated, &reason, &e.DurationMs, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		e.Reason = reason.String
		out = append(out, e)
	}
	return out, rows.Err()
}
