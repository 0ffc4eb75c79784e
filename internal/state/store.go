package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/weave/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// CreateRun inserts a new run.
func (db *DB) CreateRun(ctx context.Context, run *models.Run) error {
	_, err := db.exec(ctx, `
		INSERT INTO runs (id, task, base, mode, status, started_at, finished_at, cost, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Task, run.Base, string(run.Mode), string(run.Status),
		formatTime(run.StartedAt), nullableTime(run.FinishedAt), run.Cost, run.Error)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun updates the terminal fields of a run.
func (db *DB) FinishRun(ctx context.Context, run *models.Run) error {
	result, err := db.exec(ctx, `
		UPDATE runs SET mode = ?, status = ?, finished_at = ?, cost = ?, error = ?
		WHERE id = ?
	`, string(run.Mode), string(run.Status), nullableTime(run.FinishedAt), run.Cost, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(ctx context.Context, id string) (*models.Run, error) {
	row := db.queryRow(ctx, `
		SELECT id, task, base, mode, status, started_at, finished_at, cost, error
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	query := `
		SELECT id, task, base, mode, status, started_at, finished_at, cost, error
		FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*models.Run, error) {
	var (
		run      models.Run
		mode     string
		status   string
		started  sql.NullString
		finished sql.NullString
	)
	if err := s.Scan(&run.ID, &run.Task, &run.Base, &mode, &status, &started, &finished, &run.Cost, &run.Error); err != nil {
		return nil, err
	}
	run.Mode = models.RunMode(mode)
	run.Status = models.RunStatus(status)
	run.StartedAt = parseNullableTime(started)
	run.FinishedAt = parseNullableTime(finished)
	return &run, nil
}

// RecordExecution inserts or replaces the snapshot of an execution.
func (db *DB) RecordExecution(ctx context.Context, e *models.SubtaskExecution) error {
	spec, err := json.Marshal(e.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}
	_, err = db.exec(ctx, `
		INSERT INTO executions (id, run_id, idx, role, spec, line_id, sandbox_id, sandbox_path,
			status, started_at, finished_at, cost, duration_ns, output, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			line_id = excluded.line_id,
			sandbox_id = excluded.sandbox_id,
			sandbox_path = excluded.sandbox_path,
			status = excluded.status,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			cost = excluded.cost,
			duration_ns = excluded.duration_ns,
			output = excluded.output,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, e.ID, e.RunID, e.Index, e.Spec.Role, string(spec), e.HistoryLineID, e.SandboxID, e.SandboxPath,
		string(e.Status), nullableTime(e.StartedAt), nullableTime(e.FinishedAt), e.Cost,
		int64(e.Duration), e.Output, e.Error, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record execution %s: %w", e.ID, err)
	}
	return nil
}

// ListExecutions returns the executions of a run ordered by part index.
func (db *DB) ListExecutions(ctx context.Context, runID string) ([]models.SubtaskExecution, error) {
	rows, err := db.query(ctx, `
		SELECT id, run_id, idx, spec, line_id, sandbox_id, sandbox_path, status,
			started_at, finished_at, cost, duration_ns, output, error
		FROM executions WHERE run_id = ? ORDER BY idx
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []models.SubtaskExecution
	for rows.Next() {
		var (
			e        models.SubtaskExecution
			spec     string
			status   string
			started  sql.NullString
			finished sql.NullString
			duration int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Index, &spec, &e.HistoryLineID, &e.SandboxID, &e.SandboxPath,
			&status, &started, &finished, &e.Cost, &duration, &e.Output, &e.Error); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		if err := json.Unmarshal([]byte(spec), &e.Spec); err != nil {
			return nil, fmt.Errorf("unmarshal spec of %s: %w", e.ID, err)
		}
		e.Status = models.ExecutionStatus(status)
		e.StartedAt = parseNullableTime(started)
		e.FinishedAt = parseNullableTime(finished)
		e.Duration = time.Duration(duration)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordTrace stores one routing step. seq is the step's 1-based position.
func (db *DB) RecordTrace(ctx context.Context, runID string, seq int, entry models.TraceEntry) error {
	decision, err := json.Marshal(entry.Decision)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	_, err = db.exec(ctx, `
		INSERT OR REPLACE INTO trace_entries (run_id, seq, role, timestamp, duration_ns, cost, decision, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, seq, entry.Role, formatTime(entry.Timestamp), int64(entry.Duration), entry.Cost, string(decision), entry.Summary)
	if err != nil {
		return fmt.Errorf("record trace %s/%d: %w", runID, seq, err)
	}
	return nil
}

// ListTrace returns the routing steps of a run in order.
func (db *DB) ListTrace(ctx context.Context, runID string) ([]models.TraceEntry, error) {
	rows, err := db.query(ctx, `
		SELECT role, timestamp, duration_ns, cost, decision, summary
		FROM trace_entries WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list trace: %w", err)
	}
	defer rows.Close()

	var out []models.TraceEntry
	for rows.Next() {
		var (
			e        models.TraceEntry
			ts       sql.NullString
			duration int64
			decision string
		)
		if err := rows.Scan(&e.Role, &ts, &duration, &e.Cost, &decision, &e.Summary); err != nil {
			return nil, fmt.Errorf("scan trace entry: %w", err)
		}
		if err := json.Unmarshal([]byte(decision), &e.Decision); err != nil {
			return nil, fmt.Errorf("unmarshal decision: %w", err)
		}
		e.Timestamp = parseNullableTime(ts)
		e.Duration = time.Duration(duration)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordMergeOutcome stores the merge result of one history line.
func (db *DB) RecordMergeOutcome(ctx context.Context, runID string, o models.MergeOutcome) error {
	paths := o.ConflictedPaths
	if paths == nil {
		paths = []string{}
	}
	encoded, err := json.Marshal(paths)
	if err != nil {
		return fmt.Errorf("marshal conflicted paths: %w", err)
	}
	_, err = db.exec(ctx, `
		INSERT OR REPLACE INTO merge_outcomes (run_id, line_id, execution_id, merged, conflicted_paths, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, o.HistoryLineID, o.ExecutionID, o.Merged, string(encoded), o.Error, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record merge outcome %s: %w", o.HistoryLineID, err)
	}
	return nil
}

// ListMergeOutcomes returns the merge outcomes of a run in recording order.
func (db *DB) ListMergeOutcomes(ctx context.Context, runID string) ([]models.MergeOutcome, error) {
	rows, err := db.query(ctx, `
		SELECT line_id, execution_id, merged, conflicted_paths, error
		FROM merge_outcomes WHERE run_id = ? ORDER BY recorded_at, line_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list merge outcomes: %w", err)
	}
	defer rows.Close()

	var out []models.MergeOutcome
	for rows.Next() {
		var (
			o     models.MergeOutcome
			paths string
		)
		if err := rows.Scan(&o.HistoryLineID, &o.ExecutionID, &o.Merged, &paths, &o.Error); err != nil {
			return nil, fmt.Errorf("scan merge outcome: %w", err)
		}
		if err := json.Unmarshal([]byte(paths), &o.ConflictedPaths); err != nil {
			return nil, fmt.Errorf("unmarshal conflicted paths: %w", err)
		}
		if len(o.ConflictedPaths) == 0 {
			o.ConflictedPaths = nil
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
