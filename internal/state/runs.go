package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// Run is the stored summary of a workflow run.
type Run struct {
	RunID        string               `json:"run_id"`
	SessionID    string               `json:"session_id"`
	UserID       string               `json:"user_id"`
	PlanName     string               `json:"plan_name"`
	Phase        models.WorkflowPhase `json:"phase"`
	CurrentRound int                  `json:"current_round"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// Done reports whether the run reached the end of synthesis.
func (r Run) Done() bool {
	return r.Phase == models.PhaseDone
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	SessionID string
	Phase     models.WorkflowPhase
	// Unfinished selects runs that never reached the done phase.
	Unfinished bool
	Limit      int
}

// SaveState upserts the run row and records any results not yet stored.
// Step results are keyed by (run, step) so re-saving a state is idempotent.
func (db *DB) SaveState(ctx context.Context, s models.WorkflowState) error {
	if s.RunID == "" {
		return fmt.Errorf("save state: empty run id")
	}
	blob, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	planName := ""
	if s.Plan != nil {
		planName = s.Plan.Name
	}
	now := formatTime(time.Now())

	err = db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workflow_runs (run_id, session_id, user_id, plan_name, phase, current_round, state, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id) DO UPDATE SET
				plan_name = excluded.plan_name,
				phase = excluded.phase,
				current_round = excluded.current_round,
				state = excluded.state,
				updated_at = excluded.updated_at
		`, s.RunID, s.SessionID, s.UserID, planName, string(s.Phase), s.CurrentRound, string(blob), now, now)
		if err != nil {
			return fmt.Errorf("upsert run: %w", err)
		}

		for i, r := range s.CompletedResults {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO step_results (run_id, seq, step_id, worker, task, output)
				VALUES (?, ?, ?, ?, ?, ?)
			`, s.RunID, i, r.StepID, r.Worker, r.Task, r.Output); err != nil {
				return fmt.Errorf("insert step result %s: %w", r.StepID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save state %s: %w", s.RunID, err)
	}
	return nil
}

// LoadState returns the last saved state of a run, or nil if it is unknown.
func (db *DB) LoadState(ctx context.Context, runID string) (*models.WorkflowState, error) {
	var blob string
	err := db.QueryRowContext(ctx, `SELECT state FROM workflow_runs WHERE run_id = ?`, runID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	var s models.WorkflowState
	if err := json.Unmarshal([]byte(blob), &s); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", runID, err)
	}
	return &s, nil
}

// GetRun retrieves a run summary by ID, or nil if it is unknown.
func (db *DB) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := db.QueryRowContext(ctx, `
		SELECT run_id, session_id, user_id, plan_name, phase, current_round, created_at, updated_at
		FROM workflow_runs WHERE run_id = ?
	`, runID)

	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns lists runs, newest first.
func (db *DB) ListRuns(ctx context.Context, f RunFilter) ([]Run, error) {
	var where []string
	var args []any
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Phase != "" {
		where = append(where, "phase = ?")
		args = append(args, string(f.Phase))
	}
	if f.Unfinished {
		where = append(where, "phase != ?")
		args = append(args, string(models.PhaseDone))
	}

	query := `SELECT run_id, session_id, user_id, plan_name, phase, current_round, created_at, updated_at FROM workflow_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, run_id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
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

// StepResults returns the stored results of a run in merge order.
func (db *DB) StepResults(ctx context.Context, runID string) ([]models.WorkerResult, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT step_id, worker, task, output FROM step_results
		WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list step results: %w", err)
	}
	defer rows.Close()

	results := []models.WorkerResult{}
	for rows.Next() {
		var r models.WorkerResult
		if err := rows.Scan(&r.StepID, &r.Worker, &r.Task, &r.Output); err != nil {
			return nil, fmt.Errorf("scan step result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var phase, createdAt, updatedAt string
	if err := s.Scan(&r.RunID, &r.SessionID, &r.UserID, &r.PlanName, &phase, &r.CurrentRound, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	r.Phase = models.WorkflowPhase(phase)
	r.CreatedAt, _ = parseTime(createdAt)
	r.UpdatedAt, _ = parseTime(updatedAt)
	return &r, nil
}
