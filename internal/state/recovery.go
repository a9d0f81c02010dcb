package state

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// InterruptedRun describes a run whose last checkpoint is not the done phase,
// typically because the process stopped mid-run.
type InterruptedRun struct {
	RunID        string
	SessionID    string
	PlanName     string
	Phase        models.WorkflowPhase
	CurrentRound int
	Completed    int
	Total        int
	LastActivity time.Time
}

// Executor resumes a plan from a saved state.
type Executor interface {
	Execute(ctx context.Context, plan models.WorkflowPlan, state models.WorkflowState) (models.WorkflowState, error)
}

// RecoveryManager handles detection and recovery of interrupted runs.
type RecoveryManager struct {
	db *DB
}

// NewRecoveryManager creates a new RecoveryManager with the given database.
func NewRecoveryManager(db *DB) *RecoveryManager {
	return &RecoveryManager{db: db}
}

// CheckForInterrupted lists unfinished runs that have not been updated for
// at least idle. A zero idle lists every unfinished run.
func (rm *RecoveryManager) CheckForInterrupted(ctx context.Context, idle time.Duration) ([]InterruptedRun, error) {
	runs, err := rm.db.ListRuns(ctx, RunFilter{Unfinished: true})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	cutoff := time.Now().Add(-idle)
	var interrupted []InterruptedRun
	for _, r := range runs {
		if idle > 0 && r.UpdatedAt.After(cutoff) {
			continue
		}
		s, err := rm.db.LoadState(ctx, r.RunID)
		if err != nil {
			return nil, err
		}
		ir := InterruptedRun{
			RunID:        r.RunID,
			SessionID:    r.SessionID,
			PlanName:     r.PlanName,
			Phase:        r.Phase,
			CurrentRound: r.CurrentRound,
			LastActivity: r.UpdatedAt,
		}
		if s != nil {
			ir.Completed = len(s.CompletedResults)
			if s.Plan != nil {
				ir.Total = len(s.Plan.Steps)
			}
		}
		interrupted = append(interrupted, ir)
	}
	return interrupted, nil
}

// Resume continues an interrupted run from its last checkpoint. Steps that
// already have results are not dispatched again.
func (rm *RecoveryManager) Resume(ctx context.Context, runID string, exec Executor) (*models.WorkflowState, error) {
	s, err := rm.db.LoadState(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	if s == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if s.Phase == models.PhaseDone {
		return nil, fmt.Errorf("run %s already finished", runID)
	}
	if s.Plan == nil {
		return nil, fmt.Errorf("run %s was interrupted before planning finished", runID)
	}

	log.Printf("[state] resuming run %s (%s) with %d of %d steps complete",
		runID, s.Plan.Name, len(s.CompletedResults), len(s.Plan.Steps))

	final, err := exec.Execute(ctx, *s.Plan, *s)
	if err != nil {
		return nil, fmt.Errorf("resume run %s: %w", runID, err)
	}
	return &final, nil
}

// Clean deletes an interrupted run and its step results.
func (rm *RecoveryManager) Clean(ctx context.Context, runID string) error {
	r, err := rm.db.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if r == nil {
		return fmt.Errorf("run %s not found", runID)
	}

	err = rm.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM step_results WHERE run_id = ?`, runID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM workflow_runs WHERE run_id = ?`, runID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}

	log.Printf("[state] run %s cleaned up", runID)
	return nil
}
