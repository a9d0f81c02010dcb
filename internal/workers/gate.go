package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/conductor/internal/approval"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// ActionWorkerExecution is the approval action type for gated steps.
const ActionWorkerExecution = "worker_execution"

// Approver is the part of approval.Manager a gate needs.
type Approver interface {
	Create(p approval.CreateParams) *models.ApprovalRequest
	Wait(ctx context.Context, id string, timeout time.Duration) (*models.ApprovalRequest, error)
	Expire(id, reason string) (*models.ApprovalRequest, error)
}

var _ Approver = (*approval.Manager)(nil)

// GatePolicy decides which steps need a reviewer's approval.
type GatePolicy struct {
	// Workers always require approval.
	Workers []string
	// Patterns require approval when found (case-insensitively) in the task.
	Patterns []string
}

// Empty reports whether the policy can never match.
func (p GatePolicy) Empty() bool {
	return len(p.Workers) == 0 && len(p.Patterns) == 0
}

// Requires reports whether running worker on task needs approval, and why.
func (p GatePolicy) Requires(worker, task string) (bool, string) {
	for _, w := range p.Workers {
		if w == worker {
			return true, fmt.Sprintf("worker %q is gated", worker)
		}
	}
	lower := strings.ToLower(task)
	for _, pat := range p.Patterns {
		if pat != "" && strings.Contains(lower, strings.ToLower(pat)) {
			return true, fmt.Sprintf("task matches sensitive pattern %q", pat)
		}
	}
	return false, ""
}

// Gated wraps a worker so that matching invocations block on a reviewer.
type Gated struct {
	Worker
	approver Approver
	policy   GatePolicy
	timeout  time.Duration
	debugLog func(format string, args ...interface{})
}

// NewGated wraps w. timeout bounds each wait for a reviewer (<= 0 uses the
// approval package default).
func NewGated(w Worker, approver Approver, policy GatePolicy, timeout time.Duration) *Gated {
	return &Gated{
		Worker:   w,
		approver: approver,
		policy:   policy,
		timeout:  timeout,
		debugLog: func(string, ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (g *Gated) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Invoke asks for approval when the policy matches, then runs the wrapped
// worker if approved. A rejection is returned as output, not as an error;
// an expired or abandoned wait is an error.
func (g *Gated) Invoke(ctx context.Context, msgs []models.Message, onDelta func(string)) (string, error) {
	scope := ScopeFromContext(ctx)
	task := scope.Task
	if task == "" {
		task = models.LastUserMessage(msgs)
	}
	need, reason := g.policy.Requires(g.Name(), task)
	if !need {
		return g.Worker.Invoke(ctx, msgs, onDelta)
	}

	req := g.approver.Create(approval.CreateParams{
		SessionID:         scope.SessionID,
		UserID:            scope.UserID,
		ActionType:        ActionWorkerExecution,
		ActionDescription: fmt.Sprintf("Run worker '%s' for step '%s' (%s)", g.Name(), scope.StepID, reason),
		ActionData: map[string]any{
			"worker":  g.Name(),
			"step_id": scope.StepID,
			"run_id":  scope.RunID,
			"task":    task,
		},
	})
	g.debugLog("[gate] step %s waiting on approval %s: %s", scope.StepID, req.ID, reason)
	if onDelta != nil {
		onDelta(fmt.Sprintf("Awaiting approval %s (%s)\n\n", req.ID, reason))
	}

	resolved, err := g.approver.Wait(ctx, req.ID, g.timeout)
	if err != nil {
		if ctx.Err() != nil {
			// Nobody is waiting any more; take it off the reviewers' list.
			if _, xerr := g.approver.Expire(req.ID, "run cancelled"); xerr != nil {
				g.debugLog("[gate] expire %s: %v", req.ID, xerr)
			}
		}
		return "", fmt.Errorf("approval %s: %w", req.ID, err)
	}

	if resolved.Status == models.ApprovalRejected {
		g.debugLog("[gate] step %s rejected", scope.StepID)
		return "Step rejected by reviewer: " + resolved.ReviewerComment, nil
	}
	g.debugLog("[gate] step %s approved", scope.StepID)
	return g.Worker.Invoke(ctx, msgs, onDelta)
}

// Unwrap returns the gated worker.
func (g *Gated) Unwrap() Worker {
	return g.Worker
}
