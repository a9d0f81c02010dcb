package models

// WorkflowStep is one unit of planned work assigned to a worker.
// Steps are created when a plan is built and are never mutated afterwards.
type WorkflowStep struct {
	// ID is unique within its plan.
	ID string `json:"id" yaml:"id"`
	// Worker names the registered worker that executes this step.
	Worker string `json:"worker" yaml:"worker"`
	// Task is the free-text instruction handed to the worker.
	Task string `json:"task" yaml:"task"`
	// DependsOn lists step IDs that must complete before this step runs.
	DependsOn []string `json:"depends_on" yaml:"depends_on"`
}

// WorkflowPlan is a named, ordered collection of steps.
type WorkflowPlan struct {
	// Name identifies the plan (template name, LLM-chosen name, or "fallback").
	Name string `json:"name"`
	// Steps are the planned steps in declaration order.
	Steps []WorkflowStep `json:"steps"`
	// Reasoning explains how the plan was derived.
	Reasoning string `json:"reasoning"`
}

// StepIDs returns the IDs of all steps in declaration order.
func (p *WorkflowPlan) StepIDs() []string {
	if p == nil {
		return nil
	}
	ids := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		ids = append(ids, s.ID)
	}
	return ids
}

// Clone returns a deep copy of the plan so callers can derive new plans
// without touching the original.
func (p WorkflowPlan) Clone() WorkflowPlan {
	steps := make([]WorkflowStep, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = WorkflowStep{
			ID:        s.ID,
			Worker:    s.Worker,
			Task:      s.Task,
			DependsOn: append([]string(nil), s.DependsOn...),
		}
	}
	return WorkflowPlan{Name: p.Name, Steps: steps, Reasoning: p.Reasoning}
}

// WorkerResult is the recorded outcome of one step execution.
// A failed step still produces a result; Output then describes the failure.
type WorkerResult struct {
	StepID string `json:"step_id"`
	Worker string `json:"worker"`
	Task   string `json:"task"`
	Output string `json:"output"`
}

// WorkflowPhase is the scheduler state a run is currently in.
type WorkflowPhase string

const (
	PhasePlanning      WorkflowPhase = "planning"
	PhaseScheduling    WorkflowPhase = "scheduling_round"
	PhaseDispatching   WorkflowPhase = "dispatching"
	PhaseAwaitingRound WorkflowPhase = "awaiting_round_results"
	PhaseCheckingRound WorkflowPhase = "checking_completion"
	PhaseSynthesizing  WorkflowPhase = "synthesizing"
	PhaseDone          WorkflowPhase = "done"
)

// WorkflowState is the mutable state of one orchestration run.
// It is owned by a single run and updated only through Merge and the
// With* helpers, each of which returns a new value.
type WorkflowState struct {
	// RunID identifies the run (sortable ULID).
	RunID string `json:"run_id"`
	// SessionID is the durable thread key the run belongs to.
	SessionID string `json:"session_id"`
	// UserID is the caller the run executes for, if known.
	UserID string `json:"user_id,omitempty"`
	// Plan is nil until planning finishes.
	Plan *WorkflowPlan `json:"plan,omitempty"`
	// CurrentRound increases by one per scheduling round.
	CurrentRound int `json:"current_round"`
	// CompletedResults is append-only, in merge order.
	CompletedResults []WorkerResult `json:"completed_results"`
	// Messages is the conversation the run was started with.
	Messages []Message `json:"messages"`
	// FinalOutput is set by synthesis.
	FinalOutput string `json:"final_output,omitempty"`
	// Phase is the current scheduler phase.
	Phase WorkflowPhase `json:"phase"`
}

// Merge returns a copy of the state with the given results appended to
// CompletedResults. It is the only way results accumulate.
func (s WorkflowState) Merge(results ...WorkerResult) WorkflowState {
	merged := make([]WorkerResult, 0, len(s.CompletedResults)+len(results))
	merged = append(merged, s.CompletedResults...)
	merged = append(merged, results...)
	s.CompletedResults = merged
	return s
}

// WithPhase returns a copy of the state in the given phase.
func (s WorkflowState) WithPhase(phase WorkflowPhase) WorkflowState {
	s.Phase = phase
	return s
}

// CompletedIDs returns the set of step IDs that have a recorded result.
func (s WorkflowState) CompletedIDs() map[string]bool {
	ids := make(map[string]bool, len(s.CompletedResults))
	for _, r := range s.CompletedResults {
		ids[r.StepID] = true
	}
	return ids
}

// ResultsByID maps step IDs to their recorded output.
func (s WorkflowState) ResultsByID() map[string]string {
	out := make(map[string]string, len(s.CompletedResults))
	for _, r := range s.CompletedResults {
		out[r.StepID] = r.Output
	}
	return out
}

// Complete reports whether every plan step has a recorded result.
func (s WorkflowState) Complete() bool {
	if s.Plan == nil {
		return true
	}
	done := s.CompletedIDs()
	for _, step := range s.Plan.Steps {
		if !done[step.ID] {
			return false
		}
	}
	return true
}
