// Package workflow plans multi-step requests and executes the resulting plans
// as rounds of parallel worker calls over a dependency graph.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/conductor/internal/graph"
	"github.com/ShayCichocki/conductor/internal/workers"
	"github.com/ShayCichocki/conductor/pkg/models"
)

var (
	// ErrInvalidPlan is returned when a plan's steps do not form a schedulable graph.
	ErrInvalidPlan = errors.New("invalid workflow plan")
	// ErrEmptyRequest is returned when a request carries no user message.
	ErrEmptyRequest = errors.New("request has no user message")
)

// NoResults is the synthesized output of a run that completed no steps.
const NoResults = "No results to synthesize."

// PlanSource produces a plan for a user message.
type PlanSource interface {
	Plan(ctx context.Context, userMessage, templateName string) models.WorkflowPlan
}

// WorkerSource resolves worker names.
type WorkerSource interface {
	Get(name string) (workers.Worker, bool)
}

// Checkpointer persists run state and per-session conversation history.
type Checkpointer interface {
	SaveState(ctx context.Context, state models.WorkflowState) error
	History(ctx context.Context, sessionID string) ([]models.Message, error)
	AppendMessages(ctx context.Context, sessionID string, msgs ...models.Message) error
	ClearHistory(ctx context.Context, sessionID string) error
}

// Request is one chat turn to run as a workflow.
type Request struct {
	// Messages are the new messages of this turn; the last user message is
	// what gets planned.
	Messages []models.Message
	// SessionID keys persisted history. Empty means no history.
	SessionID string
	UserID    string
	// TemplateName selects a template; unknown names fall back to dynamic planning.
	TemplateName string
}

// Chunk is one element of a streamed response. The final chunk has Done
// set; if the run failed it also carries Err.
type Chunk struct {
	Content string
	Done    bool
	Err     error
}

// RequiredConfig contains the minimal required configuration for an Engine.
type RequiredConfig struct {
	// Planner builds plans for incoming requests.
	Planner PlanSource
	// Workers resolves the worker named by each step.
	Workers WorkerSource
}

// Option configures an Engine. Use With* functions to create Options.
type Option func(*Engine)

// WithCheckpointer enables state and history persistence.
func WithCheckpointer(c Checkpointer) Option {
	return func(e *Engine) { e.store = c }
}

// WithMaxParallel caps concurrent steps within a round (0 = unlimited).
func WithMaxParallel(n int) Option {
	return func(e *Engine) { e.maxParallel = n }
}

// WithDebugLog sets the debug logging function.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(e *Engine) {
		if fn != nil {
			e.debugLog = fn
		}
	}
}

// WithEvents sends run progress to emitter.
func WithEvents(emitter *EventEmitter) Option {
	return func(e *Engine) { e.events = emitter }
}

// WithRunIDFunc replaces the run id generator, for tests.
func WithRunIDFunc(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newRunID = fn
		}
	}
}

// Engine drives a workflow run: plan, schedule rounds, dispatch, check
// completion, synthesize. It holds no per-run state and is safe for
// concurrent runs.
type Engine struct {
	planner     PlanSource
	workers     WorkerSource
	store       Checkpointer
	maxParallel int
	events      *EventEmitter
	newRunID    func() string
	debugLog    func(format string, args ...interface{})
}

// NewEngine creates an Engine.
func NewEngine(cfg RequiredConfig, opts ...Option) *Engine {
	e := &Engine{
		planner:  cfg.Planner,
		workers:  cfg.Workers,
		newRunID: func() string { return ulid.Make().String() },
		debugLog: func(string, ...interface{}) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Respond runs the request and returns the conversation (history, this
// turn and the synthesized answer) filtered to user and assistant messages.
// A run that fails outright is logged and yields an empty slice.
func (e *Engine) Respond(ctx context.Context, req Request) []models.Message {
	state, err := e.Run(ctx, req)
	if err != nil {
		log.Printf("[workflow] execution failed (session=%s): %v", req.SessionID, err)
		return []models.Message{}
	}
	return models.FilterConversation(state.Messages)
}

// Stream runs the request in the background and delivers worker output as it
// is produced. Output of steps running in parallel is not interleaved: each
// step's text follows a "### Step:" header line. The channel is closed after
// the final Done chunk. Consumers must drain it or cancel ctx.
func (e *Engine) Stream(ctx context.Context, req Request) <-chan Chunk {
	ch := make(chan Chunk)
	send := func(c Chunk) {
		select {
		case ch <- c:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(ch)
		out := newInterleaver(func(s string) { send(Chunk{Content: s}) })
		if _, err := e.run(ctx, req, out); err != nil {
			log.Printf("[workflow] stream failed (session=%s): %v", req.SessionID, err)
			send(Chunk{Done: true, Err: err})
			return
		}
		send(Chunk{Done: true})
	}()
	return ch
}

// Run plans and executes the request and returns the final state.
func (e *Engine) Run(ctx context.Context, req Request) (*models.WorkflowState, error) {
	return e.run(ctx, req, nil)
}

func (e *Engine) run(ctx context.Context, req Request, out *interleaver) (*models.WorkflowState, error) {
	var history []models.Message
	if e.store != nil && req.SessionID != "" {
		h, err := e.store.History(ctx, req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		history = h
	}

	msgs := make([]models.Message, 0, len(history)+len(req.Messages)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, req.Messages...)

	userMessage := models.LastUserMessage(req.Messages)
	if userMessage == "" {
		return nil, ErrEmptyRequest
	}

	state := models.WorkflowState{
		RunID:     e.newRunID(),
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Messages:  msgs,
		Phase:     models.PhasePlanning,
	}
	e.debugLog("[workflow] run %s planning (session=%s template=%q)", state.RunID, req.SessionID, req.TemplateName)

	plan := e.planner.Plan(ctx, userMessage, req.TemplateName)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.debugLog("[workflow] run %s plan %s: %d steps", state.RunID, plan.Name, len(plan.Steps))
	e.events.Emit(Event{Type: EventPlanned, RunID: state.RunID, Steps: plan.StepIDs(), Message: plan.Name + ": " + plan.Reasoning})

	final, err := e.execute(ctx, plan, state, out)
	if err != nil {
		return nil, err
	}

	if e.store != nil && req.SessionID != "" {
		turn := append(append([]models.Message(nil), req.Messages...), final.Messages[len(final.Messages)-1])
		if err := e.store.AppendMessages(ctx, req.SessionID, turn...); err != nil {
			return nil, fmt.Errorf("save history: %w", err)
		}
	}
	return &final, nil
}

// Execute runs an already-built plan from the given starting state. The plan
// is validated first; an invalid plan returns ErrInvalidPlan before any step
// is dispatched.
func (e *Engine) Execute(ctx context.Context, plan models.WorkflowPlan, state models.WorkflowState) (models.WorkflowState, error) {
	if state.RunID == "" {
		state.RunID = e.newRunID()
	}
	return e.execute(ctx, plan, state, nil)
}

func (e *Engine) execute(ctx context.Context, plan models.WorkflowPlan, state models.WorkflowState, out *interleaver) (models.WorkflowState, error) {
	g, err := graph.FromPlan(plan)
	if err != nil {
		return state, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	g.SetDebugLog(e.debugLog)

	state.Plan = &plan
	if len(state.CompletedResults) == 0 {
		state.CurrentRound = 0
	} else {
		// Resuming: the checkpointed round already ran.
		state.CurrentRound++
	}

	for {
		state = state.WithPhase(models.PhaseScheduling)
		ready := g.Ready(state.CompletedIDs())
		if len(ready) == 0 {
			if !state.Complete() {
				log.Printf("[scheduler] run %s: no eligible steps with %d of %d complete",
					state.RunID, len(state.CompletedResults), len(plan.Steps))
			}
			break
		}

		e.debugLog("[scheduler] run %s round %d dispatching %d steps: %s",
			state.RunID, state.CurrentRound, len(ready), strings.Join(stepIDs(ready), ", "))

		state = state.WithPhase(models.PhaseDispatching)
		e.events.Emit(Event{Type: EventRoundStarted, RunID: state.RunID, Round: state.CurrentRound, Steps: stepIDs(ready)})
		results, err := e.runRound(ctx, state, ready, out)
		if err != nil {
			return state, err
		}

		state = state.WithPhase(models.PhaseAwaitingRound).Merge(results...)
		state = state.WithPhase(models.PhaseCheckingRound)
		e.checkpoint(ctx, state)

		if state.Complete() {
			e.debugLog("[scheduler] run %s all %d steps complete after round %d",
				state.RunID, len(plan.Steps), state.CurrentRound)
			break
		}
		state.CurrentRound++
	}

	state = state.WithPhase(models.PhaseSynthesizing)
	state.FinalOutput = Synthesize(state)
	state.Messages = append(append([]models.Message(nil), state.Messages...),
		models.Message{Role: models.RoleAssistant, Content: state.FinalOutput})
	state = state.WithPhase(models.PhaseDone)
	e.checkpoint(ctx, state)

	e.events.Emit(Event{Type: EventRunDone, RunID: state.RunID, Round: state.CurrentRound, Message: state.Plan.Name})
	e.debugLog("[workflow] run %s done: %d results, %d bytes", state.RunID, len(state.CompletedResults), len(state.FinalOutput))
	return state, nil
}

// checkpoint saves state; failures are logged and do not stop the run.
func (e *Engine) checkpoint(ctx context.Context, state models.WorkflowState) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveState(ctx, state); err != nil {
		log.Printf("[workflow] checkpoint run %s failed: %v", state.RunID, err)
	}
}

// runRound executes every ready step concurrently and waits for all of them.
// Results are returned in completion order. The only error is cancellation.
func (e *Engine) runRound(ctx context.Context, state models.WorkflowState, ready []models.WorkflowStep, out *interleaver) ([]models.WorkerResult, error) {
	outputs := state.ResultsByID()

	var mu sync.Mutex
	results := make([]models.WorkerResult, 0, len(ready))

	g, gctx := errgroup.WithContext(ctx)
	if e.maxParallel > 0 {
		g.SetLimit(e.maxParallel)
	}
	for _, step := range ready {
		g.Go(func() error {
			res, err := e.executeStep(gctx, state, step, outputs, out)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// executeStep runs one step. Worker failures become the step's output; only
// cancellation of ctx is returned as an error.
func (e *Engine) executeStep(ctx context.Context, state models.WorkflowState, step models.WorkflowStep, outputs map[string]string, out *interleaver) (models.WorkerResult, error) {
	result := models.WorkerResult{StepID: step.ID, Worker: step.Worker, Task: step.Task}
	defer out.finish(step)

	worker, ok := e.workers.Get(step.Worker)
	if !ok {
		log.Printf("[scheduler] step %s: worker %q not found", step.ID, step.Worker)
		result.Output = fmt.Sprintf("Worker '%s' not found.", step.Worker)
		out.write(step, result.Output)
		e.stepEvent(EventStepFailed, state, step, result.Output)
		return result, nil
	}

	sctx := workers.WithScope(ctx, workers.Scope{
		RunID:     state.RunID,
		SessionID: state.SessionID,
		UserID:    state.UserID,
		StepID:    step.ID,
		Task:      step.Task,
	})
	msgs := []models.Message{{Role: models.RoleUser, Content: TaskPrompt(step, outputs)}}

	var onDelta func(string)
	var streamed atomic.Bool
	if out != nil {
		onDelta = func(s string) {
			if s != "" {
				streamed.Store(true)
			}
			out.write(step, s)
		}
	}

	e.debugLog("[scheduler] step %s started on %s", step.ID, step.Worker)
	e.stepEvent(EventStepStarted, state, step, "")
	output, err := worker.Invoke(sctx, msgs, onDelta)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		log.Printf("[scheduler] step %s: worker %s failed: %v", step.ID, step.Worker, err)
		result.Output = fmt.Sprintf("Worker '%s' failed: %v", step.Worker, err)
		if streamed.Load() {
			out.write(step, "\n\n"+result.Output)
		} else {
			out.write(step, result.Output)
		}
		e.stepEvent(EventStepFailed, state, step, err.Error())
		return result, nil
	}

	e.debugLog("[scheduler] step %s completed (%d bytes)", step.ID, len(output))
	result.Output = output
	e.stepEvent(EventStepCompleted, state, step, "")
	return result, nil
}

func (e *Engine) stepEvent(t EventType, state models.WorkflowState, step models.WorkflowStep, msg string) {
	e.events.Emit(Event{
		Type:    t,
		RunID:   state.RunID,
		Round:   state.CurrentRound,
		StepID:  step.ID,
		Worker:  step.Worker,
		Message: msg,
	})
}

// TaskPrompt returns the step's task with the outputs of its completed
// dependencies appended, or the bare task when there are none.
func TaskPrompt(step models.WorkflowStep, outputs map[string]string) string {
	var parts []string
	for _, dep := range step.DependsOn {
		if output, ok := outputs[dep]; ok {
			parts = append(parts, fmt.Sprintf("[Result from %s]:\n%s", dep, output))
		}
	}
	if len(parts) == 0 {
		return step.Task
	}
	return step.Task + "\n\n## Context from previous steps\n" + strings.Join(parts, "\n\n")
}

// Synthesize renders the completed results, in merge order, as one document.
// It depends only on its input.
func Synthesize(state models.WorkflowState) string {
	if len(state.CompletedResults) == 0 {
		return NoResults
	}

	sections := make([]string, 0, len(state.CompletedResults))
	for _, r := range state.CompletedResults {
		sections = append(sections, fmt.Sprintf("### Step: %s (Worker: %s)\n**Task**: %s\n\n%s",
			r.StepID, r.Worker, truncate(r.Task, 200), r.Output))
	}

	name := "unknown"
	if state.Plan != nil {
		name = state.Plan.Name
	}
	return fmt.Sprintf("# Workflow Results: %s\n*Completed %d steps*\n\n%s",
		name, len(state.CompletedResults), strings.Join(sections, "\n\n---\n\n"))
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func stepIDs(steps []models.WorkflowStep) []string {
	ids := make([]string, 0, len(steps))
	for _, s := range steps {
		ids = append(ids, s.ID)
	}
	return ids
}

// History returns the persisted conversation of a session.
func (e *Engine) History(ctx context.Context, sessionID string) ([]models.Message, error) {
	if e.store == nil {
		return []models.Message{}, nil
	}
	msgs, err := e.store.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return models.FilterConversation(msgs), nil
}

// ClearHistory deletes the persisted conversation of a session.
func (e *Engine) ClearHistory(ctx context.Context, sessionID string) error {
	if e.store == nil {
		return nil
	}
	return e.store.ClearHistory(ctx, sessionID)
}
