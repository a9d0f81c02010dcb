package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ShayCichocki/conductor/internal/workers"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// funcWorker is a worker whose behaviour is supplied by the test.
type funcWorker struct {
	name string
	fn   func(ctx context.Context, msgs []models.Message, onDelta func(string)) (string, error)
}

func (w *funcWorker) Name() string        { return w.name }
func (w *funcWorker) Description() string { return w.name + " worker" }
func (w *funcWorker) Invoke(ctx context.Context, msgs []models.Message, onDelta func(string)) (string, error) {
	return w.fn(ctx, msgs, onDelta)
}

// echoWorker replies with a fixed string, streaming it when asked.
func echoWorker(name, reply string) *funcWorker {
	return &funcWorker{name: name, fn: func(_ context.Context, _ []models.Message, onDelta func(string)) (string, error) {
		if onDelta != nil {
			onDelta(reply)
		}
		return reply, nil
	}}
}

// staticPlanner always returns the same plan.
type staticPlanner struct {
	plan  models.WorkflowPlan
	calls atomic.Int32
}

func (p *staticPlanner) Plan(context.Context, string, string) models.WorkflowPlan {
	p.calls.Add(1)
	return p.plan
}

func step(id, worker, task string, deps ...string) models.WorkflowStep {
	if deps == nil {
		deps = []string{}
	}
	return models.WorkflowStep{ID: id, Worker: worker, Task: task, DependsOn: deps}
}

func userRequest(content string) Request {
	return Request{Messages: []models.Message{{Role: models.RoleUser, Content: content}}}
}

func newTestEngine(plan models.WorkflowPlan, reg *workers.Registry, opts ...Option) *Engine {
	opts = append([]Option{WithRunIDFunc(func() string { return "run-1" })}, opts...)
	return NewEngine(RequiredConfig{Planner: &staticPlanner{plan: plan}, Workers: reg}, opts...)
}

// drainEvents collects whatever the emitter has buffered.
func drainEvents(em *EventEmitter) []Event {
	var events []Event
	for {
		select {
		case ev := <-em.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func roundsOf(events []Event) map[string]int {
	rounds := make(map[string]int)
	for _, ev := range events {
		if ev.Type == EventRoundStarted {
			for _, id := range ev.Steps {
				rounds[id] = ev.Round
			}
		}
	}
	return rounds
}

func TestRunFanOut(t *testing.T) {
	var mu sync.Mutex
	prompts := make(map[string]string)
	record := func(name, id, reply string) *funcWorker {
		return &funcWorker{name: name, fn: func(_ context.Context, msgs []models.Message, _ func(string)) (string, error) {
			mu.Lock()
			prompts[id] = msgs[0].Content
			mu.Unlock()
			return reply, nil
		}}
	}
	reg := workers.NewRegistry(
		record("researcher", "s1", "R1"),
		record("coder", "s2", "C2"),
		record("analyst", "s3", "A3"),
	)
	plan := models.WorkflowPlan{Name: "fanout", Steps: []models.WorkflowStep{
		step("s1", "researcher", "research"),
		step("s2", "coder", "code", "s1"),
		step("s3", "analyst", "analyse", "s1"),
	}}
	em := NewEventEmitter(64)
	e := newTestEngine(plan, reg, WithEvents(em))

	state, err := e.Run(context.Background(), userRequest("do it"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	rounds := roundsOf(drainEvents(em))
	if rounds["s1"] != 0 || rounds["s2"] != 1 || rounds["s3"] != 1 {
		t.Errorf("unexpected rounds: %v", rounds)
	}

	if len(state.CompletedResults) != 3 {
		t.Fatalf("expected 3 results, got %d", len(state.CompletedResults))
	}
	if state.CompletedResults[0].StepID != "s1" {
		t.Errorf("first result should be s1, got %s", state.CompletedResults[0].StepID)
	}
	if prompts["s2"] != "code\n\n## Context from previous steps\n[Result from s1]:\nR1" {
		t.Errorf("unexpected s2 prompt: %q", prompts["s2"])
	}
	if prompts["s1"] != "research" {
		t.Errorf("s1 prompt should be the bare task, got %q", prompts["s1"])
	}

	if !strings.HasPrefix(state.FinalOutput, "# Workflow Results: fanout\n*Completed 3 steps*\n\n### Step: s1 (Worker: researcher)\n**Task**: research\n\nR1") {
		t.Errorf("unexpected synthesis:\n%s", state.FinalOutput)
	}
	if strings.Count(state.FinalOutput, "\n\n---\n\n") != 2 {
		t.Errorf("expected 2 separators:\n%s", state.FinalOutput)
	}
	if state.Phase != models.PhaseDone {
		t.Errorf("phase = %s, want done", state.Phase)
	}
	last := state.Messages[len(state.Messages)-1]
	if last.Role != models.RoleAssistant || last.Content != state.FinalOutput {
		t.Errorf("last message should be the synthesis, got %+v", last)
	}
}

func TestRunEvents(t *testing.T) {
	reg := workers.NewRegistry(echoWorker("coder", "ok"))
	plan := models.WorkflowPlan{Name: "one", Steps: []models.WorkflowStep{step("s1", "coder", "t")}}
	em := NewEventEmitter(16)
	e := newTestEngine(plan, reg, WithEvents(em))

	if _, err := e.Run(context.Background(), userRequest("go")); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var types []EventType
	for _, ev := range drainEvents(em) {
		types = append(types, ev.Type)
		if ev.RunID != "run-1" {
			t.Errorf("event %s has run id %q", ev.Type, ev.RunID)
		}
	}
	want := []EventType{EventPlanned, EventRoundStarted, EventStepStarted, EventStepCompleted, EventRunDone}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", types, want)
	}
}

func TestRoundsIsolatedSteps(t *testing.T) {
	reg := workers.NewRegistry(echoWorker("coder", "x"))
	plan := models.WorkflowPlan{Name: "flat", Steps: []models.WorkflowStep{
		step("a", "coder", "a"),
		step("b", "coder", "b"),
		step("c", "coder", "c"),
	}}
	em := NewEventEmitter(64)
	e := newTestEngine(plan, reg, WithEvents(em))

	state, err := e.Run(context.Background(), userRequest("go"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.CurrentRound != 0 {
		t.Errorf("independent steps should finish in one round, ended at round %d", state.CurrentRound)
	}
	for id, round := range roundsOf(drainEvents(em)) {
		if round != 0 {
			t.Errorf("step %s ran in round %d", id, round)
		}
	}
}

func TestRoundsBoundedByChainLength(t *testing.T) {
	var mu sync.Mutex
	var order []string
	counts := make(map[string]int)
	reg := workers.NewRegistry(&funcWorker{name: "coder", fn: func(ctx context.Context, _ []models.Message, _ func(string)) (string, error) {
		id := workers.ScopeFromContext(ctx).StepID
		mu.Lock()
		order = append(order, id)
		counts[id]++
		mu.Unlock()
		return id, nil
	}})
	plan := models.WorkflowPlan{Name: "chain", Steps: []models.WorkflowStep{
		step("c", "coder", "third", "b"),
		step("a", "coder", "first"),
		step("b", "coder", "second", "a"),
	}}
	e := newTestEngine(plan, reg)

	state, err := e.Run(context.Background(), userRequest("go"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.CurrentRound+1 > len(plan.Steps) {
		t.Errorf("took %d rounds for %d steps", state.CurrentRound+1, len(plan.Steps))
	}
	if strings.Join(order, ",") != "a,b,c" {
		t.Errorf("dependency order violated: %v", order)
	}
	for id, n := range counts {
		if n != 1 {
			t.Errorf("step %s ran %d times", id, n)
		}
	}
	if len(state.CompletedResults) != 3 {
		t.Errorf("expected 3 results, got %d", len(state.CompletedResults))
	}
}

func TestDependenciesFinishBeforeDependents(t *testing.T) {
	var mu sync.Mutex
	finished := make(map[string]bool)
	var violations []string

	plan := models.WorkflowPlan{Name: "diamond", Steps: []models.WorkflowStep{
		step("a", "coder", "a"),
		step("b", "coder", "b", "a"),
		step("c", "coder", "c", "a"),
		step("d", "coder", "d", "b", "c"),
	}}
	deps := make(map[string][]string)
	for _, s := range plan.Steps {
		deps[s.ID] = s.DependsOn
	}

	reg := workers.NewRegistry(&funcWorker{name: "coder", fn: func(ctx context.Context, _ []models.Message, _ func(string)) (string, error) {
		id := workers.ScopeFromContext(ctx).StepID
		mu.Lock()
		for _, dep := range deps[id] {
			if !finished[dep] {
				violations = append(violations, id+" before "+dep)
			}
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		finished[id] = true
		mu.Unlock()
		return id, nil
	}})

	state, err := newTestEngine(plan, reg).Run(context.Background(), userRequest("go"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(violations) > 0 {
		t.Errorf("dependents started early: %v", violations)
	}
	if !state.Complete() {
		t.Error("expected every step to complete")
	}
}

func TestRoundRunsStepsConcurrently(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	allHere := make(chan struct{})
	go func() {
		arrived.Wait()
		close(allHere)
	}()

	barrier := &funcWorker{name: "coder", fn: func(ctx context.Context, _ []models.Message, _ func(string)) (string, error) {
		arrived.Done()
		select {
		case <-allHere:
			return "met", nil
		case <-time.After(2 * time.Second):
			return "", errors.New("peer never arrived")
		}
	}}
	plan := models.WorkflowPlan{Name: "pair", Steps: []models.WorkflowStep{
		step("a", "coder", "a"),
		step("b", "coder", "b"),
	}}

	state, err := newTestEngine(plan, workers.NewRegistry(barrier)).Run(context.Background(), userRequest("go"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, r := range state.CompletedResults {
		if r.Output != "met" {
			t.Errorf("step %s: %q", r.StepID, r.Output)
		}
	}
}

func TestMaxParallel(t *testing.T) {
	var running, peak atomic.Int32
	w := &funcWorker{name: "coder", fn: func(context.Context, []models.Message, func(string)) (string, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return "ok", nil
	}}
	plan := models.WorkflowPlan{Name: "wide", Steps: []models.WorkflowStep{
		step("a", "coder", "a"), step("b", "coder", "b"), step("c", "coder", "c"), step("d", "coder", "d"),
	}}

	state, err := newTestEngine(plan, workers.NewRegistry(w), WithMaxParallel(2)).Run(context.Background(), userRequest("go"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency %d exceeds limit 2", peak.Load())
	}
	if len(state.CompletedResults) != 4 {
		t.Errorf("expected 4 results, got %d", len(state.CompletedResults))
	}
}

func TestWorkerFailuresBecomeResults(t *testing.T) {
	failing := &funcWorker{name: "coder", fn: func(context.Context, []models.Message, func(string)) (string, error) {
		return "", errors.New("boom")
	}}
	var downstream string
	analyst := &funcWorker{name: "analyst", fn: func(_ context.Context, msgs []models.Message, _ func(string)) (string, error) {
		downstream = msgs[0].Content
		return "analysed", nil
	}}
	plan := models.WorkflowPlan{Name: "failing", Steps: []models.WorkflowStep{
		step("s1", "coder", "write"),
		step("s2", "ghost", "haunt"),
		step("s3", "analyst", "review", "s1", "s2"),
	}}

	state, err := newTestEngine(plan, workers.NewRegistry(failing, analyst)).Run(context.Background(), userRequest("go"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	outputs := state.ResultsByID()
	if outputs["s1"] != "Worker 'coder' failed: boom" {
		t.Errorf("s1 output = %q", outputs["s1"])
	}
	if outputs["s2"] != "Worker 'ghost' not found." {
		t.Errorf("s2 output = %q", outputs["s2"])
	}
	if outputs["s3"] != "analysed" {
		t.Errorf("s3 output = %q", outputs["s3"])
	}
	if !strings.Contains(downstream, "[Result from s1]:\nWorker 'coder' failed: boom") {
		t.Errorf("failure text should flow downstream, got %q", downstream)
	}
	if !strings.Contains(state.FinalOutput, "*Completed 3 steps*") {
		t.Errorf("synthesis should count failed steps:\n%s", state.FinalOutput)
	}
}

func TestInvalidPlanDispatchesNothing(t *testing.T) {
	var calls atomic.Int32
	w := &funcWorker{name: "coder", fn: func(context.Context, []models.Message, func(string)) (string, error) {
		calls.Add(1)
		return "", nil
	}}
	tests := []struct {
		name  string
		steps []models.WorkflowStep
	}{
		{"cycle", []models.WorkflowStep{step("a", "coder", "a", "b"), step("b", "coder", "b", "a")}},
		{"unknown dependency", []models.WorkflowStep{step("a", "coder", "a", "missing")}},
		{"duplicate id", []models.WorkflowStep{step("a", "coder", "a"), step("a", "coder", "again")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := models.WorkflowPlan{Name: tt.name, Steps: tt.steps}
			_, err := newTestEngine(plan, workers.NewRegistry(w)).Run(context.Background(), userRequest("go"))
			if !errors.Is(err, ErrInvalidPlan) {
				t.Errorf("expected ErrInvalidPlan, got %v", err)
			}
		})
	}
	if calls.Load() != 0 {
		t.Errorf("workers invoked %d times for invalid plans", calls.Load())
	}
}

func TestEmptyPlanSynthesizesNoResults(t *testing.T) {
	state, err := newTestEngine(models.WorkflowPlan{Name: "empty"}, workers.NewRegistry()).Run(context.Background(), userRequest("go"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.FinalOutput != NoResults {
		t.Errorf("FinalOutput = %q", state.FinalOutput)
	}
}

func TestRunRequiresUserMessage(t *testing.T) {
	p := &staticPlanner{}
	e := NewEngine(RequiredConfig{Planner: p, Workers: workers.NewRegistry()})

	_, err := e.Run(context.Background(), Request{Messages: []models.Message{{Role: models.RoleSystem, Content: "sys"}}})
	if !errors.Is(err, ErrEmptyRequest) {
		t.Errorf("expected ErrEmptyRequest, got %v", err)
	}
	if p.calls.Load() != 0 {
		t.Error("planner should not run without a user message")
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blocking := &funcWorker{name: "coder", fn: func(ctx context.Context, _ []models.Message, _ func(string)) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}}
	plan := models.WorkflowPlan{Name: "cancel", Steps: []models.WorkflowStep{
		step("a", "coder", "a"),
		step("b", "coder", "b", "a"),
	}}

	_, err := newTestEngine(plan, workers.NewRegistry(blocking)).Run(ctx, userRequest("go"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRespond(t *testing.T) {
	reg := workers.NewRegistry(echoWorker("coder", "done"))
	plan := models.WorkflowPlan{Name: "r", Steps: []models.WorkflowStep{step("s1", "coder", "t")}}
	e := newTestEngine(plan, reg)

	msgs := e.Respond(context.Background(), Request{Messages: []models.Message{
		{Role: models.RoleSystem, Content: "be nice"},
		{Role: models.RoleUser, Content: "hello"},
	}})
	if len(msgs) != 2 {
		t.Fatalf("expected user and assistant messages, got %+v", msgs)
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "hello" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Role != models.RoleAssistant || !strings.Contains(msgs[1].Content, "done") {
		t.Errorf("second message = %+v", msgs[1])
	}
}

func TestRespondFailureIsEmpty(t *testing.T) {
	e := newTestEngine(models.WorkflowPlan{}, workers.NewRegistry())
	msgs := e.Respond(context.Background(), Request{})
	if msgs == nil || len(msgs) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", msgs)
	}
}

func collect(ch <-chan Chunk) (string, Chunk) {
	var b strings.Builder
	var last Chunk
	for c := range ch {
		b.WriteString(c.Content)
		last = c
	}
	return b.String(), last
}

func TestStream(t *testing.T) {
	streaming := &funcWorker{name: "coder", fn: func(_ context.Context, _ []models.Message, onDelta func(string)) (string, error) {
		onDelta("hello ")
		onDelta("world")
		return "hello world", nil
	}}
	plan := models.WorkflowPlan{Name: "s", Steps: []models.WorkflowStep{
		step("s1", "coder", "a"),
		step("s2", "coder", "b", "s1"),
	}}
	e := newTestEngine(plan, workers.NewRegistry(streaming))

	text, last := collect(e.Stream(context.Background(), userRequest("go")))
	want := "### Step: s1 (Worker: coder)\n\nhello world" +
		"\n\n### Step: s2 (Worker: coder)\n\nhello world"
	if text != want {
		t.Errorf("stream text = %q, want %q", text, want)
	}
	if !last.Done || last.Err != nil {
		t.Errorf("final chunk = %+v", last)
	}
}

func TestStreamFailureTexts(t *testing.T) {
	plan := models.WorkflowPlan{Name: "s", Steps: []models.WorkflowStep{step("s1", "ghost", "a")}}
	e := newTestEngine(plan, workers.NewRegistry())

	text, last := collect(e.Stream(context.Background(), userRequest("go")))
	if text != "### Step: s1 (Worker: ghost)\n\nWorker 'ghost' not found." {
		t.Errorf("stream text = %q", text)
	}
	if !last.Done {
		t.Error("expected Done")
	}
}

func TestStreamFailureAfterPartialOutput(t *testing.T) {
	partial := &funcWorker{name: "flaky", fn: func(_ context.Context, _ []models.Message, onDelta func(string)) (string, error) {
		onDelta("[f]")
		onDelta("[f]")
		return "", errors.New("boom")
	}}
	plan := models.WorkflowPlan{Name: "s", Steps: []models.WorkflowStep{step("s1", "flaky", "a")}}
	e := newTestEngine(plan, workers.NewRegistry(partial))

	text, last := collect(e.Stream(context.Background(), userRequest("go")))
	want := "### Step: s1 (Worker: flaky)\n\n[f][f]\n\nWorker 'flaky' failed: boom"
	if text != want {
		t.Errorf("stream text = %q, want %q", text, want)
	}
	if !last.Done || last.Err != nil {
		t.Errorf("final chunk = %+v", last)
	}
}

func TestStreamError(t *testing.T) {
	e := newTestEngine(models.WorkflowPlan{}, workers.NewRegistry())
	text, last := collect(e.Stream(context.Background(), Request{}))
	if text != "" {
		t.Errorf("unexpected content %q", text)
	}
	if !last.Done || !errors.Is(last.Err, ErrEmptyRequest) {
		t.Errorf("final chunk = %+v", last)
	}
}

// memStore is an in-memory Checkpointer.
type memStore struct {
	mu      sync.Mutex
	states  []models.WorkflowState
	history map[string][]models.Message
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{history: make(map[string][]models.Message)}
}

func (m *memStore) SaveState(_ context.Context, s models.WorkflowState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, s)
	return m.saveErr
}

func (m *memStore) History(_ context.Context, sessionID string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Message(nil), m.history[sessionID]...), nil
}

func (m *memStore) AppendMessages(_ context.Context, sessionID string, msgs ...models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[sessionID] = append(m.history[sessionID], msgs...)
	return nil
}

func (m *memStore) ClearHistory(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, sessionID)
	return nil
}

func TestSessionHistory(t *testing.T) {
	store := newMemStore()
	reg := workers.NewRegistry(echoWorker("coder", "answer"))
	plan := models.WorkflowPlan{Name: "h", Steps: []models.WorkflowStep{step("s1", "coder", "t")}}
	e := newTestEngine(plan, reg, WithCheckpointer(store))
	ctx := context.Background()

	first := userRequest("first")
	first.SessionID = "sess"
	if _, err := e.Run(ctx, first); err != nil {
		t.Fatalf("first run: %v", err)
	}

	second := userRequest("second")
	second.SessionID = "sess"
	state, err := e.Run(ctx, second)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(state.Messages) != 4 {
		t.Fatalf("expected history + turn (4 messages), got %d", len(state.Messages))
	}
	if state.Messages[0].Content != "first" || state.Messages[2].Content != "second" {
		t.Errorf("unexpected conversation: %+v", state.Messages)
	}

	history, err := e.History(ctx, "sess")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 4 {
		t.Errorf("expected 4 persisted messages, got %d", len(history))
	}

	// A round checkpoint plus the final one per run.
	if len(store.states) != 4 {
		t.Errorf("expected 4 checkpoints, got %d", len(store.states))
	}
	if store.states[len(store.states)-1].Phase != models.PhaseDone {
		t.Errorf("last checkpoint phase = %s", store.states[len(store.states)-1].Phase)
	}

	if err := e.ClearHistory(ctx, "sess"); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	history, _ = e.History(ctx, "sess")
	if len(history) != 0 {
		t.Errorf("expected empty history, got %d", len(history))
	}
}

func TestCheckpointFailureDoesNotStopRun(t *testing.T) {
	store := newMemStore()
	store.saveErr = errors.New("disk full")
	reg := workers.NewRegistry(echoWorker("coder", "fine"))
	plan := models.WorkflowPlan{Name: "c", Steps: []models.WorkflowStep{step("s1", "coder", "t")}}

	state, err := newTestEngine(plan, reg, WithCheckpointer(store)).Run(context.Background(), userRequest("go"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Phase != models.PhaseDone {
		t.Errorf("phase = %s", state.Phase)
	}
}

func TestExecuteAssignsRunID(t *testing.T) {
	reg := workers.NewRegistry(echoWorker("coder", "x"))
	plan := models.WorkflowPlan{Name: "x", Steps: []models.WorkflowStep{step("s1", "coder", "t")}}
	e := NewEngine(RequiredConfig{Workers: reg})

	state, err := e.Execute(context.Background(), plan, models.WorkflowState{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if state.RunID == "" {
		t.Error("expected a generated run id")
	}
	if state.Plan == nil || state.Plan.Name != "x" {
		t.Errorf("plan not recorded: %+v", state.Plan)
	}
}

func TestExecuteResumesFromCheckpoint(t *testing.T) {
	var calls atomic.Int32
	var sawContext atomic.Bool
	coder := &funcWorker{name: "coder", fn: func(_ context.Context, msgs []models.Message, _ func(string)) (string, error) {
		calls.Add(1)
		if strings.Contains(models.LastUserMessage(msgs), "[Result from s1]:\nsaved") {
			sawContext.Store(true)
		}
		return "fresh", nil
	}}
	plan := models.WorkflowPlan{Name: "resume", Steps: []models.WorkflowStep{
		step("s1", "coder", "first"),
		step("s2", "coder", "second", "s1"),
	}}
	checkpoint := models.WorkflowState{
		RunID:            "run-9",
		CurrentRound:     0,
		CompletedResults: []models.WorkerResult{{StepID: "s1", Worker: "coder", Task: "first", Output: "saved"}},
		Phase:            models.PhaseCheckingRound,
	}

	e := NewEngine(RequiredConfig{Workers: workers.NewRegistry(coder)})
	final, err := e.Execute(context.Background(), plan, checkpoint)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("only the unfinished step should run, got %d calls", calls.Load())
	}
	if !sawContext.Load() {
		t.Error("resumed step should see the checkpointed dependency output")
	}
	if final.RunID != "run-9" || final.CurrentRound != 1 {
		t.Errorf("run/round = %s/%d, want run-9/1", final.RunID, final.CurrentRound)
	}
	if len(final.CompletedResults) != 2 || final.CompletedResults[0].Output != "saved" {
		t.Errorf("results = %+v", final.CompletedResults)
	}
}

func TestTaskPrompt(t *testing.T) {
	s := step("s3", "analyst", "compare", "s1", "s2", "s9")
	outputs := map[string]string{"s1": "one", "s2": "two"}

	want := "compare\n\n## Context from previous steps\n[Result from s1]:\none\n\n[Result from s2]:\ntwo"
	if got := TaskPrompt(s, outputs); got != want {
		t.Errorf("TaskPrompt = %q, want %q", got, want)
	}
	if got := TaskPrompt(step("s1", "coder", "bare"), outputs); got != "bare" {
		t.Errorf("TaskPrompt without deps = %q", got)
	}
}

func TestSynthesize(t *testing.T) {
	long := strings.Repeat("é", 250)
	state := models.WorkflowState{
		Plan: &models.WorkflowPlan{Name: "demo"},
		CompletedResults: []models.WorkerResult{
			{StepID: "a", Worker: "coder", Task: long, Output: "A"},
			{StepID: "b", Worker: "analyst", Task: "short", Output: "B"},
		},
	}

	want := "# Workflow Results: demo\n*Completed 2 steps*\n\n" +
		"### Step: a (Worker: coder)\n**Task**: " + strings.Repeat("é", 200) + "\n\nA" +
		"\n\n---\n\n" +
		"### Step: b (Worker: analyst)\n**Task**: short\n\nB"
	if got := Synthesize(state); got != want {
		t.Errorf("Synthesize mismatch:\n got %q\nwant %q", got, want)
	}
	if Synthesize(state) != Synthesize(state) {
		t.Error("Synthesize should be deterministic")
	}
	if got := Synthesize(models.WorkflowState{}); got != NoResults {
		t.Errorf("empty Synthesize = %q", got)
	}
}
