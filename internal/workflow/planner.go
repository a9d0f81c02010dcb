package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/ShayCichocki/conductor/internal/graph"
	"github.com/ShayCichocki/conductor/internal/llm"
	"github.com/ShayCichocki/conductor/internal/workers"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// TemplateSource provides named plan templates.
type TemplateSource interface {
	Get(name string) (models.WorkflowPlan, bool)
	Prompt() string
}

// WorkerCatalog lists the workers a plan may assign steps to.
type WorkerCatalog interface {
	List() []workers.Info
	Has(name string) bool
}

// planningPromptTemplate is filled with the worker list, the template
// catalogue and the valid worker names.
const planningPromptTemplate = `You are a Workflow Planner. Your job is to break down a user's complex request into a multi-step execution plan, assigning each step to the most appropriate worker.

## Available Workers
%s

%s

## Instructions
1. Analyze the user's request carefully.
2. If the request matches one of the available templates, use that template's steps.
3. Otherwise, create a dynamic multi-step plan.
4. Each step must specify: id, worker, task description, and dependencies.
5. Steps without dependencies can run in parallel.
6. Steps with depends_on will run after those dependencies complete.
7. Use 2-5 steps. Keep each step focused on one clear task.

## Output Format
Respond with ONLY a JSON object:
` + "```json" + `
{
  "name": "workflow_name",
  "reasoning": "brief explanation",
  "steps": [
    {"id": "step_1", "worker": "researcher", "task": "...", "depends_on": []},
    {"id": "step_2", "worker": "coder", "task": "...", "depends_on": ["step_1"]}
  ]
}
` + "```" + `

Valid worker names: %s`

// Planner turns a user request into a WorkflowPlan, either from a named
// template or by asking the model for one. Plan never fails: anything that
// goes wrong produces the single-step fallback plan.
type Planner struct {
	caller    llm.Caller
	templates TemplateSource
	workers   WorkerCatalog
	debugLog  func(format string, args ...interface{})
}

// NewPlanner creates a planner. templates may be nil.
func NewPlanner(caller llm.Caller, templates TemplateSource, catalog WorkerCatalog) *Planner {
	return &Planner{
		caller:    caller,
		templates: templates,
		workers:   catalog,
		debugLog:  func(string, ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (p *Planner) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		p.debugLog = fn
	}
}

// Plan returns the enriched template when templateName resolves, otherwise
// a model-generated plan, otherwise the fallback plan.
func (p *Planner) Plan(ctx context.Context, userMessage, templateName string) models.WorkflowPlan {
	if templateName != "" && p.templates != nil {
		if tmpl, ok := p.templates.Get(templateName); ok {
			p.debugLog("[planner] template %s matched (%d steps)", templateName, len(tmpl.Steps))
			return Enrich(tmpl, userMessage)
		}
		log.Printf("[planner] template %q not found, planning dynamically", templateName)
	}

	plan, err := p.llmPlan(ctx, userMessage)
	if err != nil {
		log.Printf("[planner] planning failed: %v", err)
		return Fallback(userMessage, err)
	}

	p.debugLog("[planner] plan %s generated with %d steps: %s", plan.Name, len(plan.Steps), plan.Reasoning)
	return plan
}

// SystemPrompt builds the planning prompt from the current workers and templates.
func (p *Planner) SystemPrompt() string {
	infos := p.workers.List()
	descriptions := make([]string, 0, len(infos))
	names := make([]string, 0, len(infos))
	for _, w := range infos {
		descriptions = append(descriptions, fmt.Sprintf("- **%s**: %s", w.Name, w.Description))
		names = append(names, w.Name)
	}

	templatesPrompt := "No predefined workflow templates available."
	if p.templates != nil {
		templatesPrompt = p.templates.Prompt()
	}

	return fmt.Sprintf(planningPromptTemplate,
		strings.Join(descriptions, "\n"), templatesPrompt, strings.Join(names, ", "))
}

func (p *Planner) llmPlan(ctx context.Context, userMessage string) (models.WorkflowPlan, error) {
	content, err := p.caller.Complete(ctx, p.SystemPrompt(), []models.Message{
		{Role: models.RoleUser, Content: userMessage},
	})
	if err != nil {
		return models.WorkflowPlan{}, err
	}

	raw, err := parsePlanJSON(content)
	if err != nil {
		return models.WorkflowPlan{}, err
	}

	plan := p.buildPlan(raw)
	if err := graph.Validate(plan); err != nil {
		return models.WorkflowPlan{}, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	return plan, nil
}

// buildPlan converts the model's JSON into a plan, dropping steps that name
// unknown workers and any dependencies on the dropped steps.
func (p *Planner) buildPlan(raw rawPlan) models.WorkflowPlan {
	steps := make([]models.WorkflowStep, 0, len(raw.Steps))
	for _, s := range raw.Steps {
		if !p.workers.Has(s.Worker) {
			log.Printf("[planner] dropping step %q: unknown worker %q (available: %s)",
				s.ID, s.Worker, strings.Join(workerNames(p.workers), ", "))
			continue
		}
		id := s.ID
		if id == "" {
			id = fmt.Sprintf("step_%d", len(steps)+1)
		}
		deps := s.DependsOn
		if deps == nil {
			deps = []string{}
		}
		steps = append(steps, models.WorkflowStep{ID: id, Worker: s.Worker, Task: s.Task, DependsOn: deps})
	}

	known := make(map[string]bool, len(steps))
	for _, s := range steps {
		known[s.ID] = true
	}
	for i, s := range steps {
		kept := s.DependsOn[:0:0]
		for _, dep := range s.DependsOn {
			if !known[dep] {
				log.Printf("[planner] step %s: removing dependency on missing step %s", s.ID, dep)
				continue
			}
			kept = append(kept, dep)
		}
		steps[i].DependsOn = kept
	}

	name := raw.Name
	if name == "" {
		name = "dynamic"
	}
	reasoning := raw.Reasoning
	if reasoning == "" {
		reasoning = "LLM-generated plan"
	}
	return models.WorkflowPlan{Name: name, Steps: steps, Reasoning: reasoning}
}

func workerNames(c WorkerCatalog) []string {
	infos := c.List()
	names := make([]string, 0, len(infos))
	for _, w := range infos {
		names = append(names, w.Name)
	}
	return names
}

// rawPlan is the JSON contract the planning prompt asks for.
type rawPlan struct {
	Name      string    `json:"name"`
	Reasoning string    `json:"reasoning"`
	Steps     []rawStep `json:"steps"`
}

type rawStep struct {
	ID        string   `json:"id"`
	Worker    string   `json:"worker"`
	Task      string   `json:"task"`
	DependsOn []string `json:"depends_on"`
}

// errPlanParse wraps JSON extraction failures.
var errPlanParse = errors.New("failed to parse plan JSON")

// parsePlanJSON extracts the plan object from a model reply. When the reply
// contains a code fence, the first fenced block is used and a leading
// "json" language tag is removed.
func parsePlanJSON(content string) (rawPlan, error) {
	jsonStr := strings.TrimSpace(content)
	if strings.Contains(content, "```") {
		jsonStr = strings.Split(content, "```")[1]
		jsonStr = strings.TrimPrefix(jsonStr, "json")
		jsonStr = strings.TrimSpace(jsonStr)
	}

	var raw rawPlan
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		preview := content
		if len(preview) > 300 {
			preview = preview[:300]
		}
		log.Printf("[planner] plan JSON parse failed: %v (content: %q)", err, preview)
		return rawPlan{}, fmt.Errorf("%w: %v", errPlanParse, err)
	}
	return raw, nil
}

// Enrich returns a copy of plan whose step tasks carry the user's request.
// plan itself is not modified.
func Enrich(plan models.WorkflowPlan, userMessage string) models.WorkflowPlan {
	enriched := plan.Clone()
	for i := range enriched.Steps {
		enriched.Steps[i].Task = enriched.Steps[i].Task + "\n\nUser's original request: " + userMessage
	}
	return enriched
}

// Fallback is the single coder step used when planning fails.
func Fallback(userMessage string, cause error) models.WorkflowPlan {
	return models.WorkflowPlan{
		Name: "fallback",
		Steps: []models.WorkflowStep{{
			ID:        "step_1",
			Worker:    "coder",
			Task:      userMessage,
			DependsOn: []string{},
		}},
		Reasoning: fmt.Sprintf("Planning failed (%v), falling back to single coder worker.", cause),
	}
}
