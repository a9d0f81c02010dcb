// Package workers provides the named, specialised workers that execute
// workflow steps, and the registry the scheduler resolves them from.
package workers

import (
	"context"

	"github.com/ShayCichocki/conductor/internal/llm"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// Worker executes one step's instruction. onDelta, when non-nil, receives
// output fragments as they are produced; the returned string is the full
// output either way.
type Worker interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, msgs []models.Message, onDelta func(string)) (string, error)
}

// Info is the routing description of a worker shown to the planner.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LLMWorker answers with a model call under its own system prompt.
type LLMWorker struct {
	name         string
	description  string
	systemPrompt string
	caller       llm.Caller
}

// NewLLMWorker creates a worker backed by caller.
func NewLLMWorker(name, description, systemPrompt string, caller llm.Caller) *LLMWorker {
	return &LLMWorker{
		name:         name,
		description:  description,
		systemPrompt: systemPrompt,
		caller:       caller,
	}
}

func (w *LLMWorker) Name() string         { return w.name }
func (w *LLMWorker) Description() string  { return w.description }
func (w *LLMWorker) SystemPrompt() string { return w.systemPrompt }

// Invoke streams when the caller wants deltas and completes otherwise.
func (w *LLMWorker) Invoke(ctx context.Context, msgs []models.Message, onDelta func(string)) (string, error) {
	if onDelta != nil {
		return w.caller.Stream(ctx, w.systemPrompt, msgs, onDelta)
	}
	return w.caller.Complete(ctx, w.systemPrompt, msgs)
}

const (
	researcherPrompt = "You are an expert researcher. Your strengths:\n" +
		"- Thorough web searching and information gathering\n" +
		"- Fact-checking and source verification\n" +
		"- Summarizing complex findings clearly\n" +
		"- Providing well-structured research reports\n\n" +
		"Always cite sources when possible. Present findings in a clear, organized format."

	coderPrompt = "You are an expert software engineer. Your strengths:\n" +
		"- Writing clean, production-ready code\n" +
		"- Debugging and troubleshooting\n" +
		"- Code review with security and performance focus\n" +
		"- Technical architecture and design patterns\n" +
		"- Multiple languages: Go, Python, JavaScript, TypeScript, SQL, etc.\n\n" +
		"Follow the conventions of the language at hand. Include error handling. " +
		"Explain your code decisions."

	analystPrompt = "You are an expert data analyst. Your strengths:\n" +
		"- Statistical analysis and interpretation\n" +
		"- Data visualization recommendations\n" +
		"- Business intelligence and insights\n" +
		"- SQL query optimization\n" +
		"- Clear presentation of quantitative findings\n\n" +
		"Always explain your methodology. Present results with context and actionable recommendations."
)

// Builtins returns the researcher, coder and analyst workers.
func Builtins(caller llm.Caller) []Worker {
	return []Worker{
		NewLLMWorker("researcher",
			"Specializes in web search, information gathering, fact-checking, and summarizing findings.",
			researcherPrompt, caller),
		NewLLMWorker("coder",
			"Specializes in writing code, debugging, code review, and technical architecture.",
			coderPrompt, caller),
		NewLLMWorker("analyst",
			"Specializes in data analysis, statistics, visualization recommendations, and business insights.",
			analystPrompt, caller),
	}
}
