// Package templates loads declarative workflow templates from YAML files.
package templates

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/conductor/internal/graph"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// ErrInvalidTemplate marks a template file that parsed but is unusable.
var ErrInvalidTemplate = errors.New("invalid workflow template")

// Info describes a loaded template.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Steps       int    `json:"steps"`
	File        string `json:"file"`
}

type template struct {
	info Info
	plan models.WorkflowPlan
}

// templateFile is the on-disk shape of a template.
type templateFile struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Steps       *[]models.WorkflowStep `yaml:"steps"`
}

// Registry holds the templates found in one directory, keyed by name.
type Registry struct {
	dir string

	mu        sync.RWMutex
	templates map[string]*template
	// order is first-load order (files are read sorted by name).
	order []string

	debugLog func(format string, args ...interface{})
}

// NewRegistry creates an empty registry for dir. Call Reload to populate it.
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:       dir,
		templates: make(map[string]*template),
		debugLog:  func(string, ...interface{}) {},
	}
}

// Load creates a registry for dir and loads it. A missing directory yields
// an empty registry; malformed files are skipped with a warning.
func Load(dir string) (*Registry, error) {
	r := NewRegistry(dir)
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// SetDebugLog sets the debug logging function.
func (r *Registry) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		r.debugLog = fn
	}
}

// Dir returns the directory the registry loads from.
func (r *Registry) Dir() string {
	return r.dir
}

// Reload re-reads every *.yaml / *.yml file and atomically swaps the result in.
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("[templates] directory %s not found, no templates loaded", r.dir)
			r.swap(map[string]*template{}, nil)
			return nil
		}
		return fmt.Errorf("read templates dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isTemplateFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	loaded := make(map[string]*template)
	var order []string
	for _, name := range names {
		t, err := parseFile(filepath.Join(r.dir, name))
		if err != nil {
			log.Printf("[templates] skipping %s: %v", name, err)
			continue
		}
		if _, exists := loaded[t.info.Name]; !exists {
			order = append(order, t.info.Name)
		}
		loaded[t.info.Name] = t
		r.debugLog("[templates] loaded %s (%d steps) from %s", t.info.Name, t.info.Steps, name)
	}

	r.swap(loaded, order)
	return nil
}

func (r *Registry) swap(loaded map[string]*template, order []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates = loaded
	r.order = order
}

func isTemplateFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// parseFile reads and validates a single template file.
func parseFile(path string) (*template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(data, filepath.Base(path))
}

func parse(data []byte, file string) (*template, error) {
	var tf templateFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if tf.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidTemplate)
	}
	if tf.Steps == nil {
		return nil, fmt.Errorf("%w: missing steps", ErrInvalidTemplate)
	}

	steps := *tf.Steps
	for i, s := range steps {
		if s.ID == "" || s.Worker == "" || s.Task == "" {
			return nil, fmt.Errorf("%w: step %d needs id, worker and task", ErrInvalidTemplate, i+1)
		}
		if steps[i].DependsOn == nil {
			steps[i].DependsOn = []string{}
		}
	}

	plan := models.WorkflowPlan{
		Name:      tf.Name,
		Steps:     steps,
		Reasoning: "Loaded from template: " + file,
	}
	if err := graph.Validate(plan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}

	return &template{
		info: Info{Name: tf.Name, Description: tf.Description, Steps: len(steps), File: file},
		plan: plan,
	}, nil
}

// Get returns a copy of the named template's plan.
func (r *Registry) Get(name string) (models.WorkflowPlan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.templates[name]
	if !ok {
		return models.WorkflowPlan{}, false
	}
	return t.plan.Clone(), true
}

// List returns every template's description in load order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.templates[name].info)
	}
	return out
}

// Len returns the number of loaded templates.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}

// Prompt renders the template catalogue for the planner's system prompt.
func (r *Registry) Prompt() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return "No predefined workflow templates available."
	}

	lines := []string{"## Available Workflow Templates"}
	for _, name := range r.order {
		t := r.templates[name]
		flow := make([]string, 0, len(t.plan.Steps))
		for _, s := range t.plan.Steps {
			flow = append(flow, fmt.Sprintf("%s(%s)", s.Worker, s.ID))
		}
		lines = append(lines, fmt.Sprintf("- **%s**: %s", name, t.info.Description))
		lines = append(lines, "  Flow: "+strings.Join(flow, " → "))
	}
	return strings.Join(lines, "\n")
}
