// Package graph provides a dependency graph for workflow step scheduling.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the step graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrUnknownDependency indicates a step depends on an ID that is not in the plan.
var ErrUnknownDependency = errors.New("unknown dependency")

// ErrDuplicateStep indicates two steps share an ID.
var ErrDuplicateStep = errors.New("duplicate step id")

// DependencyGraph represents a directed acyclic graph of step dependencies.
// Steps are nodes, and edges represent "blocked by" relationships.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps step ID to the step itself.
	nodes map[string]models.WorkflowStep
	// order keeps plan declaration order so ready sets are deterministic.
	order []string
	// edges maps step ID to IDs of steps it depends on (is blocked by).
	edges map[string][]string
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:    make(map[string]models.WorkflowStep),
		edges:    make(map[string][]string),
		debugLog: func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// FromPlan builds a graph for the given plan.
func FromPlan(plan models.WorkflowPlan) (*DependencyGraph, error) {
	g := New()
	if err := g.Build(plan.Steps); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks that the plan's steps form a schedulable graph:
// unique IDs, known dependencies, no self edges and no cycles.
func Validate(plan models.WorkflowPlan) error {
	_, err := FromPlan(plan)
	return err
}

// Build constructs the dependency graph from a slice of steps.
// Returns an error if a cycle is detected or dependencies reference unknown steps.
func (g *DependencyGraph) Build(steps []models.WorkflowStep) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] building graph from %d steps", len(steps))

	// First pass: register all steps as nodes.
	for _, step := range steps {
		if _, exists := g.nodes[step.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateStep, step.ID)
		}
		g.nodes[step.ID] = step
		g.order = append(g.order, step.ID)
		g.edges[step.ID] = nil
	}

	// Second pass: build edges from DependsOn fields.
	for _, step := range steps {
		for _, depID := range step.DependsOn {
			if depID == step.ID {
				return fmt.Errorf("step %s depends on itself: %w", step.ID, ErrCycleDetected)
			}
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("step %s depends on %s: %w", step.ID, depID, ErrUnknownDependency)
			}
			g.edges[step.ID] = append(g.edges[step.ID], depID)
		}
	}

	if g.hasCycleLocked() {
		return ErrCycleDetected
	}

	g.debugLog("[graph.Build] graph built successfully with %d nodes", len(g.nodes))
	return nil
}

// hasCycleLocked reports a back edge found by depth-first search with
// coloring. The caller holds the lock.
func (g *DependencyGraph) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Back edge.
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// TopologicalSort returns step IDs in an order where all dependencies
// come before the steps that depend on them. Ties keep declaration order.
// Returns an error if the graph contains a cycle.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	visited := make(map[string]bool, len(g.nodes))
	result := make([]string, 0, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.edges[id] {
			visit(depID)
		}
		result = append(result, id)
	}

	for _, id := range g.order {
		visit(id)
	}
	return result, nil
}

// Ready returns the steps that are not in done and whose dependencies are
// all in done, in declaration order.
func (g *DependencyGraph) Ready(done map[string]bool) []models.WorkflowStep {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []models.WorkflowStep
	for _, id := range g.order {
		if done[id] {
			continue
		}
		allDepsComplete := true
		for _, depID := range g.edges[id] {
			if !done[depID] {
				allDepsComplete = false
				break
			}
		}
		if allDepsComplete {
			ready = append(ready, g.nodes[id])
		}
	}

	g.debugLog("[graph.Ready] %d of %d steps ready", len(ready), len(g.order))
	return ready
}

// Depth returns the number of scheduling rounds an acyclic graph needs:
// the length of its longest dependency chain.
func (g *DependencyGraph) Depth() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	level := make(map[string]int, len(g.nodes))
	var depth func(id string) int
	depth = func(id string) int {
		if l, ok := level[id]; ok {
			return l
		}
		l := 1
		for _, depID := range g.edges[id] {
			if d := depth(depID) + 1; d > l {
				l = d
			}
		}
		level[id] = l
		return l
	}

	maxDepth := 0
	for _, id := range g.order {
		if d := depth(id); d > maxDepth {
			maxDepth = d
		}
	}
	return maxDepth
}
