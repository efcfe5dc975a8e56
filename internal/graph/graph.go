// Package graph provides the dependency graph the orchestrator schedules from.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ShayCichocki/hive/pkg/models"
)

// ErrCycleDetected indicates an add would create a circular dependency.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrInvalidDependency indicates a task references an unknown or self dependency.
var ErrInvalidDependency = errors.New("invalid dependency")

// ErrDuplicateTask indicates a task id is already present in the graph.
var ErrDuplicateTask = errors.New("duplicate task id")

// ErrUnknownTask indicates the task id is not present in the graph.
var ErrUnknownTask = errors.New("unknown task id")

// TaskGraph is a directed acyclic graph of tasks. Edges point from a
// task to the tasks it depends on. The graph stays acyclic after every
// add: an add that would close a cycle is rejected without mutating
// the graph.
type TaskGraph struct {
	mu sync.RWMutex
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on.
	edges map[string][]string
	// dependents maps task ID to IDs of tasks that depend on it.
	dependents map[string][]string
	// completed tracks which tasks have been marked complete.
	completed map[string]bool
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty task graph.
func New() *TaskGraph {
	return &TaskGraph{
		nodes:      make(map[string]*models.Task),
		edges:      make(map[string][]string),
		dependents: make(map[string][]string),
		completed:  make(map[string]bool),
		debugLog:   func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (g *TaskGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Add inserts a task into the graph. Dependencies may reference tasks
// that have not been added yet; such tasks simply stay unready until
// the dependency arrives and completes. The add is rejected when the
// id already exists, a dependency references the task itself, or the
// new edges would close a cycle. A rejected add leaves the graph
// exactly as it was.
func (g *TaskGraph) Add(task *models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("%w: empty task id", ErrInvalidDependency)
	}
	if _, exists := g.nodes[task.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
	}
	for _, depID := range task.DependsOn {
		if depID == task.ID {
			return fmt.Errorf("%w: task %s depends on itself", ErrInvalidDependency, task.ID)
		}
	}

	// Tentatively insert, then verify acyclicity. On rejection the
	// insert is rolled back so no partial mutation persists.
	g.nodes[task.ID] = task
	g.edges[task.ID] = append([]string(nil), task.DependsOn...)
	if g.hasCycleLocked() {
		delete(g.nodes, task.ID)
		delete(g.edges, task.ID)
		return fmt.Errorf("adding task %s: %w", task.ID, ErrCycleDetected)
	}
	for _, depID := range task.DependsOn {
		g.dependents[depID] = append(g.dependents[depID], task.ID)
	}

	g.debugLog("[graph.Add] added task id=%s name=%q depends_on=%v", task.ID, task.Name, task.DependsOn)
	return nil
}

// Validate checks that every dependency referenced by any task exists
// in the graph. Callers run this after a batch of adds; a graph built
// from a fully resolved decomposition passes.
func (g *TaskGraph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, deps := range g.edges {
		for _, depID := range deps {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("%w: task %s depends on unknown task %s", ErrInvalidDependency, id, depID)
			}
		}
	}
	return nil
}

// hasCycleLocked detects back edges with DFS coloring. Assumes the
// lock is held.
func (g *TaskGraph) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
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

	for id := range g.nodes {
		if colors[id] == 0 {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// HasCycle returns true if the graph contains a circular dependency.
// Always false for a graph built through Add.
func (g *TaskGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// Ready returns tasks whose status is pending or queued and whose
// dependencies are all marked complete, ordered by priority descending
// then creation time ascending.
func (g *TaskGraph) Ready() []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*models.Task
	for id, task := range g.nodes {
		if g.completed[id] {
			continue
		}
		if task.Status != models.TaskStatusPending && task.Status != models.TaskStatusQueued {
			continue
		}

		satisfied := true
		for _, depID := range g.edges[id] {
			if !g.completed[depID] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, task)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})

	g.debugLog("[graph.Ready] %d of %d tasks ready", len(ready), len(g.nodes))
	return ready
}

// TopologicalSort returns task IDs in an order where all dependencies
// come before the tasks that depend on them.
func (g *TaskGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	visited := make(map[string]bool, len(g.nodes))
	var result []string

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

	// Iterate ids in a stable order so repeated sorts of the same
	// graph agree.
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		visit(id)
	}

	return result, nil
}

// MarkComplete records a task as completed for readiness computation.
func (g *TaskGraph) MarkComplete(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[taskID] = true
	g.debugLog("[graph.MarkComplete] task %s complete (%d total)", taskID, len(g.completed))
}

// Get returns the task for a given ID, or nil if not found.
func (g *TaskGraph) Get(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// Size returns the number of tasks in the graph.
func (g *TaskGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the IDs of tasks the given task depends on.
func (g *TaskGraph) Dependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[taskID]...)
}

// Dependents returns the IDs of tasks that depend on the given task.
func (g *TaskGraph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.dependents[taskID]...)
}

// CompletedIDs returns the IDs of all tasks marked complete.
func (g *TaskGraph) CompletedIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.completed))
	for id, done := range g.completed {
		if done {
			ids = append(ids, id)
		}
	}
	return ids
}

// Tasks returns every task in the graph in no particular order.
func (g *TaskGraph) Tasks() []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tasks := make([]*models.Task, 0, len(g.nodes))
	for _, task := range g.nodes {
		tasks = append(tasks, task)
	}
	return tasks
}
