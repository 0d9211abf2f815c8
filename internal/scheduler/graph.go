package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/toposort"
)

// Graph holds the tasks of one session and the derived dependents index.
// All state transitions go through its methods; the mutex serializes them when
// agents report outcomes from their own goroutines.
type Graph struct {
	mu         sync.RWMutex
	tasks      map[string]*Task    // All tasks indexed by ID
	order      []string            // Insertion order
	dependents map[string][]string // taskID -> tasks that depend on it
	nextSeq    uint64
	now        func() time.Time
}

// Transition describes the readiness changes caused by one state change.
type Transition struct {
	Ready   []string // Tasks promoted to READY
	Blocked []string // Tasks marked BLOCKED by failure propagation
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		tasks:      make(map[string]*Task),
		dependents: make(map[string][]string),
		now:        time.Now,
	}
}

// AddTask inserts a task and its dependency edges.
// Dependencies may reference tasks that are not yet present; Validate reports those.
// Only the new edges are checked for cycles: a cycle exists exactly when one of
// the task's dependencies can already reach the new task's ID.
func (g *Graph) AddTask(task *Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[task.ID]; exists {
		return &DuplicateTaskError{ID: task.ID}
	}

	deps := make([]string, 0, len(task.DependsOn))
	seen := make(map[string]bool, len(task.DependsOn))
	for _, depID := range task.DependsOn {
		if depID == task.ID {
			return &CycleDetectedError{Cycle: []string{task.ID, task.ID}}
		}
		if seen[depID] {
			continue
		}
		seen[depID] = true
		deps = append(deps, depID)
	}

	for _, depID := range deps {
		if path := g.pathLocked(depID, task.ID); path != nil {
			cycle := append([]string{task.ID}, path...)
			return &CycleDetectedError{Cycle: cycle}
		}
	}

	task.DependsOn = deps
	task.Status = TaskPending
	task.seq = g.nextSeq
	g.nextSeq++
	if task.CreatedAt.IsZero() {
		task.CreatedAt = g.now()
	}

	g.tasks[task.ID] = task
	g.order = append(g.order, task.ID)
	for _, depID := range deps {
		g.dependents[depID] = append(g.dependents[depID], task.ID)
	}

	g.refreshLocked(task)
	return nil
}

// pathLocked returns the dependency path from `from` to `target`, following
// DependsOn edges, or nil if target is unreachable.
func (g *Graph) pathLocked(from, target string) []string {
	visited := make(map[string]bool)
	var walk func(id string) []string
	walk = func(id string) []string {
		if id == target {
			return []string{id}
		}
		if visited[id] {
			return nil
		}
		visited[id] = true

		task, ok := g.tasks[id]
		if !ok {
			return nil
		}
		for _, depID := range task.DependsOn {
			if rest := walk(depID); rest != nil {
				return append([]string{id}, rest...)
			}
		}
		return nil
	}
	return walk(from)
}

// Validate checks that every dependency exists and that the graph is acyclic,
// using a full topological sort. Returns the task IDs in dependency order.
// Pending tasks whose dependencies are all complete are promoted to READY.
func (g *Graph) Validate() ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, taskID := range g.order {
		for _, depID := range g.tasks[taskID].DependsOn {
			if _, exists := g.tasks[depID]; !exists {
				return nil, &UnknownDependencyError{TaskID: taskID, DependencyID: depID}
			}
		}
	}

	// Edge (depID, taskID) means depID must come before taskID.
	var edges []toposort.Edge
	for _, taskID := range g.order {
		task := g.tasks[taskID]
		if len(task.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, taskID})
			continue
		}
		for _, depID := range task.DependsOn {
			edges = append(edges, toposort.Edge{depID, taskID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		if cycle := g.findCycleLocked(); cycle != nil {
			return nil, &CycleDetectedError{Cycle: cycle}
		}
		return nil, fmt.Errorf("topological sort failed: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(g.tasks) {
		if cycle := g.findCycleLocked(); cycle != nil {
			return nil, &CycleDetectedError{Cycle: cycle}
		}
		return nil, fmt.Errorf("topological sort ordered %d of %d tasks", len(order), len(g.tasks))
	}

	for _, taskID := range g.order {
		g.refreshLocked(g.tasks[taskID])
	}
	return order, nil
}

// findCycleLocked returns one cycle in the graph, or nil.
// Depth-first search with coloring; the gray stack holds the current path.
func (g *Graph) findCycleLocked() []string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(g.tasks))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)
		for _, depID := range g.tasks[id].DependsOn {
			if _, ok := g.tasks[depID]; !ok {
				continue
			}
			switch color[depID] {
			case gray:
				for i, sid := range stack {
					if sid == depID {
						cycle := append([]string(nil), stack[i:]...)
						return append(cycle, depID)
					}
				}
			case white:
				if cycle := visit(depID); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range g.order {
		if color[id] == white {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// refreshLocked recomputes readiness of a single PENDING task.
// It becomes READY when all dependencies are COMPLETED and BLOCKED when any
// dependency ended unsuccessfully.
func (g *Graph) refreshLocked(task *Task) bool {
	if task.Status != TaskPending {
		return false
	}

	for _, depID := range task.DependsOn {
		dep, ok := g.tasks[depID]
		if !ok {
			return false
		}
		switch dep.Status {
		case TaskCompleted:
			continue
		case TaskFailed, TaskCancelled:
			g.blockLocked(task, dep.ID)
			return false
		case TaskBlocked:
			g.blockLocked(task, dep.BlockedBy)
			return false
		default:
			return false
		}
	}

	task.Status = TaskReady
	return true
}

func (g *Graph) blockLocked(task *Task, origin string) {
	task.Status = TaskBlocked
	task.BlockedBy = origin
	task.FinishedAt = g.now()
}

// ReadyTasks returns READY tasks ordered by descending priority, then by
// insertion order.
func (g *Graph) ReadyTasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ready := []*Task{}
	for _, taskID := range g.order {
		if task := g.tasks[taskID]; task.Status == TaskReady {
			ready = append(ready, cloneTask(task))
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].seq < ready[j].seq
	})
	return ready
}

// MarkRunning moves a READY task to IN_PROGRESS on the given agent.
func (g *Graph) MarkRunning(taskID, agentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	if task.Status != TaskReady {
		return fmt.Errorf("task %q is not ready (status: %s)", taskID, task.Status)
	}

	task.Status = TaskInProgress
	task.AgentID = agentID
	task.StartedAt = g.now()
	return nil
}

// MarkTerminal applies a COMPLETED, FAILED or CANCELLED outcome.
// Success promotes dependents whose dependencies are now all complete.
// Any other outcome marks every direct and transitive non-terminal dependent
// BLOCKED, recording the task as the originating failure.
func (g *Graph) MarkTerminal(taskID string, outcome Outcome) (*Transition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("task %q not found", taskID)
	}

	switch outcome.Status {
	case TaskCompleted, TaskFailed:
		if task.Status != TaskInProgress {
			return nil, fmt.Errorf("task %q cannot become %s from %s", taskID, outcome.Status, task.Status)
		}
	case TaskCancelled:
		if task.Status != TaskPending && task.Status != TaskReady && task.Status != TaskInProgress {
			return nil, fmt.Errorf("task %q cannot be cancelled from %s", taskID, task.Status)
		}
	default:
		return nil, fmt.Errorf("%s is not a terminal outcome", outcome.Status)
	}

	task.Status = outcome.Status
	task.Result = outcome.Result
	task.Error = outcome.Err
	if outcome.AgentID != "" {
		task.AgentID = outcome.AgentID
	}
	if outcome.Attempts > 0 {
		task.Attempts = outcome.Attempts
	}
	task.FinishedAt = g.now()

	tr := &Transition{}
	if outcome.Status == TaskCompleted {
		for _, depID := range g.dependents[taskID] {
			if dep, ok := g.tasks[depID]; ok && g.refreshLocked(dep) {
				tr.Ready = append(tr.Ready, depID)
			}
		}
		return tr, nil
	}

	tr.Blocked = g.propagateLocked(taskID)
	return tr, nil
}

// propagateLocked marks the failure closure of origin BLOCKED, breadth first.
// Dependents that are already terminal are skipped along with their subtrees.
func (g *Graph) propagateLocked(origin string) []string {
	var blocked []string
	queue := []string{origin}
	visited := map[string]bool{origin: true}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, depID := range g.dependents[id] {
			if visited[depID] {
				continue
			}
			visited[depID] = true

			dep, ok := g.tasks[depID]
			if !ok || dep.Status.IsTerminal() {
				continue
			}
			g.blockLocked(dep, origin)
			blocked = append(blocked, depID)
			queue = append(queue, depID)
		}
	}
	return blocked
}

// CancelAll marks every non-terminal task CANCELLED without propagation.
// Returns the IDs that changed, in insertion order.
func (g *Graph) CancelAll() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var cancelled []string
	for _, taskID := range g.order {
		task := g.tasks[taskID]
		if task.Status.IsTerminal() {
			continue
		}
		task.Status = TaskCancelled
		task.FinishedAt = g.now()
		cancelled = append(cancelled, taskID)
	}
	return cancelled
}

// Get returns a copy of the task with the given ID.
func (g *Graph) Get(taskID string) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns copies of all tasks in insertion order.
func (g *Graph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tasks := make([]*Task, 0, len(g.order))
	for _, taskID := range g.order {
		tasks = append(tasks, cloneTask(g.tasks[taskID]))
	}
	return tasks
}

// Dependents returns the IDs of tasks that directly depend on taskID.
func (g *Graph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.dependents[taskID]...)
}

// Counts returns the number of tasks in each status.
func (g *Graph) Counts() map[TaskStatus]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	counts := make(map[TaskStatus]int, len(statusNames))
	for _, task := range g.tasks {
		counts[task.Status]++
	}
	return counts
}

// Unfinished returns the IDs of all non-terminal tasks in insertion order.
func (g *Graph) Unfinished() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ids []string
	for _, taskID := range g.order {
		if !g.tasks[taskID].Status.IsTerminal() {
			ids = append(ids, taskID)
		}
	}
	return ids
}

// Len returns the number of tasks.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tasks)
}
