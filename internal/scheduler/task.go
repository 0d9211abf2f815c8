package scheduler

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus int

const (
	TaskPending    TaskStatus = iota // Waiting for dependencies
	TaskReady                        // All dependencies completed, waiting for a slot
	TaskInProgress                   // Handed to an agent
	TaskCompleted                    // Finished successfully
	TaskFailed                       // Finished with error
	TaskCancelled                    // Cancelled before finishing
	TaskBlocked                      // A dependency failed or was cancelled
)

var statusNames = map[TaskStatus]string{
	TaskPending:    "PENDING",
	TaskReady:      "READY",
	TaskInProgress: "IN_PROGRESS",
	TaskCompleted:  "COMPLETED",
	TaskFailed:     "FAILED",
	TaskCancelled:  "CANCELLED",
	TaskBlocked:    "BLOCKED",
}

func (s TaskStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled, TaskBlocked:
		return true
	}
	return false
}

// Statuses lists every status in state machine order.
func Statuses() []TaskStatus {
	return []TaskStatus{TaskPending, TaskReady, TaskInProgress, TaskCompleted, TaskFailed, TaskCancelled, TaskBlocked}
}

// Spec is the declared input for one task, as read from a task file.
type Spec struct {
	ID           string        `json:"id" yaml:"id"`
	Role         string        `json:"role" yaml:"role"`
	Priority     int           `json:"priority" yaml:"priority"`
	Dependencies []string      `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Payload      any           `json:"payload,omitempty" yaml:"payload,omitempty"`
	Timeout      time.Duration `json:"-" yaml:"-"`
	MaxRetries   int           `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Resources    []string      `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// Task represents a unit of work in the graph.
type Task struct {
	ID         string        // Unique identifier
	Role       string        // Capability an agent must offer to run this task
	Priority   int           // Higher is dispatched first
	DependsOn  []string      // Task IDs this task depends on
	Payload    any           // Opaque to the scheduler
	Timeout    time.Duration // Zero means no per-task deadline
	MaxRetries int           // Extra attempts after the first failure
	Resources  []string      // Exclusive resource keys held while executing
	SessionID  string

	Status    TaskStatus
	Result    any
	Error     error
	AgentID   string // Agent that ran (or is running) the task
	BlockedBy string // Originating failed/cancelled task for blocked tasks
	Attempts  int

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	seq uint64 // insertion order, used as the readiness tie-break
}

// NewTask builds a pending task from a spec.
func NewTask(spec Spec) *Task {
	return &Task{
		ID:         spec.ID,
		Role:       spec.Role,
		Priority:   spec.Priority,
		DependsOn:  append([]string(nil), spec.Dependencies...),
		Payload:    spec.Payload,
		Timeout:    spec.Timeout,
		MaxRetries: spec.MaxRetries,
		Resources:  append([]string(nil), spec.Resources...),
		Status:     TaskPending,
	}
}

// Duration returns how long the task ran, or zero if it never started.
func (t *Task) Duration() time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	if t.FinishedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// Outcome is the terminal result reported for an in-flight task.
type Outcome struct {
	TaskID   string
	Status   TaskStatus // TaskCompleted, TaskFailed or TaskCancelled
	Result   any
	Err      error
	AgentID  string
	Attempts int
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.DependsOn != nil {
		cp.DependsOn = append([]string(nil), task.DependsOn...)
	}
	if task.Resources != nil {
		cp.Resources = append([]string(nil), task.Resources...)
	}
	return &cp
}
