package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// DuplicateTaskError is returned when a task ID is already present in the graph.
type DuplicateTaskError struct {
	ID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task with ID %q already exists", e.ID)
}

// CycleDetectedError lists the tasks forming a dependency cycle.
// The first and last entries are the same task.
type CycleDetectedError struct {
	Cycle []string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// UnknownDependencyError is returned when a task depends on an ID not in the graph.
type UnknownDependencyError struct {
	TaskID       string
	DependencyID string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %q depends on non-existent task %q", e.TaskID, e.DependencyID)
}

// UnresolvableGraphError is returned by a run that can make no further progress
// while unfinished tasks remain.
type UnresolvableGraphError struct {
	Pending []string
	Reason  string
}

func (e *UnresolvableGraphError) Error() string {
	return fmt.Sprintf("graph cannot make progress (%s): %d unfinished task(s): %s",
		e.Reason, len(e.Pending), strings.Join(e.Pending, ", "))
}

// TaskTimeoutError is recorded on a task that exceeded its declared timeout.
type TaskTimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("task %q timed out after %v", e.TaskID, e.Timeout)
}

// AgentExecutionError is recorded on a task whose agent returned an error.
type AgentExecutionError struct {
	TaskID  string
	AgentID string
	Err     error
}

func (e *AgentExecutionError) Error() string {
	return fmt.Sprintf("agent %q failed task %q: %v", e.AgentID, e.TaskID, e.Err)
}

func (e *AgentExecutionError) Unwrap() error { return e.Err }
