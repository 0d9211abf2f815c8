package scheduler

import (
	"errors"
	"fmt"
	"sort"
)

// Workflow is an ordered chain of roles. When a task with one of these roles
// completes, a follow-up task for the next role is added to the graph.
type Workflow struct {
	Name  string
	Steps []string
}

// FollowUpPayload is the payload of a follow-up task.
type FollowUpPayload struct {
	Workflow     string
	ParentID     string
	ParentResult any
}

// WorkflowManager handles spawning follow-up tasks based on workflow configuration.
type WorkflowManager struct {
	graph     *Graph
	workflows []Workflow
}

// NewWorkflowManager creates a new WorkflowManager. Workflows are evaluated in
// name order so follow-up creation is deterministic.
func NewWorkflowManager(graph *Graph, workflows []Workflow) *WorkflowManager {
	sorted := append([]Workflow(nil), workflows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	return &WorkflowManager{
		graph:     graph,
		workflows: sorted,
	}
}

// FollowUp describes one follow-up task created (or attempted) for a workflow.
type FollowUp struct {
	Workflow string
	Task     *Task
	Err      error
}

// OnTaskCompleted is the hook called after a task completes.
// For every workflow in which the task's role is a non-final step, it adds a
// task "<id>-<nextRole>" depending on the completed task. The graph's delta
// cycle check guards each insertion. Failed insertions are reported in the
// returned slice and joined into the error; successful ones are kept.
func (wm *WorkflowManager) OnTaskCompleted(completed *Task) ([]FollowUp, error) {
	var (
		followUps []FollowUp
		errs      []error
	)

	for _, workflow := range wm.workflows {
		stepIndex := findStepIndex(workflow, completed.Role)
		if stepIndex == -1 || stepIndex >= len(workflow.Steps)-1 {
			continue
		}

		nextRole := workflow.Steps[stepIndex+1]
		task := &Task{
			ID:         fmt.Sprintf("%s-%s", completed.ID, nextRole),
			Role:       nextRole,
			Priority:   completed.Priority,
			DependsOn:  []string{completed.ID},
			Timeout:    completed.Timeout,
			MaxRetries: completed.MaxRetries,
			Resources:  append([]string(nil), completed.Resources...),
			SessionID:  completed.SessionID,
			Payload: FollowUpPayload{
				Workflow:     workflow.Name,
				ParentID:     completed.ID,
				ParentResult: completed.Result,
			},
		}

		if err := wm.graph.AddTask(task); err != nil {
			err = fmt.Errorf("failed to add follow-up task for workflow %q: %w", workflow.Name, err)
			followUps = append(followUps, FollowUp{Workflow: workflow.Name, Task: task, Err: err})
			errs = append(errs, err)
			continue
		}
		added, _ := wm.graph.Get(task.ID)
		followUps = append(followUps, FollowUp{Workflow: workflow.Name, Task: added})
	}

	return followUps, errors.Join(errs...)
}

// FindWorkflow returns the first workflow (by name) containing role and the step index.
func (wm *WorkflowManager) FindWorkflow(role string) (*Workflow, int) {
	for i := range wm.workflows {
		if idx := findStepIndex(wm.workflows[i], role); idx != -1 {
			return &wm.workflows[i], idx
		}
	}
	return nil, -1
}

func findStepIndex(workflow Workflow, role string) int {
	for i, step := range workflow.Steps {
		if step == role {
			return i
		}
	}
	return -1
}
