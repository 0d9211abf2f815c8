package session

import (
	"time"

	"github.com/aristath/agentflow/internal/events"
	"github.com/aristath/agentflow/internal/scheduler"
)

// TaskReport is the final record for one task.
type TaskReport struct {
	ID        string
	Role      string
	Status    scheduler.TaskStatus
	AgentID   string
	Attempts  int
	Duration  time.Duration
	Result    any
	Error     error
	BlockedBy string // Originating failed or cancelled task
}

// Report is the terminal summary of a session. It always lists successes,
// failures and blocked tasks with their originating failure.
type Report struct {
	SessionID  string
	StartedAt  time.Time
	FinishedAt time.Time
	Progress   events.ProgressData

	Completed  []TaskReport
	Failed     []TaskReport
	Blocked    []TaskReport
	Cancelled  []TaskReport
	Unfinished []TaskReport
}

// Success reports whether every task completed.
func (r *Report) Success() bool {
	return r.Progress.Total == r.Progress.Completed
}

// Elapsed returns the wall time of the run.
func (r *Report) Elapsed() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Report builds the session report from the current graph state.
func (s *Session) Report() *Report {
	s.mu.Lock()
	r := &Report{
		SessionID:  s.id,
		StartedAt:  s.startedAt,
		FinishedAt: s.finishedAt,
	}
	runErr := s.runErr
	s.mu.Unlock()

	r.Progress = scheduler.Progress(s.graph)
	r.Progress.Err = runErr

	for _, task := range s.graph.Tasks() {
		tr := TaskReport{
			ID:        task.ID,
			Role:      task.Role,
			Status:    task.Status,
			AgentID:   task.AgentID,
			Attempts:  task.Attempts,
			Duration:  task.Duration(),
			Result:    task.Result,
			Error:     task.Error,
			BlockedBy: task.BlockedBy,
		}
		switch task.Status {
		case scheduler.TaskCompleted:
			r.Completed = append(r.Completed, tr)
		case scheduler.TaskFailed:
			r.Failed = append(r.Failed, tr)
		case scheduler.TaskBlocked:
			r.Blocked = append(r.Blocked, tr)
		case scheduler.TaskCancelled:
			r.Cancelled = append(r.Cancelled, tr)
		default:
			r.Unfinished = append(r.Unfinished, tr)
		}
	}
	return r
}
