package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/agentflow/internal/scheduler"
)

// DefaultMaxLoad is the per-agent in-flight limit used when none is given.
const DefaultMaxLoad = 3

// Agent executes tasks for the roles it advertises.
// Execute must honour ctx cancellation; results returned after cancellation are ignored.
type Agent interface {
	ID() string
	Capabilities() []string
	Execute(ctx context.Context, task *scheduler.Task) (any, error)
	HealthCheck(ctx context.Context) bool
}

// DuplicateAgentError is returned when registering an ID that is already live.
type DuplicateAgentError struct {
	ID string
}

func (e *DuplicateAgentError) Error() string {
	return fmt.Sprintf("agent with ID %q is already registered", e.ID)
}

// AgentInfo is a snapshot of one registered agent.
type AgentInfo struct {
	ID           string
	Capabilities []string
	Load         int
	MaxLoad      int
	Healthy      bool
	Breaker      string // closed, half-open or open

	Completed int           // Tasks finished successfully
	Failed    int           // Tasks failed after all retries, timeouts included
	Busy      time.Duration // Total execution time of completed and failed tasks
}

// Finished returns the number of tasks the agent completed or failed.
func (a AgentInfo) Finished() int {
	return a.Completed + a.Failed
}

// SuccessRate returns the fraction of finished tasks that completed, or 0
// when the agent has finished none.
func (a AgentInfo) SuccessRate() float64 {
	if a.Finished() == 0 {
		return 0
	}
	return float64(a.Completed) / float64(a.Finished())
}

// MeanDuration returns the average execution time of finished tasks.
func (a AgentInfo) MeanDuration() time.Duration {
	if a.Finished() == 0 {
		return 0
	}
	return a.Busy / time.Duration(a.Finished())
}

// Eligible reports whether the agent can accept another task right now.
func (a AgentInfo) Eligible() bool {
	return a.Healthy && a.Load < a.MaxLoad && a.Breaker != "open"
}
