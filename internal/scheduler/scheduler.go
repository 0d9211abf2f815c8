package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/agentflow/internal/events"
)

// Dispatcher places tasks on agents. The orchestrator implements it.
type Dispatcher interface {
	// Reserve selects an eligible agent for task and reserves one unit of its
	// load. ok is false when no agent can take the task right now.
	Reserve(task *Task) (agentID string, ok bool)
	// Release returns a reservation that will not be executed.
	Release(agentID string)
	// Execute runs task on the reserved agent without blocking the caller and
	// calls done exactly once with the terminal outcome.
	Execute(ctx context.Context, agentID string, task *Task, done func(Outcome))
	// Available returns a channel closed the next time agent capacity may have grown.
	Available() <-chan struct{}
}

// Config configures a Scheduler.
type Config struct {
	Concurrency    int                  // Max simultaneously IN_PROGRESS tasks (default 4)
	DefaultTimeout time.Duration        // Applied to tasks without their own timeout (0 = none)
	IdleTimeout    time.Duration        // Give up when ready tasks cannot be placed for this long (0 = wait)
	SessionID      string               // Stamped on published events
	Bus            *events.Bus          // Optional; nil disables events
	Locks          *ResourceLockManager // Optional; defaults to a private manager
	Workflows      []Workflow           // Optional follow-up workflows
	Logger         *zap.Logger          // Defaults to a no-op logger
}

// Scheduler turns a validated graph into a priority-ordered, concurrency-bounded
// dispatch stream. A single goroutine (Run) owns admission and applies every
// outcome, so graph transitions happen in one place.
type Scheduler struct {
	graph      *Graph
	dispatcher Dispatcher
	cfg        Config
	locks      *ResourceLockManager
	workflows  *WorkflowManager
	logger     *zap.Logger

	outcomes chan Outcome
	started  atomic.Bool
	inflight atomic.Int64
	peak     atomic.Int64

	mu       sync.Mutex
	admitted []string
}

// New creates a scheduler for graph. The graph should already be validated.
func New(graph *Graph, dispatcher Dispatcher, cfg Config) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Locks == nil {
		cfg.Locks = NewResourceLockManager()
	}

	s := &Scheduler{
		graph:      graph,
		dispatcher: dispatcher,
		cfg:        cfg,
		locks:      cfg.Locks,
		logger:     cfg.Logger.With(zap.String("session_id", cfg.SessionID)),
		// One slot per in-flight task: a late outcome never blocks its sender.
		outcomes: make(chan Outcome, cfg.Concurrency),
	}
	if len(cfg.Workflows) > 0 {
		s.workflows = NewWorkflowManager(graph, cfg.Workflows)
	}
	return s
}

// Run dispatches tasks until every task is terminal, the graph can make no
// further progress, or ctx is cancelled.
// Task failures are recorded on the graph and never returned. Run returns an
// *UnresolvableGraphError when work remains that can never be admitted, and a
// wrapped context error after cancellation, when all unfinished tasks have
// been marked CANCELLED.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, task := range s.graph.ReadyTasks() {
		s.publish(events.TaskType(task.ID, events.ActionReady), events.TaskStateData{TaskID: task.ID, Role: task.Role})
	}

	var idleSince time.Time
	for {
		if ctx.Err() != nil {
			return s.cancelRun(ctx)
		}

		// Take the availability channel before admitting so a release that
		// races with admission still wakes the loop.
		available := s.dispatcher.Available()
		s.admit(runCtx)

		var idle *time.Timer
		if s.inflight.Load() == 0 {
			unfinished := s.graph.Unfinished()
			if len(unfinished) == 0 {
				return nil
			}
			if len(s.graph.ReadyTasks()) == 0 {
				return &UnresolvableGraphError{Pending: unfinished, Reason: "no task can become ready"}
			}

			if idleSince.IsZero() {
				idleSince = time.Now()
			}
			if s.cfg.IdleTimeout > 0 {
				remaining := s.cfg.IdleTimeout - time.Since(idleSince)
				if remaining <= 0 {
					return &UnresolvableGraphError{Pending: unfinished, Reason: "no eligible agent"}
				}
				idle = time.NewTimer(remaining)
			}
		} else {
			idleSince = time.Time{}
		}

		select {
		case o := <-s.outcomes:
			if ctx.Err() == nil {
				s.complete(o)
			} else {
				s.discard(o)
			}
		case <-available:
		case <-timerC(idle):
		case <-ctx.Done():
		}
		if idle != nil {
			idle.Stop()
		}
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// admit releases ready tasks, highest ranked first, until the budget is spent.
// A task with no eligible agent or a held resource stays READY and the next
// ranked task is tried. Returns the number of tasks admitted.
func (s *Scheduler) admit(ctx context.Context) int {
	admitted := 0
	for _, task := range s.graph.ReadyTasks() {
		if s.inflight.Load() >= int64(s.cfg.Concurrency) {
			break
		}
		if !s.locks.TryLockAll(task.ID, task.Resources) {
			continue
		}

		agentID, ok := s.dispatcher.Reserve(task)
		if !ok {
			s.locks.UnlockAll(task.ID, task.Resources)
			continue
		}

		if err := s.graph.MarkRunning(task.ID, agentID); err != nil {
			s.logger.Error("failed to mark task running", zap.String("task_id", task.ID), zap.Error(err))
			s.dispatcher.Release(agentID)
			s.locks.UnlockAll(task.ID, task.Resources)
			continue
		}

		running, _ := s.graph.Get(task.ID)
		if running.Timeout == 0 {
			running.Timeout = s.cfg.DefaultTimeout
		}

		n := s.inflight.Add(1)
		if n > s.peak.Load() {
			s.peak.Store(n)
		}
		s.mu.Lock()
		s.admitted = append(s.admitted, task.ID)
		s.mu.Unlock()
		admitted++

		s.logger.Debug("task admitted",
			zap.String("task_id", task.ID),
			zap.String("agent_id", agentID),
			zap.Int("priority", task.Priority))

		s.dispatcher.Execute(ctx, agentID, running, s.report)
	}
	return admitted
}

// report is the completion callback handed to the dispatcher.
func (s *Scheduler) report(o Outcome) {
	s.outcomes <- o
}

// complete applies one outcome to the graph and publishes the resulting readiness changes.
func (s *Scheduler) complete(o Outcome) {
	s.inflight.Add(-1)

	task, ok := s.graph.Get(o.TaskID)
	if !ok {
		s.logger.Error("outcome for unknown task", zap.String("task_id", o.TaskID))
		return
	}
	s.locks.UnlockAll(task.ID, task.Resources)

	tr, err := s.graph.MarkTerminal(o.TaskID, o)
	if err != nil {
		s.logger.Warn("discarding outcome", zap.String("task_id", o.TaskID), zap.Error(err))
		return
	}

	if o.Status == TaskCompleted && s.workflows != nil {
		tr.Ready = append(tr.Ready, s.spawnFollowUps(o.TaskID)...)
	}

	for _, id := range tr.Ready {
		if t, ok := s.graph.Get(id); ok {
			s.publish(events.TaskType(id, events.ActionReady), events.TaskStateData{TaskID: id, Role: t.Role})
		}
	}
	for _, id := range tr.Blocked {
		s.logger.Info("task blocked", zap.String("task_id", id), zap.String("blocked_by", o.TaskID))
		s.publish(events.TaskType(id, events.ActionBlocked), events.TaskBlockedData{TaskID: id, BlockedBy: o.TaskID})
	}
	s.publish(events.SessionType(s.cfg.SessionID, events.ActionProgress), Progress(s.graph))
}

// discard drops an outcome that arrived after cancellation; cancelRun marks the task.
func (s *Scheduler) discard(o Outcome) {
	s.inflight.Add(-1)
	if task, ok := s.graph.Get(o.TaskID); ok {
		s.locks.UnlockAll(task.ID, task.Resources)
	}
	s.logger.Debug("discarding outcome after cancellation",
		zap.String("task_id", o.TaskID),
		zap.String("status", o.Status.String()))
}

// spawnFollowUps adds workflow follow-ups for a completed task and returns the
// IDs that are immediately ready.
func (s *Scheduler) spawnFollowUps(taskID string) []string {
	completed, ok := s.graph.Get(taskID)
	if !ok {
		return nil
	}

	followUps, err := s.workflows.OnTaskCompleted(completed)
	if err != nil {
		s.logger.Warn("workflow follow-up failed", zap.String("task_id", taskID), zap.Error(err))
	}

	var ready []string
	for _, f := range followUps {
		s.publish(events.WorkflowType(f.Workflow, events.ActionFollowUp), events.FollowUpData{
			Workflow: f.Workflow,
			ParentID: taskID,
			TaskID:   f.Task.ID,
			Role:     f.Task.Role,
			Err:      f.Err,
		})
		if f.Err == nil && f.Task.Status == TaskReady {
			ready = append(ready, f.Task.ID)
		}
	}
	return ready
}

// cancelRun force-marks every unfinished task CANCELLED and stops counting
// in-flight work. In-flight agents see their context cancelled; outcomes they
// report afterwards are never applied.
func (s *Scheduler) cancelRun(ctx context.Context) error {
	inflight := s.inflight.Swap(0)
	cancelled := s.graph.CancelAll()
	for _, id := range cancelled {
		s.publish(events.TaskType(id, events.ActionCancelled), events.TaskStateData{TaskID: id})
	}
	s.publish(events.SessionType(s.cfg.SessionID, events.ActionProgress), Progress(s.graph))

	s.logger.Info("run cancelled",
		zap.Int("cancelled", len(cancelled)),
		zap.Int64("abandoned_in_flight", inflight))
	return fmt.Errorf("run cancelled: %w", ctx.Err())
}

func (s *Scheduler) publish(eventType string, data any) {
	if s.cfg.Bus == nil {
		return
	}
	s.cfg.Bus.Publish(events.New(eventType, "scheduler", s.cfg.SessionID, data))
}

// InFlight returns the number of tasks currently handed to agents.
func (s *Scheduler) InFlight() int {
	return int(s.inflight.Load())
}

// PeakInFlight returns the highest in-flight count observed.
func (s *Scheduler) PeakInFlight() int {
	return int(s.peak.Load())
}

// Admitted returns task IDs in admission order.
func (s *Scheduler) Admitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.admitted...)
}

// Progress summarizes the graph's per-state counts.
func Progress(g *Graph) events.ProgressData {
	counts := g.Counts()
	return events.ProgressData{
		Total:      g.Len(),
		Pending:    counts[TaskPending],
		Ready:      counts[TaskReady],
		InProgress: counts[TaskInProgress],
		Completed:  counts[TaskCompleted],
		Failed:     counts[TaskFailed],
		Cancelled:  counts[TaskCancelled],
		Blocked:    counts[TaskBlocked],
	}
}
