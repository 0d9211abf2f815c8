package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aristath/agentflow/internal/events"
	"github.com/aristath/agentflow/internal/scheduler"
)

// State is the lifecycle state of a session.
type State int

const (
	StateIdle      State = iota // Composed, not yet run
	StateRunning                // Run in progress
	StateCompleted              // Every task reached a terminal state
	StateFailed                 // The run stopped with an unresolvable graph
	StateCancelled              // Cancelled before every task finished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Dispatcher is what a session needs from the agent side: task placement plus
// per-agent load for status summaries. *orchestrator.Orchestrator satisfies it.
type Dispatcher interface {
	scheduler.Dispatcher
	Loads() map[string]int
}

// Options configures a Session.
type Options struct {
	ID             string // Generated when empty
	Concurrency    int
	DefaultTimeout time.Duration
	IdleTimeout    time.Duration
	Workflows      []scheduler.Workflow
	Bus            *events.Bus
	Logger         *zap.Logger
}

// Status is a point-in-time summary of a session.
type Status struct {
	ID         string
	State      State
	Progress   events.ProgressData
	InFlight   int
	AgentLoads map[string]int
	StartedAt  time.Time
	FinishedAt time.Time
	Cancelled  bool

	// RecentEvents holds this session's newest events from the bus history,
	// oldest first. Empty when the session has no bus.
	RecentEvents []events.Event
}

// statusEvents is the number of recent events included in a Status.
const statusEvents = 20

// Session is one bounded run of a task graph. It owns the graph exclusively.
type Session struct {
	id         string
	graph      *scheduler.Graph
	sched      *scheduler.Scheduler
	dispatcher Dispatcher
	bus        *events.Bus
	logger     *zap.Logger

	mu         sync.Mutex
	state      State
	cancelled  bool
	cancel     context.CancelFunc
	startedAt  time.Time
	finishedAt time.Time
	runErr     error
}

// New composes a session from task specs. The graph is built and validated
// before returning, so structural errors (duplicates, cycles, unknown
// dependencies) abort the session before anything is dispatched.
func New(specs []scheduler.Spec, dispatcher Dispatcher, opts Options) (*Session, error) {
	if dispatcher == nil {
		return nil, errors.New("session requires a dispatcher")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	graph := scheduler.NewGraph()
	for _, spec := range specs {
		task := scheduler.NewTask(spec)
		task.SessionID = opts.ID
		if err := graph.AddTask(task); err != nil {
			return nil, fmt.Errorf("failed to add task %q: %w", spec.ID, err)
		}
	}
	if _, err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task graph: %w", err)
	}

	logger := opts.Logger.With(zap.String("session_id", opts.ID))
	sched := scheduler.New(graph, dispatcher, scheduler.Config{
		Concurrency:    opts.Concurrency,
		DefaultTimeout: opts.DefaultTimeout,
		IdleTimeout:    opts.IdleTimeout,
		SessionID:      opts.ID,
		Bus:            opts.Bus,
		Workflows:      opts.Workflows,
		Logger:         opts.Logger,
	})

	return &Session{
		id:         opts.ID,
		graph:      graph,
		sched:      sched,
		dispatcher: dispatcher,
		bus:        opts.Bus,
		logger:     logger,
		state:      StateIdle,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Tasks returns copies of the session's tasks in insertion order.
func (s *Session) Tasks() []*scheduler.Task {
	return s.graph.Tasks()
}

// Dependents returns the IDs of tasks that directly depend on taskID.
func (s *Session) Dependents(taskID string) []string {
	return s.graph.Dependents(taskID)
}

// Run executes the session until every task is terminal, the graph cannot make
// progress, or the session is cancelled. The report is returned in every case.
// Task failures appear in the report, never as the returned error.
func (s *Session) Run(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s already %s", s.id, s.state)
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.cancelled {
		cancel()
	}
	s.cancel = cancel
	s.state = StateRunning
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("session started", zap.Int("tasks", s.graph.Len()))
	s.publish(events.SessionType(s.id, events.ActionStarted), scheduler.Progress(s.graph))

	err := s.sched.Run(runCtx)

	s.mu.Lock()
	s.finishedAt = time.Now()
	s.runErr = err
	s.cancel = nil
	var action string
	switch {
	case err == nil:
		s.state = StateCompleted
		action = events.ActionCompleted
	case s.cancelled || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		s.state = StateCancelled
		action = events.ActionCancelled
	default:
		s.state = StateFailed
		action = events.ActionFailed
	}
	elapsed := s.finishedAt.Sub(s.startedAt)
	s.mu.Unlock()

	progress := scheduler.Progress(s.graph)
	progress.Err = err
	s.publish(events.SessionType(s.id, action), progress)

	s.logger.Info("session finished",
		zap.String("state", action),
		zap.Int("completed", progress.Completed),
		zap.Int("failed", progress.Failed),
		zap.Int("blocked", progress.Blocked),
		zap.Int("cancelled", progress.Cancelled),
		zap.Duration("elapsed", elapsed),
		zap.Error(err))

	return s.Report(), err
}

// Cancel stops admission and signals in-flight agents. Unfinished tasks end
// CANCELLED. Cancelling before Run makes Run cancel immediately; cancelling a
// finished session is a no-op.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle && s.state != StateRunning {
		return
	}
	s.cancelled = true
	if s.cancel != nil {
		s.cancel()
	}
}

// Status returns per-state counts, in-flight count and agent loads.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		ID:         s.id,
		State:      s.state,
		StartedAt:  s.startedAt,
		FinishedAt: s.finishedAt,
		Cancelled:  s.cancelled,
	}
	st.Progress.Err = s.runErr
	s.mu.Unlock()

	err := st.Progress.Err
	st.Progress = scheduler.Progress(s.graph)
	st.Progress.Err = err
	st.InFlight = s.sched.InFlight()
	st.AgentLoads = s.dispatcher.Loads()
	st.RecentEvents = s.recentEvents(statusEvents)
	return st
}

// recentEvents returns up to n of the newest bus events stamped with this session's ID.
func (s *Session) recentEvents(n int) []events.Event {
	if s.bus == nil {
		return nil
	}
	history := s.bus.Recent(0)

	var out []events.Event
	for i := len(history) - 1; i >= 0 && len(out) < n; i-- {
		if history[i].SessionID == s.id {
			out = append(out, history[i])
		}
	}
	slices.Reverse(out)
	return out
}

// Err returns the error the run ended with, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

func (s *Session) publish(eventType string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.New(eventType, "session", s.id, data))
}
