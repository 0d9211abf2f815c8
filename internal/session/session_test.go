package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/agentflow/internal/events"
	"github.com/aristath/agentflow/internal/orchestrator"
	"github.com/aristath/agentflow/internal/scheduler"
)

// funcAgent runs tasks through an optional function.
type funcAgent struct {
	id   string
	caps []string
	fn   func(ctx context.Context, task *scheduler.Task) (any, error)
}

func (a *funcAgent) ID() string                       { return a.id }
func (a *funcAgent) Capabilities() []string           { return a.caps }
func (a *funcAgent) HealthCheck(context.Context) bool { return true }

func (a *funcAgent) Execute(ctx context.Context, task *scheduler.Task) (any, error) {
	if a.fn != nil {
		return a.fn(ctx, task)
	}
	return "ok:" + task.ID, nil
}

func newOrchestrator(t *testing.T, bus *events.Bus, agents ...*funcAgent) *orchestrator.Orchestrator {
	t.Helper()
	o := orchestrator.New(orchestrator.Config{Bus: bus})
	for _, a := range agents {
		if err := o.RegisterAgent(a, 2); err != nil {
			t.Fatalf("RegisterAgent(%s): %v", a.id, err)
		}
	}
	return o
}

func specs(defs ...scheduler.Spec) []scheduler.Spec { return defs }

func TestNewRejectsStructuralErrors(t *testing.T) {
	o := newOrchestrator(t, nil)

	tests := []struct {
		name  string
		specs []scheduler.Spec
		check func(error) bool
	}{
		{
			name: "duplicate",
			specs: specs(
				scheduler.Spec{ID: "a", Role: "coder"},
				scheduler.Spec{ID: "a", Role: "coder"},
			),
			check: func(err error) bool {
				var target *scheduler.DuplicateTaskError
				return errors.As(err, &target) && target.ID == "a"
			},
		},
		{
			name: "cycle",
			specs: specs(
				scheduler.Spec{ID: "a", Role: "coder", Dependencies: []string{"b"}},
				scheduler.Spec{ID: "b", Role: "coder", Dependencies: []string{"a"}},
			),
			check: func(err error) bool {
				var target *scheduler.CycleDetectedError
				return errors.As(err, &target)
			},
		},
		{
			name: "unknown dependency",
			specs: specs(
				scheduler.Spec{ID: "a", Role: "coder", Dependencies: []string{"ghost"}},
			),
			check: func(err error) bool {
				var target *scheduler.UnknownDependencyError
				return errors.As(err, &target) && target.DependencyID == "ghost"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.specs, o, Options{})
			if err == nil {
				t.Fatalf("expected error, got session %v", s.ID())
			}
			if !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRunCompletes(t *testing.T) {
	bus := events.NewBus(events.BusConfig{})
	defer bus.Close()

	sessionEvents, sub, err := bus.SubscribeChan("session.**", 64)
	if err != nil {
		t.Fatalf("SubscribeChan: %v", err)
	}
	defer sub.Unsubscribe()

	o := newOrchestrator(t, bus, &funcAgent{id: "a1", caps: []string{"coder"}})
	s, err := New(specs(
		scheduler.Spec{ID: "a", Role: "coder"},
		scheduler.Spec{ID: "b", Role: "coder", Dependencies: []string{"a"}},
		scheduler.Spec{ID: "c", Role: "coder", Dependencies: []string{"a", "b"}},
	), o, Options{ID: "s1", Bus: bus})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Success() {
		t.Errorf("expected success, got %+v", report.Progress)
	}
	if len(report.Completed) != 3 {
		t.Errorf("expected 3 completed, got %d", len(report.Completed))
	}
	if report.Completed[0].Result != "ok:a" || report.Completed[0].AgentID != "a1" {
		t.Errorf("unexpected task report: %+v", report.Completed[0])
	}
	if report.Elapsed() <= 0 {
		t.Error("expected positive elapsed time")
	}

	st := s.Status()
	if st.State != StateCompleted {
		t.Errorf("expected completed state, got %s", st.State)
	}
	if st.FinishedAt.Before(st.StartedAt) {
		t.Error("finished before started")
	}

	var sawStarted, sawCompleted bool
	deadline := time.After(2 * time.Second)
	for !sawCompleted {
		select {
		case e := <-sessionEvents:
			if e.SessionID != "s1" {
				t.Errorf("event %s has session %q", e.Type, e.SessionID)
			}
			switch e.Type {
			case "session.s1.started":
				sawStarted = true
			case "session.s1.completed":
				sawCompleted = true
				if p := e.Data.(events.ProgressData); !p.Done() || p.Completed != 3 {
					t.Errorf("unexpected final progress: %+v", p)
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for session.s1.completed")
		}
	}
	if !sawStarted {
		t.Error("expected session.s1.started before completion")
	}
}

func TestReportListsBlockedWithOrigin(t *testing.T) {
	agent := &funcAgent{id: "a1", caps: []string{"coder"}, fn: func(_ context.Context, task *scheduler.Task) (any, error) {
		if task.ID == "build" {
			return nil, errors.New("compiler exploded")
		}
		return "ok", nil
	}}
	o := newOrchestrator(t, nil, agent)

	s, err := New(specs(
		scheduler.Spec{ID: "build", Role: "coder"},
		scheduler.Spec{ID: "test", Role: "coder", Dependencies: []string{"build"}},
		scheduler.Spec{ID: "deploy", Role: "coder", Dependencies: []string{"test"}},
		scheduler.Spec{ID: "docs", Role: "coder"},
	), o, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("task failures must not fail the run: %v", err)
	}
	if report.Success() {
		t.Error("expected unsuccessful report")
	}

	if len(report.Failed) != 1 || report.Failed[0].ID != "build" {
		t.Fatalf("expected build failed, got %+v", report.Failed)
	}
	var execErr *scheduler.AgentExecutionError
	if !errors.As(report.Failed[0].Error, &execErr) {
		t.Errorf("expected AgentExecutionError, got %v", report.Failed[0].Error)
	}

	if len(report.Blocked) != 2 {
		t.Fatalf("expected 2 blocked, got %+v", report.Blocked)
	}
	for _, b := range report.Blocked {
		if b.BlockedBy != "build" {
			t.Errorf("%s: expected BlockedBy build, got %q", b.ID, b.BlockedBy)
		}
	}

	if len(report.Completed) != 1 || report.Completed[0].ID != "docs" {
		t.Errorf("independent branch should complete, got %+v", report.Completed)
	}
}

func TestCancelDuringRun(t *testing.T) {
	started := make(chan string, 4)
	agent := &funcAgent{id: "a1", caps: []string{"coder"}, fn: func(ctx context.Context, task *scheduler.Task) (any, error) {
		started <- task.ID
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	o := newOrchestrator(t, nil, agent)

	s, err := New(specs(
		scheduler.Spec{ID: "r1", Role: "coder"},
		scheduler.Spec{ID: "r2", Role: "coder"},
		scheduler.Spec{ID: "p1", Role: "coder", Dependencies: []string{"r1"}},
		scheduler.Spec{ID: "p2", Role: "coder", Dependencies: []string{"r2"}},
		scheduler.Spec{ID: "p3", Role: "coder", Dependencies: []string{"p1", "p2"}},
	), o, Options{Concurrency: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	var report *Report
	var runErr error
	go func() {
		defer close(done)
		report, runErr = s.Run(context.Background())
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("tasks never started")
		}
	}
	if st := s.Status(); st.InFlight != 2 || st.AgentLoads["a1"] != 2 {
		t.Errorf("expected 2 in flight on a1, got in_flight=%d loads=%v", st.InFlight, st.AgentLoads)
	}

	s.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Cancel")
	}

	if !errors.Is(runErr, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", runErr)
	}
	if len(report.Cancelled) != 5 {
		t.Errorf("expected all 5 tasks cancelled, got %+v", report.Progress)
	}
	st := s.Status()
	if st.State != StateCancelled || !st.Cancelled {
		t.Errorf("expected cancelled state, got %s (flag=%v)", st.State, st.Cancelled)
	}
	if !errors.Is(s.Err(), context.Canceled) {
		t.Errorf("expected Err to report cancellation, got %v", s.Err())
	}

	s.Cancel() // no-op after finish
}

func TestCancelBeforeRun(t *testing.T) {
	agent := &funcAgent{id: "a1", caps: []string{"coder"}, fn: func(context.Context, *scheduler.Task) (any, error) {
		t.Error("no task should execute")
		return nil, nil
	}}
	o := newOrchestrator(t, nil, agent)

	s, err := New(specs(scheduler.Spec{ID: "a", Role: "coder"}), o, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Cancel()

	report, err := s.Run(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(report.Cancelled) != 1 {
		t.Errorf("expected task cancelled, got %+v", report.Progress)
	}
}

func TestRunTwice(t *testing.T) {
	o := newOrchestrator(t, nil, &funcAgent{id: "a1", caps: []string{"coder"}})
	s, err := New(specs(scheduler.Spec{ID: "a", Role: "coder"}), o, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := s.Run(context.Background()); err == nil {
		t.Error("expected error on second Run")
	}
}

func TestRunUnresolvable(t *testing.T) {
	// No agent offers the role, so nothing can ever be placed.
	o := newOrchestrator(t, nil, &funcAgent{id: "a1", caps: []string{"coder"}})
	s, err := New(specs(scheduler.Spec{ID: "a", Role: "painter"}), o, Options{IdleTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	report, err := s.Run(context.Background())
	var unresolvable *scheduler.UnresolvableGraphError
	if !errors.As(err, &unresolvable) {
		t.Fatalf("expected UnresolvableGraphError, got %v", err)
	}
	if s.Status().State != StateFailed {
		t.Errorf("expected failed state, got %s", s.Status().State)
	}
	if len(report.Unfinished) != 1 {
		t.Errorf("expected one unfinished task, got %+v", report.Unfinished)
	}
}

func TestGeneratedID(t *testing.T) {
	o := newOrchestrator(t, nil)
	a, _ := New(nil, o, Options{})
	b, _ := New(nil, o, Options{})
	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("expected distinct generated IDs, got %q and %q", a.ID(), b.ID())
	}
	if _, err := New(nil, nil, Options{}); err == nil {
		t.Error("expected error without dispatcher")
	}
}

// TestCancelWithUncooperativeAgent tests that cancellation settles the status
// even while an agent ignores its context.
func TestCancelWithUncooperativeAgent(t *testing.T) {
	bus := events.NewBus(events.BusConfig{})
	defer bus.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	agent := &funcAgent{id: "a1", caps: []string{"coder"}, fn: func(context.Context, *scheduler.Task) (any, error) {
		close(started)
		<-release
		return "late", nil
	}}
	o := newOrchestrator(t, bus, agent)

	s, err := New(specs(scheduler.Spec{ID: "slow", Role: "coder"}), o, Options{ID: "s1", Bus: bus})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	var report *Report
	go func() {
		defer close(done)
		report, _ = s.Run(context.Background())
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}
	s.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Cancel")
	}

	st := s.Status()
	if st.InFlight != 0 {
		t.Errorf("expected nothing in flight after cancel, got %d", st.InFlight)
	}
	if st.Progress.Cancelled != 1 || len(report.Cancelled) != 1 {
		t.Errorf("expected the task cancelled, got %+v", st.Progress)
	}

	close(release)
	o.Wait()

	if loads := o.Loads(); loads["a1"] != 0 {
		t.Errorf("expected load released once the agent returned, got %v", loads)
	}
	for _, e := range bus.Recent(0) {
		if e.Type == "task.slow.completed" {
			t.Errorf("late result leaked as %s", e.Type)
		}
	}
	if task := s.Tasks()[0]; task.Status != scheduler.TaskCancelled {
		t.Errorf("expected task to stay CANCELLED, got %s", task.Status)
	}
}

func TestStatusRecentEvents(t *testing.T) {
	bus := events.NewBus(events.BusConfig{})
	defer bus.Close()

	// Another session's traffic shares the bus.
	bus.Publish(events.Event{Type: "session.other.started", SessionID: "other"})

	o := newOrchestrator(t, bus, &funcAgent{id: "a1", caps: []string{"coder"}})
	s, err := New(specs(
		scheduler.Spec{ID: "a", Role: "coder"},
		scheduler.Spec{ID: "b", Role: "coder", Dependencies: []string{"a"}},
	), o, Options{ID: "s1", Bus: bus})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	recent := s.Status().RecentEvents
	if len(recent) == 0 {
		t.Fatal("expected recent events in status")
	}
	if len(recent) > statusEvents {
		t.Errorf("expected at most %d events, got %d", statusEvents, len(recent))
	}
	for i, e := range recent {
		if e.SessionID != "s1" {
			t.Errorf("event %s belongs to session %q", e.Type, e.SessionID)
		}
		if i > 0 && e.Timestamp.Before(recent[i-1].Timestamp) {
			t.Errorf("events out of order at %d", i)
		}
	}
	if last := recent[len(recent)-1]; last.Type != "session.s1.completed" {
		t.Errorf("expected the newest event to be session.s1.completed, got %s", last.Type)
	}

	if st := mustSession(t, o).Status(); st.RecentEvents != nil {
		t.Errorf("expected no events without a bus, got %d", len(st.RecentEvents))
	}
}

func mustSession(t *testing.T, o *orchestrator.Orchestrator) *Session {
	t.Helper()
	s, err := New(nil, o, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// TestLateAgentServesWaitingRole tests that a READY task whose role has no
// agent waits for one to register instead of failing the run.
func TestLateAgentServesWaitingRole(t *testing.T) {
	o := newOrchestrator(t, nil, &funcAgent{id: "a1", caps: []string{"coder"}})
	s, err := New(specs(scheduler.Spec{ID: "art", Role: "painter"}), o, Options{IdleTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	var report *Report
	var runErr error
	go func() {
		defer close(done)
		report, runErr = s.Run(context.Background())
	}()

	time.Sleep(30 * time.Millisecond)
	select {
	case <-done:
		t.Fatalf("run ended before a painter registered: %v", runErr)
	default:
	}
	if err := o.RegisterAgent(&funcAgent{id: "p1", caps: []string{"painter"}}, 1); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("late agent never picked up the task")
	}
	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}
	if len(report.Completed) != 1 || report.Completed[0].AgentID != "p1" {
		t.Errorf("expected art completed by p1, got %+v", report.Completed)
	}
}
