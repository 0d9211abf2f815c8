package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/agentflow/internal/events"
)

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return model
}

func sized(t *testing.T, cancel func()) Model {
	t.Helper()
	m := newModel(make(chan events.Event), "test run", cancel, nil)
	return update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
}

func TestModel_TaskLifecycle(t *testing.T) {
	m := sized(t, nil)

	m = update(t, m, events.New(events.TaskType("build", events.ActionStarted), "orchestrator", "s1",
		events.TaskStartedData{TaskID: "build", Role: "coder", AgentID: "a1", Attempt: 1}))

	run, ok := m.agentPane.Selected()
	if !ok || run.TaskID != "build" || run.Status != "running" || run.AgentID != "a1" {
		t.Fatalf("unexpected selected run %+v (ok=%v)", run, ok)
	}

	m = update(t, m, events.New(events.TaskType("build", events.ActionRetrying), "orchestrator", "s1",
		events.TaskFailedData{TaskID: "build", AgentID: "a1", Err: errors.New("flaky"), Attempt: 1}))
	if run, _ := m.agentPane.Selected(); run.Status != "retrying" || run.Attempt != 2 {
		t.Errorf("expected retrying attempt 2, got %+v", run)
	}

	m = update(t, m, events.New(events.TaskType("build", events.ActionCompleted), "orchestrator", "s1",
		events.TaskCompletedData{TaskID: "build", AgentID: "a1", Result: "all green", Duration: time.Second}))
	run, _ = m.agentPane.Selected()
	if run.Status != "completed" {
		t.Errorf("expected completed, got %s", run.Status)
	}
	if !strings.Contains(strings.Join(run.Output, "\n"), "all green") {
		t.Errorf("expected result in output, got %v", run.Output)
	}

	if len(m.Log()) != 3 {
		t.Errorf("expected 3 log lines, got %d", len(m.Log()))
	}
}

func TestModel_BlockedAndCancelled(t *testing.T) {
	m := sized(t, nil)

	m = update(t, m, events.New(events.TaskType("deploy", events.ActionBlocked), "scheduler", "s1",
		events.TaskBlockedData{TaskID: "deploy", BlockedBy: "build"}))
	// never started, so not listed
	m = update(t, m, events.New(events.TaskType("docs", events.ActionCancelled), "scheduler", "s1",
		events.TaskStateData{TaskID: "docs"}))

	if len(m.agentPane.order) != 1 {
		t.Fatalf("expected only the blocked task listed, got %v", m.agentPane.order)
	}
	if run, _ := m.agentPane.Selected(); run.Status != "blocked" {
		t.Errorf("expected blocked, got %s", run.Status)
	}
}

func TestModel_ProgressAndSessionEnd(t *testing.T) {
	m := sized(t, nil)

	m = update(t, m, events.New(events.AgentType("a1", events.ActionRegistered), "orchestrator", "",
		events.AgentData{AgentID: "a1"}))
	m = update(t, m, events.New(events.AgentType("a1", events.ActionUnhealthy), "orchestrator", "",
		events.AgentData{AgentID: "a1"}))
	if healthy, ok := m.dagPane.agents["a1"]; !ok || healthy {
		t.Errorf("expected a1 unhealthy, got healthy=%v ok=%v", healthy, ok)
	}

	progress := events.ProgressData{Total: 4, Completed: 3, Failed: 1}
	m = update(t, m, events.New(events.SessionType("s1", events.ActionProgress), "scheduler", "s1", progress))
	if m.dagPane.Progress() != progress {
		t.Errorf("expected progress %+v, got %+v", progress, m.dagPane.Progress())
	}
	if m.Finished() != "" {
		t.Errorf("progress must not finish the run, got %q", m.Finished())
	}

	m = update(t, m, events.New(events.SessionType("s1", events.ActionFailed), "session", "s1", progress))
	if m.Finished() != events.ActionFailed {
		t.Errorf("expected failed, got %q", m.Finished())
	}
	if !strings.Contains(m.View(), "DAG Progress") {
		t.Error("expected DAG pane in view")
	}
}

func TestModel_Keys(t *testing.T) {
	cancelled := 0
	m := sized(t, func() { cancelled++ })

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.focusedPane != PaneEvents {
		t.Errorf("expected events pane focused, got %d", m.focusedPane)
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	if m.focusedPane != PaneTasks {
		t.Errorf("expected tasks pane focused, got %d", m.focusedPane)
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("3")})
	if m.focusedPane != PaneDAG || !m.dagPane.focused {
		t.Errorf("expected DAG pane focused")
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	if cancelled != 1 {
		t.Errorf("expected cancel to be called once, got %d", cancelled)
	}

	m = update(t, m, events.New(events.SessionType("s1", events.ActionCancelled), "session", "s1", events.ProgressData{}))
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	if cancelled != 1 {
		t.Errorf("cancel after the run finished must be ignored, got %d calls", cancelled)
	}

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if next.(Model).View() != "Goodbye!\n" {
		t.Error("expected goodbye view after quit")
	}
}

func TestModel_WaitsForEvents(t *testing.T) {
	ch := make(chan events.Event, 1)
	m := newModel(ch, "run", nil, nil)

	e := events.New("task.t1.ready", "scheduler", "s1", events.TaskStateData{TaskID: "t1"})
	ch <- e
	if got := m.Init()(); got.(events.Event).ID != e.ID {
		t.Errorf("expected the queued event, got %v", got)
	}

	close(ch)
	if _, ok := m.Init()().(eventsClosedMsg); !ok {
		t.Error("expected eventsClosedMsg after the channel closes")
	}
}

func TestModel_LogIsBounded(t *testing.T) {
	m := sized(t, nil)
	for i := 0; i < maxLogLines+20; i++ {
		m = update(t, m, events.New("workflow.standard.followup", "workflow", "s1", events.FollowUpData{}))
	}
	if len(m.Log()) != maxLogLines {
		t.Errorf("expected log capped at %d, got %d", maxLogLines, len(m.Log()))
	}
}
