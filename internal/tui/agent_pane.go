package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/agentflow/internal/events"
)

const listWidth = 28

// TaskRun is one task as seen through its lifecycle events.
type TaskRun struct {
	TaskID    string
	Role      string
	AgentID   string
	Status    string // "running", "retrying", "completed", "failed", "cancelled", "blocked"
	Attempt   int
	Output    []string
	StartTime time.Time
	Duration  time.Duration
}

// AgentPaneModel lists task runs and shows the selected run's output.
type AgentPaneModel struct {
	runs        map[string]*TaskRun // taskID -> run
	order       []string            // first-seen order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewAgentPaneModel creates a new agent pane model.
func NewAgentPaneModel() AgentPaneModel {
	return AgentPaneModel{
		runs:     make(map[string]*TaskRun),
		viewport: viewport.New(0, 0),
	}
}

// Update handles key presses and task events.
func (m AgentPaneModel) Update(msg tea.Msg) (AgentPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.Event:
		m.handleEvent(msg)
	}

	return m, cmd
}

func (m *AgentPaneModel) handleEvent(e events.Event) {
	switch data := e.Data.(type) {
	case events.TaskStartedData:
		run := m.run(data.TaskID)
		run.Role = data.Role
		run.AgentID = data.AgentID
		run.Status = "running"
		run.Attempt = data.Attempt
		run.StartTime = e.Timestamp
		run.Output = append(run.Output, fmt.Sprintf("[%s] started on %s", e.Timestamp.Format("15:04:05"), data.AgentID))

	case events.TaskCompletedData:
		run := m.run(data.TaskID)
		run.Status = "completed"
		run.Duration = data.Duration
		if data.Result != nil {
			run.Output = append(run.Output, strings.Split(fmt.Sprint(data.Result), "\n")...)
		}
		run.Output = append(run.Output, fmt.Sprintf("\n[Completed in %v]", data.Duration.Round(time.Millisecond)))

	case events.TaskFailedData:
		run := m.run(data.TaskID)
		if strings.HasSuffix(e.Type, "."+events.ActionRetrying) {
			run.Status = "retrying"
			run.Attempt = data.Attempt + 1
			run.Output = append(run.Output, fmt.Sprintf("[Attempt %d failed: %v, retrying]", data.Attempt, data.Err))
			break
		}
		run.Status = "failed"
		run.Duration = data.Duration
		run.Output = append(run.Output, fmt.Sprintf("\n[Failed after %d attempt(s): %v]", data.Attempt, data.Err))

	case events.TaskBlockedData:
		run := m.run(data.TaskID)
		run.Status = "blocked"
		run.Output = append(run.Output, fmt.Sprintf("[Blocked by %s]", data.BlockedBy))

	case events.TaskStateData:
		if !strings.HasSuffix(e.Type, "."+events.ActionCancelled) {
			return
		}
		// Only runs that were shown already; pending tasks are counted in the DAG pane.
		run, ok := m.runs[data.TaskID]
		if !ok {
			return
		}
		run.Status = "cancelled"
		run.Output = append(run.Output, "[Cancelled]")

	default:
		return
	}

	if len(m.order) == 1 || m.selectedTaskID() == taskIDOf(e.Data) {
		m.updateViewportContent()
	}
}

// run returns the run for taskID, creating it on first sight.
func (m *AgentPaneModel) run(taskID string) *TaskRun {
	if r, ok := m.runs[taskID]; ok {
		return r
	}
	r := &TaskRun{TaskID: taskID, Status: "pending"}
	m.runs[taskID] = r
	m.order = append(m.order, taskID)
	return r
}

func taskIDOf(data any) string {
	switch d := data.(type) {
	case events.TaskStartedData:
		return d.TaskID
	case events.TaskCompletedData:
		return d.TaskID
	case events.TaskFailedData:
		return d.TaskID
	case events.TaskBlockedData:
		return d.TaskID
	case events.TaskStateData:
		return d.TaskID
	}
	return ""
}

// View renders the agent pane.
func (m AgentPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	viewportWidth := m.width - listWidth - 4
	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderList(),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m AgentPaneModel) renderList() string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(listWidth, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, taskID := range m.order {
		run := m.runs[taskID]
		name := run.TaskID
		if run.AgentID != "" {
			name += " @" + run.AgentID
		}
		if len(name) > listWidth-4 {
			name = name[:listWidth-7] + "..."
		}

		line := fmt.Sprintf("%s %s", StatusIcon(run.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(listWidth).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case "running", "retrying":
		return StyleStatusRunning.Render("●")
	case "completed":
		return StyleStatusComplete.Render("✓")
	case "failed":
		return StyleStatusFailed.Render("✗")
	case "blocked", "cancelled":
		return StyleStatusBlocked.Render("⊘")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m AgentPaneModel) selectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// Selected returns the selected run, if any.
func (m AgentPaneModel) Selected() (TaskRun, bool) {
	run, ok := m.runs[m.selectedTaskID()]
	if !ok {
		return TaskRun{}, false
	}
	return *run, true
}

func (m *AgentPaneModel) updateViewportContent() {
	run, ok := m.runs[m.selectedTaskID()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	m.viewport.SetContent(strings.Join(run.Output, "\n"))
	m.viewport.GotoBottom()
}

func (m *AgentPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-listWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *AgentPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *AgentPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
