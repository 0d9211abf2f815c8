package tui

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/agentflow/internal/events"
)

// DAGPaneModel shows graph progress counts and agent health.
type DAGPaneModel struct {
	progress events.ProgressData
	agents   map[string]bool // agentID -> healthy
	width    int
	height   int
	focused  bool
}

// NewDAGPaneModel creates a new DAG pane model.
func NewDAGPaneModel() DAGPaneModel {
	return DAGPaneModel{agents: make(map[string]bool)}
}

// Update handles progress and agent events.
func (m DAGPaneModel) Update(msg tea.Msg) (DAGPaneModel, tea.Cmd) {
	e, ok := msg.(events.Event)
	if !ok {
		return m, nil
	}

	switch data := e.Data.(type) {
	case events.ProgressData:
		m.progress = data
	case events.AgentData:
		switch {
		case strings.HasSuffix(e.Type, "."+events.ActionRegistered), strings.HasSuffix(e.Type, "."+events.ActionHealthy):
			m.agents[data.AgentID] = true
		case strings.HasSuffix(e.Type, "."+events.ActionUnhealthy):
			m.agents[data.AgentID] = false
		case strings.HasSuffix(e.Type, "."+events.ActionUnregistered):
			delete(m.agents, data.AgentID)
		}
	}
	return m, nil
}

// Progress returns the most recent progress counts.
func (m DAGPaneModel) Progress() events.ProgressData {
	return m.progress
}

// View renders the DAG pane.
func (m DAGPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	p := m.progress

	title := StyleTitle.Render("DAG Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Total:     %d\n", p.Total)
	fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprint(p.Completed)))
	fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprint(p.InProgress)))
	fmt.Fprintf(&b, "Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprint(p.Failed)))
	fmt.Fprintf(&b, "Blocked:   %s\n", StyleStatusBlocked.Render(fmt.Sprint(p.Blocked+p.Cancelled)))
	fmt.Fprintf(&b, "Waiting:   %s\n", StyleStatusPending.Render(fmt.Sprint(p.Pending+p.Ready)))
	b.WriteString("\n")

	if p.Total > 0 {
		barWidth := min(m.width-4, 40)
		completedWidth := (p.Completed * barWidth) / p.Total
		failedWidth := ((p.Failed + p.Blocked + p.Cancelled) * barWidth) / p.Total
		runningWidth := (p.InProgress * barWidth) / p.Total
		pendingWidth := barWidth - completedWidth - failedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		fmt.Fprintf(&b, "[%s]  %d/%d\n\n", bar, p.Completed, p.Total)
	}

	if len(m.agents) > 0 {
		ids := make([]string, 0, len(m.agents))
		for id := range m.agents {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		b.WriteString("Agents: ")
		for _, id := range ids {
			icon := StyleStatusComplete.Render("●")
			if !m.agents[id] {
				icon = StyleStatusFailed.Render("●")
			}
			fmt.Fprintf(&b, "%s %s  ", icon, id)
		}
		b.WriteString("\n")
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *DAGPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *DAGPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
