package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/agentflow/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneEvents
	PaneDAG
)

const (
	maxLogLines   = 500
	subscriberBuf = 1024
)

// eventsClosedMsg is sent once the event subscription has ended.
type eventsClosedMsg struct{}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	agentPane   AgentPaneModel
	dagPane     DAGPaneModel
	logView     viewport.Model
	log         []string
	focusedPane PaneID
	eventSub    <-chan events.Event
	sub         *events.Subscription
	cancel      func()
	title       string
	finished    string // final session action, empty while running
	width       int
	height      int
	quitting    bool
}

// New creates a TUI model subscribed to every event on bus. cancel, if not
// nil, is called when the user asks to cancel the run.
func New(bus *events.Bus, title string, cancel func()) (Model, error) {
	ch, sub, err := bus.SubscribeChan("**", subscriberBuf)
	if err != nil {
		return Model{}, fmt.Errorf("subscribing to events: %w", err)
	}
	return newModel(ch, title, cancel, sub), nil
}

func newModel(ch <-chan events.Event, title string, cancel func(), sub *events.Subscription) Model {
	m := Model{
		agentPane:   NewAgentPaneModel(),
		dagPane:     NewDAGPaneModel(),
		logView:     viewport.New(0, 0),
		focusedPane: PaneTasks,
		eventSub:    ch,
		sub:         sub,
		cancel:      cancel,
		title:       title,
	}
	m.updateFocusStates()
	return m
}

// Close ends the event subscription.
func (m Model) Close() {
	if m.sub != nil {
		m.sub.Unsubscribe()
	}
}

// Init starts listening for events.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return eventsClosedMsg{}
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyCancel:
			if m.cancel != nil && m.finished == "" {
				m.cancel()
				m.appendLog("cancel requested")
			}

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % 3
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + 2) % 3 // -1 mod 3
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneEvents
			m.updateFocusStates()

		case KeyPane3:
			m.focusedPane = PaneDAG
			m.updateFocusStates()

		default:
			switch m.focusedPane {
			case PaneTasks:
				var cmd tea.Cmd
				m.agentPane, cmd = m.agentPane.Update(msg)
				cmds = append(cmds, cmd)
			case PaneEvents:
				var cmd tea.Cmd
				m.logView, cmd = m.logView.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case events.Event:
		m.appendLog(formatEvent(msg))

		switch topicOf(msg.Type) {
		case events.TopicTask:
			m.agentPane, _ = m.agentPane.Update(msg)
		case events.TopicAgent:
			m.dagPane, _ = m.dagPane.Update(msg)
		case events.TopicSession:
			m.dagPane, _ = m.dagPane.Update(msg)
			if action := actionOf(msg.Type); isFinal(action) {
				m.finished = action
			}
		}
		cmds = append(cmds, waitForEvent(m.eventSub))

	case eventsClosedMsg:
		m.appendLog("event stream closed")
	}

	return m, tea.Batch(cmds...)
}

// Finished returns the final session action ("completed", "failed" or
// "cancelled"), or "" while the run is active.
func (m Model) Finished() string {
	return m.finished
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	leftWidth := (m.width * 45) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 2 // header and help bar
	logHeight := (availableHeight * 60) / 100

	logStyle := StyleUnfocusedBorder
	if m.focusedPane == PaneEvents {
		logStyle = StyleFocusedBorder
	}
	logPane := logStyle.
		Width(rightWidth - 2).
		Height(logHeight - 2).
		Render(m.logView.View())

	rightPane := lipgloss.JoinVertical(lipgloss.Left, logPane, m.dagPane.View())
	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, m.agentPane.View(), rightPane)

	return lipgloss.JoinVertical(lipgloss.Left, m.header(), mainContent, HelpView())
}

func (m Model) header() string {
	state := StyleStatusRunning.Render("running")
	switch m.finished {
	case events.ActionCompleted:
		state = StyleStatusComplete.Render(m.finished)
	case events.ActionFailed:
		state = StyleStatusFailed.Render(m.finished)
	case events.ActionCancelled:
		state = StyleStatusBlocked.Render(m.finished)
	}
	return StyleTitle.Render(m.title) + " " + state
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 45) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 2
	logHeight := (availableHeight * 60) / 100

	m.agentPane.SetSize(leftWidth, availableHeight)
	m.dagPane.SetSize(rightWidth, availableHeight-logHeight)
	m.logView.Width = max(rightWidth-4, 10)
	m.logView.Height = max(logHeight-2, 3)
	m.logView.SetContent(strings.Join(m.log, "\n"))
	m.logView.GotoBottom()

	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.agentPane.SetFocused(m.focusedPane == PaneTasks)
	m.dagPane.SetFocused(m.focusedPane == PaneDAG)
}

func (m *Model) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = append([]string(nil), m.log[len(m.log)-maxLogLines:]...)
	}
	m.logView.SetContent(strings.Join(m.log, "\n"))
	m.logView.GotoBottom()
}

// Log returns the event log lines, oldest first.
func (m Model) Log() []string {
	return m.log
}

func formatEvent(e events.Event) string {
	return StyleEventTime.Render(e.Timestamp.Format("15:04:05")) + " " + e.Type
}

func topicOf(eventType string) string {
	topic, _, _ := strings.Cut(eventType, ".")
	return topic
}

func actionOf(eventType string) string {
	return eventType[strings.LastIndexByte(eventType, '.')+1:]
}

func isFinal(action string) bool {
	switch action {
	case events.ActionCompleted, events.ActionFailed, events.ActionCancelled:
		return true
	}
	return false
}
