package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable lifecycle record. Type is a dot-segmented topic such
// as "task.build.completed"; Data carries one of the payload structs below.
type Event struct {
	ID        string
	Type      string
	Source    string
	SessionID string
	Timestamp time.Time
	Data      any
}

// New builds an event with a fresh ID and the current time.
func New(eventType, source, sessionID string, data any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Topic roots
const (
	TopicTask     = "task"
	TopicSession  = "session"
	TopicAgent    = "agent"
	TopicWorkflow = "workflow"
)

// Event actions, the last segment of an event type.
const (
	ActionReady        = "ready"
	ActionStarted      = "started"
	ActionCompleted    = "completed"
	ActionFailed       = "failed"
	ActionBlocked      = "blocked"
	ActionCancelled    = "cancelled"
	ActionRetrying     = "retrying"
	ActionProgress     = "progress"
	ActionRegistered   = "registered"
	ActionUnregistered = "unregistered"
	ActionHealthy      = "healthy"
	ActionUnhealthy    = "unhealthy"
	ActionFollowUp     = "followup"
)

// TaskType returns "task.<id>.<action>".
func TaskType(taskID, action string) string { return TopicTask + "." + taskID + "." + action }

// SessionType returns "session.<id>.<action>".
func SessionType(sessionID, action string) string {
	return TopicSession + "." + sessionID + "." + action
}

// AgentType returns "agent.<id>.<action>".
func AgentType(agentID, action string) string { return TopicAgent + "." + agentID + "." + action }

// WorkflowType returns "workflow.<name>.<action>".
func WorkflowType(name, action string) string { return TopicWorkflow + "." + name + "." + action }

// TaskStartedData accompanies task.<id>.started.
type TaskStartedData struct {
	TaskID  string
	Role    string
	AgentID string
	Attempt int
}

// TaskCompletedData accompanies task.<id>.completed.
type TaskCompletedData struct {
	TaskID   string
	AgentID  string
	Result   any
	Duration time.Duration
}

// TaskFailedData accompanies task.<id>.failed and task.<id>.retrying.
type TaskFailedData struct {
	TaskID   string
	AgentID  string
	Err      error
	Attempt  int
	Duration time.Duration
}

// TaskBlockedData accompanies task.<id>.blocked. BlockedBy is the originating
// failed or cancelled task.
type TaskBlockedData struct {
	TaskID    string
	BlockedBy string
}

// TaskStateData accompanies task.<id>.ready and task.<id>.cancelled.
type TaskStateData struct {
	TaskID string
	Role   string
}

// ProgressData accompanies session.<id>.progress and the session terminal events.
type ProgressData struct {
	Total      int
	Pending    int
	Ready      int
	InProgress int
	Completed  int
	Failed     int
	Cancelled  int
	Blocked    int
	Err        error
}

// Done reports whether every task has reached a terminal state.
func (p ProgressData) Done() bool {
	return p.Completed+p.Failed+p.Cancelled+p.Blocked == p.Total
}

// AgentData accompanies agent.<id>.* events.
type AgentData struct {
	AgentID      string
	Capabilities []string
	MaxLoad      int
}

// FollowUpData accompanies workflow.<name>.followup.
type FollowUpData struct {
	Workflow string
	ParentID string
	TaskID   string
	Role     string
	Err      error
}
