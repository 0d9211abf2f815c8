package metrics

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aristath/agentflow/internal/events"
)

// Collector turns lifecycle events into Prometheus metrics.
type Collector struct {
	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	retries      *prometheus.CounterVec
	blocked      prometheus.Counter
	inFlight     prometheus.Gauge
	agentHealthy *prometheus.GaugeVec
	sessions     *prometheus.CounterVec
	followUps    *prometheus.CounterVec

	mu      sync.Mutex
	running map[string]string // session/task key -> agent, between started and a terminal event
}

// NewCollector creates a collector whose metrics are registered with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		tasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentflow_tasks_total",
				Help: "Total number of tasks reaching a terminal state",
			},
			[]string{"outcome", "agent"},
		),
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentflow_task_duration_seconds",
				Help:    "Task execution duration in seconds, retries included",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"outcome", "agent"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentflow_task_retries_total",
				Help: "Total number of task retry attempts",
			},
			[]string{"agent"},
		),
		blocked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentflow_tasks_blocked_total",
				Help: "Total number of tasks blocked by a failed or cancelled dependency",
			},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentflow_tasks_in_flight",
				Help: "Number of tasks currently executing",
			},
		),
		agentHealthy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentflow_agent_healthy",
				Help: "1 if the agent is registered and healthy, 0 otherwise",
			},
			[]string{"agent"},
		),
		sessions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentflow_sessions_total",
				Help: "Total number of sessions by final state",
			},
			[]string{"state"},
		),
		followUps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentflow_workflow_followups_total",
				Help: "Total number of workflow follow-up tasks added",
			},
			[]string{"workflow"},
		),
		running: make(map[string]string),
	}
}

// Attach subscribes the collector to every event on bus.
func (c *Collector) Attach(bus *events.Bus) (*events.Subscription, error) {
	return bus.Subscribe("**", c.Handle)
}

// Handle records one event. It never fails.
func (c *Collector) Handle(_ context.Context, e events.Event) error {
	topic, action := split(e.Type)
	switch topic {
	case events.TopicTask:
		c.handleTask(e, action)
	case events.TopicAgent:
		if data, ok := e.Data.(events.AgentData); ok {
			c.handleAgent(data.AgentID, action)
		}
	case events.TopicSession:
		switch action {
		case events.ActionCompleted, events.ActionFailed, events.ActionCancelled:
			c.sessions.WithLabelValues(action).Inc()
		}
	case events.TopicWorkflow:
		if data, ok := e.Data.(events.FollowUpData); ok && action == events.ActionFollowUp && data.Err == nil {
			c.followUps.WithLabelValues(data.Workflow).Inc()
		}
	}
	return nil
}

func (c *Collector) handleTask(e events.Event, action string) {
	switch action {
	case events.ActionStarted:
		if data, ok := e.Data.(events.TaskStartedData); ok {
			c.start(e.SessionID, data.TaskID, data.AgentID)
		}
	case events.ActionCompleted:
		if data, ok := e.Data.(events.TaskCompletedData); ok {
			c.finish(e.SessionID, data.TaskID)
			c.tasksTotal.WithLabelValues(action, data.AgentID).Inc()
			c.taskDuration.WithLabelValues(action, data.AgentID).Observe(data.Duration.Seconds())
		}
	case events.ActionFailed:
		if data, ok := e.Data.(events.TaskFailedData); ok {
			c.finish(e.SessionID, data.TaskID)
			c.tasksTotal.WithLabelValues(action, data.AgentID).Inc()
			c.taskDuration.WithLabelValues(action, data.AgentID).Observe(data.Duration.Seconds())
		}
	case events.ActionRetrying:
		if data, ok := e.Data.(events.TaskFailedData); ok {
			c.retries.WithLabelValues(data.AgentID).Inc()
		}
	case events.ActionCancelled:
		if data, ok := e.Data.(events.TaskStateData); ok {
			// Tasks cancelled before they started have no agent.
			agentID := c.finish(e.SessionID, data.TaskID)
			c.tasksTotal.WithLabelValues(action, agentID).Inc()
		}
	case events.ActionBlocked:
		c.tasksTotal.WithLabelValues(action, "").Inc()
		c.blocked.Inc()
	}
}

func (c *Collector) handleAgent(agentID, action string) {
	switch action {
	case events.ActionRegistered, events.ActionHealthy:
		c.agentHealthy.WithLabelValues(agentID).Set(1)
	case events.ActionUnhealthy:
		c.agentHealthy.WithLabelValues(agentID).Set(0)
	case events.ActionUnregistered:
		c.agentHealthy.DeleteLabelValues(agentID)
	}
}

// start and finish keep the in-flight gauge equal to the number of started
// tasks that have not yet finished.
func (c *Collector) start(sessionID, taskID, agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running[sessionID+"/"+taskID] = agentID
	c.inFlight.Set(float64(len(c.running)))
}

// finish returns the agent the task was started on, if it was started.
func (c *Collector) finish(sessionID, taskID string) string {
	key := sessionID + "/" + taskID

	c.mu.Lock()
	defer c.mu.Unlock()
	agentID := c.running[key]
	delete(c.running, key)
	c.inFlight.Set(float64(len(c.running)))
	return agentID
}

// split returns the first and last segments of an event type.
func split(eventType string) (topic, action string) {
	topic, _, _ = strings.Cut(eventType, ".")
	if i := strings.LastIndexByte(eventType, '.'); i >= 0 {
		action = eventType[i+1:]
	}
	return topic, action
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
