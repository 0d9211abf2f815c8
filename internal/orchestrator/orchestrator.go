package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/aristath/agentflow/internal/events"
	"github.com/aristath/agentflow/internal/scheduler"
)

// Config configures an Orchestrator.
type Config struct {
	Retry   RetryConfig   // Backoff between attempts of a task with MaxRetries > 0
	Breaker BreakerConfig // Per-agent circuit breaker settings
	Bus     *events.Bus   // Optional; nil disables events
	Logger  *zap.Logger   // Defaults to a no-op logger
}

// agentEntry is the registry record for one agent.
type agentEntry struct {
	agent   Agent
	caps    []string
	maxLoad int
	load    int
	healthy bool
	seq     uint64
	breaker *gobreaker.CircuitBreaker

	// Lifetime statistics; cancelled tasks are not counted.
	completed int
	failed    int
	busy      time.Duration // summed duration of completed and failed tasks
}

// Orchestrator owns the agent registry, matches tasks to agents and runs them.
// It implements scheduler.Dispatcher.
type Orchestrator struct {
	mu      sync.Mutex
	agents  map[string]*agentEntry
	byRole  map[string][]*agentEntry // role -> agents, registration order
	nextSeq uint64
	avail   chan struct{}

	cfg      Config
	bus      *events.Bus
	logger   *zap.Logger
	breakers *CircuitBreakerRegistry
	wg       sync.WaitGroup
}

var _ scheduler.Dispatcher = (*Orchestrator)(nil)

// New creates an orchestrator with an empty registry.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Breaker == (BreakerConfig{}) {
		cfg.Breaker = DefaultBreakerConfig()
	}

	return &Orchestrator{
		agents:   make(map[string]*agentEntry),
		byRole:   make(map[string][]*agentEntry),
		avail:    make(chan struct{}),
		cfg:      cfg,
		bus:      cfg.Bus,
		logger:   cfg.Logger,
		breakers: NewCircuitBreakerRegistry(cfg.Breaker, cfg.Logger),
	}
}

// RegisterAgent adds an agent with the given load limit (DefaultMaxLoad if <= 0).
// New agents start healthy.
func (o *Orchestrator) RegisterAgent(agent Agent, maxLoad int) error {
	if maxLoad <= 0 {
		maxLoad = DefaultMaxLoad
	}
	id := agent.ID()
	if id == "" {
		return errors.New("agent ID must not be empty")
	}

	o.mu.Lock()
	if _, exists := o.agents[id]; exists {
		o.mu.Unlock()
		return &DuplicateAgentError{ID: id}
	}

	caps := dedupe(agent.Capabilities())
	entry := &agentEntry{
		agent:   agent,
		caps:    caps,
		maxLoad: maxLoad,
		healthy: true,
		seq:     o.nextSeq,
		breaker: o.breakers.Get(id),
	}
	o.nextSeq++
	o.agents[id] = entry
	for _, role := range caps {
		o.byRole[role] = append(o.byRole[role], entry)
	}
	o.notifyLocked()
	o.mu.Unlock()

	o.logger.Info("agent registered",
		zap.String("agent_id", id),
		zap.Strings("capabilities", caps),
		zap.Int("max_load", maxLoad))
	o.publish(events.AgentType(id, events.ActionRegistered), "", events.AgentData{AgentID: id, Capabilities: caps, MaxLoad: maxLoad})
	return nil
}

// UnregisterAgent removes an agent. Tasks it is already running finish normally.
func (o *Orchestrator) UnregisterAgent(id string) error {
	o.mu.Lock()
	entry, exists := o.agents[id]
	if !exists {
		o.mu.Unlock()
		return fmt.Errorf("agent %q not registered", id)
	}

	delete(o.agents, id)
	for _, role := range entry.caps {
		o.byRole[role] = removeEntry(o.byRole[role], entry)
		if len(o.byRole[role]) == 0 {
			delete(o.byRole, role)
		}
	}
	o.mu.Unlock()

	o.breakers.Remove(id)
	o.logger.Info("agent unregistered", zap.String("agent_id", id))
	o.publish(events.AgentType(id, events.ActionUnregistered), "", events.AgentData{AgentID: id, Capabilities: entry.caps})
	return nil
}

// Reserve selects an agent for task and takes one unit of its load.
// Eligible agents advertise the task's role, are healthy, are below their load
// limit and do not have an open circuit breaker. Ties go to the lowest current
// load, then to the earliest registration. A task with no role may run on any agent.
func (o *Orchestrator) Reserve(task *scheduler.Task) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	candidates := o.byRole[task.Role]
	if task.Role == "" {
		candidates = o.allLocked()
	}

	var best *agentEntry
	for _, entry := range candidates {
		if !entry.healthy || entry.load >= entry.maxLoad {
			continue
		}
		if entry.breaker.State() == gobreaker.StateOpen {
			continue
		}
		if best == nil || entry.load < best.load {
			best = entry
		}
	}
	if best == nil {
		return "", false
	}

	best.load++
	return best.agent.ID(), true
}

// Release returns a reservation that will not be executed.
func (o *Orchestrator) Release(agentID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if entry, ok := o.agents[agentID]; ok {
		o.releaseLocked(entry)
	}
}

func (o *Orchestrator) releaseLocked(entry *agentEntry) {
	if entry.load > 0 {
		entry.load--
	}
	o.notifyLocked()
}

// Execute runs task on a reserved agent in its own goroutine and reports the
// outcome through done. Cancellation of ctx yields a CANCELLED outcome.
func (o *Orchestrator) Execute(ctx context.Context, agentID string, task *scheduler.Task, done func(scheduler.Outcome)) {
	o.mu.Lock()
	entry, ok := o.agents[agentID]
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		if !ok {
			done(scheduler.Outcome{
				TaskID:  task.ID,
				Status:  scheduler.TaskFailed,
				AgentID: agentID,
				Err: &scheduler.AgentExecutionError{
					TaskID: task.ID, AgentID: agentID, Err: errors.New("agent not registered"),
				},
			})
			return
		}
		done(o.run(ctx, entry, task))
	}()
}

// run executes one task and turns the result into an outcome.
func (o *Orchestrator) run(ctx context.Context, entry *agentEntry, task *scheduler.Task) scheduler.Outcome {
	agentID := entry.agent.ID()
	start := time.Now()

	o.publish(events.TaskType(task.ID, events.ActionStarted), task.SessionID, events.TaskStartedData{
		TaskID: task.ID, Role: task.Role, AgentID: agentID, Attempt: 1,
	})

	result, attempts, settled, err := o.executeWithTimeout(ctx, entry, task)
	duration := time.Since(start)

	o.mu.Lock()
	switch {
	case err == nil:
		entry.completed++
		entry.busy += duration
	case ctx.Err() == nil || !isCancellation(err):
		entry.failed++
		entry.busy += duration
	}
	o.mu.Unlock()
	o.releaseWhenSettled(entry, task.ID, settled)

	outcome := scheduler.Outcome{TaskID: task.ID, AgentID: agentID, Attempts: attempts}

	switch {
	case err == nil:
		outcome.Status = scheduler.TaskCompleted
		outcome.Result = result
		o.logger.Info("task completed",
			zap.String("task_id", task.ID),
			zap.String("agent_id", agentID),
			zap.Duration("duration", duration))
		o.publish(events.TaskType(task.ID, events.ActionCompleted), task.SessionID, events.TaskCompletedData{
			TaskID: task.ID, AgentID: agentID, Result: result, Duration: duration,
		})

	case ctx.Err() != nil && isCancellation(err):
		outcome.Status = scheduler.TaskCancelled
		outcome.Err = err
		o.logger.Info("task cancelled", zap.String("task_id", task.ID), zap.String("agent_id", agentID))

	default:
		var timeoutErr *scheduler.TaskTimeoutError
		if !errors.As(err, &timeoutErr) {
			err = &scheduler.AgentExecutionError{TaskID: task.ID, AgentID: agentID, Err: err}
		}
		outcome.Status = scheduler.TaskFailed
		outcome.Err = err
		o.logger.Warn("task failed",
			zap.String("task_id", task.ID),
			zap.String("agent_id", agentID),
			zap.Int("attempts", attempts),
			zap.Error(err))
		o.publish(events.TaskType(task.ID, events.ActionFailed), task.SessionID, events.TaskFailedData{
			TaskID: task.ID, AgentID: agentID, Err: err, Attempt: attempts, Duration: duration,
		})
	}
	return outcome
}

// releaseWhenSettled returns the agent's load unit once its execution has
// stopped. An agent still running after a timeout or cancellation keeps the
// unit until it returns, so max_load bounds real concurrent executions.
func (o *Orchestrator) releaseWhenSettled(entry *agentEntry, taskID string, settled <-chan struct{}) {
	release := func() {
		o.mu.Lock()
		o.releaseLocked(entry)
		o.mu.Unlock()
	}

	select {
	case <-settled:
		release()
	default:
		o.logger.Warn("agent still running after task ended, holding its load",
			zap.String("task_id", taskID),
			zap.String("agent_id", entry.agent.ID()))
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			<-settled
			release()
		}()
	}
}

// Available returns a channel closed the next time capacity may have grown:
// a load release, a registration or a recovery.
func (o *Orchestrator) Available() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.avail
}

func (o *Orchestrator) notifyLocked() {
	close(o.avail)
	o.avail = make(chan struct{})
}

// Notify wakes schedulers waiting for capacity.
func (o *Orchestrator) Notify() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notifyLocked()
}

// SetHealthy records a health result. An unhealthy agent keeps its registry
// entry but receives no new tasks until it reports healthy again.
func (o *Orchestrator) SetHealthy(id string, healthy bool) {
	o.mu.Lock()
	entry, ok := o.agents[id]
	if !ok || entry.healthy == healthy {
		o.mu.Unlock()
		return
	}
	entry.healthy = healthy
	if healthy {
		o.notifyLocked()
	}
	o.mu.Unlock()

	action := events.ActionUnhealthy
	if healthy {
		action = events.ActionHealthy
		o.logger.Info("agent recovered", zap.String("agent_id", id))
	} else {
		o.logger.Warn("agent unhealthy", zap.String("agent_id", id))
	}
	o.publish(events.AgentType(id, action), "", events.AgentData{AgentID: id, Capabilities: entry.caps, MaxLoad: entry.maxLoad})
}

// Agent returns the registered agent with the given ID.
func (o *Orchestrator) Agent(id string) (Agent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.agents[id]
	if !ok {
		return nil, false
	}
	return entry.agent, true
}

// Agents returns a snapshot of every registered agent in registration order.
func (o *Orchestrator) Agents() []AgentInfo {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries := o.allLocked()
	infos := make([]AgentInfo, 0, len(entries))
	for _, entry := range entries {
		infos = append(infos, AgentInfo{
			ID:           entry.agent.ID(),
			Capabilities: append([]string(nil), entry.caps...),
			Load:         entry.load,
			MaxLoad:      entry.maxLoad,
			Healthy:      entry.healthy,
			Breaker:      entry.breaker.State().String(),
			Completed:    entry.completed,
			Failed:       entry.failed,
			Busy:         entry.busy,
		})
	}
	return infos
}

// Loads returns the in-flight task count per agent.
func (o *Orchestrator) Loads() map[string]int {
	o.mu.Lock()
	defer o.mu.Unlock()

	loads := make(map[string]int, len(o.agents))
	for id, entry := range o.agents {
		loads[id] = entry.load
	}
	return loads
}

// Wait blocks until every execution goroutine has reported its outcome and
// every agent still running past its task has returned its load.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) allLocked() []*agentEntry {
	entries := make([]*agentEntry, 0, len(o.agents))
	for _, entry := range o.agents {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}

func (o *Orchestrator) publish(eventType, sessionID string, data any) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.New(eventType, "orchestrator", sessionID, data))
}

func dedupe(caps []string) []string {
	seen := make(map[string]bool, len(caps))
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func removeEntry(entries []*agentEntry, target *agentEntry) []*agentEntry {
	for i, e := range entries {
		if e == target {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
