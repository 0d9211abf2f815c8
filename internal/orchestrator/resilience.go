package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/aristath/agentflow/internal/events"
	"github.com/aristath/agentflow/internal/scheduler"
)

// RetryConfig configures exponential backoff between attempts of one task.
// The number of attempts is bounded by the task's MaxRetries.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 2min)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BreakerConfig configures the per-agent circuit breakers.
type BreakerConfig struct {
	ConsecutiveFailures uint32        // Trip after this many consecutive failures (default 5)
	OpenTimeout         time.Duration // Stay open this long before probing (default 30s)
	HalfOpenRequests    uint32        // Probe requests allowed when half-open (default 3)
}

// DefaultBreakerConfig returns the default circuit breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    3,
	}
}

// CircuitBreakerRegistry manages per-agent circuit breakers.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	cfg      BreakerConfig
	logger   *zap.Logger
}

// NewCircuitBreakerRegistry creates a new circuit breaker registry.
func NewCircuitBreakerRegistry(cfg BreakerConfig, logger *zap.Logger) *CircuitBreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		cfg:      cfg,
		logger:   logger,
	}
}

// Get returns the circuit breaker for the given agent.
// Creates a new one if it doesn't exist.
func (r *CircuitBreakerRegistry) Get(agentID string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[agentID]; ok {
		return cb
	}

	threshold := r.cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        agentID,
		MaxRequests: r.cfg.HalfOpenRequests,
		Interval:    0, // Don't clear counts automatically
		Timeout:     r.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change",
				zap.String("agent_id", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// Cancellation and timeouts are not agent faults
			return err == nil || isCancellation(err)
		},
	})

	r.breakers[agentID] = cb
	return cb
}

// Remove drops the breaker for an unregistered agent.
func (r *CircuitBreakerRegistry) Remove(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, agentID)
}

// executeWithTimeout bounds the whole task, retries included, by task.Timeout.
// When the deadline passes the agent's context is cancelled and the task fails
// with a TaskTimeoutError; a late result is discarded. Returns the attempt count
// and a channel closed once the agent call has actually returned, which may be
// after this function when the agent ignores cancellation.
func (o *Orchestrator) executeWithTimeout(ctx context.Context, entry *agentEntry, task *scheduler.Task) (any, int, <-chan struct{}, error) {
	var (
		execCtx context.Context
		cancel  context.CancelFunc
	)
	if task.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, task.Timeout)
	} else {
		execCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var attempts atomic.Int32
	type result struct {
		value any
		err   error
	}
	ch := make(chan result, 1)
	settled := make(chan struct{})
	go func() {
		v, err := o.executeWithRetry(execCtx, entry, task, &attempts)
		// Closed before the send: a received result implies settled.
		close(settled)
		ch <- result{v, err}
	}()

	timedOut := func() bool {
		return task.Timeout > 0 && ctx.Err() == nil && errors.Is(execCtx.Err(), context.DeadlineExceeded)
	}

	select {
	case r := <-ch:
		if r.err != nil && timedOut() {
			r.err = &scheduler.TaskTimeoutError{TaskID: task.ID, Timeout: task.Timeout}
		}
		return r.value, int(attempts.Load()), settled, r.err
	case <-execCtx.Done():
		// A result that raced the deadline still counts.
		select {
		case r := <-ch:
			if r.err == nil {
				return r.value, int(attempts.Load()), settled, nil
			}
		default:
		}
		if timedOut() {
			return nil, int(attempts.Load()), settled, &scheduler.TaskTimeoutError{TaskID: task.ID, Timeout: task.Timeout}
		}
		return nil, int(attempts.Load()), settled, ctx.Err()
	}
}

// executeWithRetry calls the agent through its circuit breaker with exponential
// backoff, up to task.MaxRetries extra attempts.
func (o *Orchestrator) executeWithRetry(ctx context.Context, entry *agentEntry, task *scheduler.Task, attempts *atomic.Int32) (any, error) {
	var result any
	agentID := entry.agent.ID()

	operation := func() error {
		// Check context first - fail fast if cancelled
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		attempts.Add(1)

		v, err := entry.breaker.Execute(func() (interface{}, error) {
			return safeExecute(ctx, entry.agent, task)
		})
		if err != nil {
			// Circuit is open - don't retry
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		result = v
		return nil
	}

	notify := func(err error, wait time.Duration) {
		attempt := int(attempts.Load())
		o.logger.Info("retrying task",
			zap.String("task_id", task.ID),
			zap.String("agent_id", agentID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
		o.publish(events.TaskType(task.ID, events.ActionRetrying), task.SessionID, events.TaskFailedData{
			TaskID: task.ID, AgentID: agentID, Err: err, Attempt: attempt,
		})
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.cfg.Retry.InitialInterval
	policy.MaxInterval = o.cfg.Retry.MaxInterval
	policy.MaxElapsedTime = o.cfg.Retry.MaxElapsedTime
	policy.Multiplier = o.cfg.Retry.Multiplier
	policy.RandomizationFactor = o.cfg.Retry.RandomizationFactor

	retries := task.MaxRetries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx)

	err := backoff.RetryNotify(operation, b, notify)
	return result, err
}

// safeExecute converts an agent panic into an error.
func safeExecute(ctx context.Context, agent Agent, task *scheduler.Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent panicked: %v", r)
		}
	}()
	return agent.Execute(ctx, task)
}
