package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HealthConfig configures a HealthMonitor.
type HealthConfig struct {
	Interval    time.Duration // Time between check rounds (default 30s)
	Timeout     time.Duration // Per-agent check timeout (default 5s)
	Parallelism int           // Concurrent checks per round (default 4)
}

// HealthMonitor periodically runs every agent's health check and updates its
// eligibility on the orchestrator.
type HealthMonitor struct {
	orch   *Orchestrator
	cfg    HealthConfig
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewHealthMonitor creates a new health monitor.
func NewHealthMonitor(orch *Orchestrator, cfg HealthConfig, logger *zap.Logger) *HealthMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HealthMonitor{
		orch:   orch,
		cfg:    cfg,
		logger: logger,
	}
}

// Start begins periodic checks until Stop is called or ctx is done.
func (h *HealthMonitor) Start(ctx context.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})
	stopCh, doneCh := h.stopCh, h.doneCh
	h.mu.Unlock()

	go h.run(ctx, stopCh, doneCh)
}

// Stop stops the monitor and waits for the current round to finish.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.stopCh)
	doneCh := h.doneCh
	h.mu.Unlock()

	<-doneCh
}

// run is the main health monitoring loop
func (h *HealthMonitor) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CheckAll(ctx)
		}
	}
}

// CheckAll runs one round of health checks with bounded parallelism and
// returns the result per agent.
func (h *HealthMonitor) CheckAll(ctx context.Context) map[string]bool {
	agents := h.orch.Agents()

	var mu sync.Mutex
	results := make(map[string]bool, len(agents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.Parallelism)

	for _, info := range agents {
		id := info.ID
		g.Go(func() error {
			healthy := h.check(gctx, id)
			mu.Lock()
			results[id] = healthy
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	unhealthy := 0
	for id, healthy := range results {
		h.orch.SetHealthy(id, healthy)
		if !healthy {
			unhealthy++
		}
	}

	// Open breakers only move to half-open when observed, so give waiting
	// schedulers a chance to look again.
	h.orch.Notify()

	h.logger.Debug("agent health check",
		zap.Int("total", len(results)),
		zap.Int("unhealthy", unhealthy))
	return results
}

// check runs one agent's health check with a timeout. A panic or a timeout counts as unhealthy.
func (h *HealthMonitor) check(ctx context.Context, id string) (healthy bool) {
	agent, ok := h.orch.Agent(id)
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	result := make(chan bool, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("health check panicked", zap.String("agent_id", id), zap.Any("panic", r))
				result <- false
			}
		}()
		result <- agent.HealthCheck(ctx)
	}()

	select {
	case healthy = <-result:
		return healthy
	case <-ctx.Done():
		h.logger.Warn("health check timed out", zap.String("agent_id", id), zap.Duration("timeout", h.cfg.Timeout))
		return false
	}
}
