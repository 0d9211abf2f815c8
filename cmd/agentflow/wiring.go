package main

import (
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/aristath/agentflow/internal/backend"
	"github.com/aristath/agentflow/internal/config"
	"github.com/aristath/agentflow/internal/events"
	"github.com/aristath/agentflow/internal/orchestrator"
)

// backendConfig resolves an agent's provider into a backend configuration.
// dryRun replaces every provider with the echo backend.
func backendConfig(cfg *config.Config, name string, dryRun bool) (backend.Config, error) {
	agent := cfg.Agents[name]
	provider, ok := cfg.Providers[agent.Provider]
	if !ok {
		return backend.Config{}, fmt.Errorf("agent %q: unknown provider %q", name, agent.Provider)
	}

	model := agent.Model
	if model == "" {
		model = provider.Model
	}
	workDir, _ := os.Getwd()

	bc := backend.Config{
		Type:         provider.Type,
		Command:      provider.Command,
		Args:         provider.Args,
		WorkDir:      workDir,
		Model:        model,
		SystemPrompt: agent.SystemPrompt,
		Tools:        agent.Tools,
		MaxTokens:    provider.MaxTokens,
		APIKey:       cfg.APIKey,
	}
	if dryRun {
		bc = backend.Config{Type: config.ProviderEcho}
	}
	return bc, nil
}

// buildOrchestrator creates the orchestrator and registers every configured
// agent on it, in name order.
func buildOrchestrator(cfg *config.Config, bus *events.Bus, pm *backend.ProcessManager, logger *zap.Logger, dryRun bool) (*orchestrator.Orchestrator, error) {
	orch := orchestrator.New(orchestrator.Config{
		Retry: orchestrator.RetryConfig{
			InitialInterval:     cfg.Retry.InitialInterval.Std(),
			MaxInterval:         cfg.Retry.MaxInterval.Std(),
			MaxElapsedTime:      cfg.Retry.MaxElapsedTime.Std(),
			Multiplier:          cfg.Retry.Multiplier,
			RandomizationFactor: cfg.Retry.RandomizationFactor,
		},
		Breaker: orchestrator.BreakerConfig{
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
			OpenTimeout:         cfg.Breaker.OpenTimeout.Std(),
			HalfOpenRequests:    cfg.Breaker.HalfOpenRequests,
		},
		Bus:    bus,
		Logger: logger,
	})

	names := make([]string, 0, len(cfg.Agents))
	for name := range cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		bc, err := backendConfig(cfg, name, dryRun)
		if err != nil {
			return nil, err
		}
		ac := cfg.Agents[name]
		agent, err := backend.NewAgent(name, ac.AgentCapabilities(name), bc, pm, logger)
		if err != nil {
			return nil, err
		}
		if err := orch.RegisterAgent(agent, ac.MaxLoad); err != nil {
			return nil, fmt.Errorf("registering agent %q: %w", name, err)
		}
	}
	return orch, nil
}

func healthConfig(cfg *config.Config) orchestrator.HealthConfig {
	return orchestrator.HealthConfig{
		Interval: cfg.Health.Interval.Std(),
		Timeout:  cfg.Health.Timeout.Std(),
	}
}
