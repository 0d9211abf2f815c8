package config

import "time"

// DefaultConfig returns the default configuration with built-in providers, agents, and workflows.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{
			"claude": {
				Type:    ProviderClaude,
				Command: "claude",
			},
			"codex": {
				Type:    ProviderCodex,
				Command: "codex",
			},
			"goose": {
				Type:    ProviderGoose,
				Command: "goose",
			},
			"anthropic": {
				Type:      ProviderAnthropic,
				Model:     "claude-sonnet-4-20250514",
				MaxTokens: 4096,
			},
			"echo": {
				Type: ProviderEcho,
			},
		},
		Agents: map[string]AgentConfig{
			"orchestrator": {
				Provider:     "claude",
				SystemPrompt: "You coordinate task planning and agent workflows.",
			},
			"coder": {
				Provider:     "claude",
				SystemPrompt: "You implement features and write production code.",
			},
			"reviewer": {
				Provider:     "claude",
				SystemPrompt: "You review code for correctness, style, and best practices.",
			},
			"tester": {
				Provider:     "claude",
				SystemPrompt: "You write comprehensive tests and validate functionality.",
			},
		},
		Workflows: map[string]WorkflowConfig{
			"standard": {
				Steps: []WorkflowStepConfig{
					{Agent: "coder"},
					{Agent: "reviewer"},
					{Agent: "tester"},
				},
			},
		},
		Scheduler: SchedulerConfig{
			Concurrency:    4,
			DefaultTimeout: Duration(10 * time.Minute),
			IdleTimeout:    Duration(time.Minute),
		},
		Retry: RetryConfig{
			InitialInterval:     Duration(100 * time.Millisecond),
			MaxInterval:         Duration(10 * time.Second),
			MaxElapsedTime:      Duration(2 * time.Minute),
			Multiplier:          2.0,
			RandomizationFactor: 0.5,
		},
		Breaker: BreakerConfig{
			ConsecutiveFailures: 5,
			OpenTimeout:         Duration(30 * time.Second),
			HalfOpenRequests:    3,
		},
		Health: HealthConfig{
			Interval: Duration(30 * time.Second),
			Timeout:  Duration(5 * time.Second),
		},
		LogLevel: "info",
	}
}
