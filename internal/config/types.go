package config

import (
	"fmt"
	"time"
)

// Provider types understood by the backend factory.
const (
	ProviderClaude    = "claude"    // Claude Code CLI
	ProviderCodex     = "codex"     // Codex CLI
	ProviderGoose     = "goose"     // Goose CLI
	ProviderCommand   = "command"   // Any CLI reading the prompt on stdin
	ProviderAnthropic = "anthropic" // Anthropic Messages API
	ProviderEcho      = "echo"      // Returns the prompt, for dry runs
)

// ProviderConfig defines a transport layer (CLI command, args, base settings).
// Providers are separate from agents -- multiple agents can share one provider.
type ProviderConfig struct {
	Type      string   `json:"type"`                 // One of the Provider* constants
	Command   string   `json:"command,omitempty"`    // CLI binary name (e.g., "claude", "codex", "goose")
	Args      []string `json:"args,omitempty"`       // Default args appended to every invocation
	Model     string   `json:"model,omitempty"`      // Default model for agents that don't set one
	MaxTokens int      `json:"max_tokens,omitempty"` // Response limit for API providers
}

// AgentConfig defines a role that uses a specific provider and model.
type AgentConfig struct {
	Provider     string   `json:"provider"`                // Key into Providers map
	Model        string   `json:"model,omitempty"`         // Model override (e.g., "opus-4", "gpt-4.1")
	SystemPrompt string   `json:"system_prompt,omitempty"` // Role-specific system prompt
	Tools        []string `json:"tools,omitempty"`         // Allowed tools for this role
	Capabilities []string `json:"capabilities,omitempty"`  // Roles served; defaults to the agent name
	MaxLoad      int      `json:"max_load,omitempty"`      // Concurrent tasks on this agent (0 = default)
}

// WorkflowStepConfig defines one step in a workflow pipeline.
type WorkflowStepConfig struct {
	Agent string `json:"agent"` // Role that runs this step
}

// WorkflowConfig defines a pipeline of agent steps (e.g., code -> review -> test).
type WorkflowConfig struct {
	Steps []WorkflowStepConfig `json:"steps"`
}

// SchedulerConfig bounds how a session dispatches tasks.
type SchedulerConfig struct {
	Concurrency    int      `json:"concurrency" env:"AGENTFLOW_CONCURRENCY"`
	DefaultTimeout Duration `json:"default_timeout" env:"AGENTFLOW_DEFAULT_TIMEOUT"`
	IdleTimeout    Duration `json:"idle_timeout" env:"AGENTFLOW_IDLE_TIMEOUT"`
}

// RetryConfig configures backoff between attempts of a failing task.
type RetryConfig struct {
	InitialInterval     Duration `json:"initial_interval"`
	MaxInterval         Duration `json:"max_interval"`
	MaxElapsedTime      Duration `json:"max_elapsed_time"`
	Multiplier          float64  `json:"multiplier"`
	RandomizationFactor float64  `json:"randomization_factor"`
}

// BreakerConfig configures the per-agent circuit breakers.
type BreakerConfig struct {
	ConsecutiveFailures uint32   `json:"consecutive_failures"`
	OpenTimeout         Duration `json:"open_timeout"`
	HalfOpenRequests    uint32   `json:"half_open_requests"`
}

// HealthConfig configures periodic agent health checks.
type HealthConfig struct {
	Interval Duration `json:"interval" env:"AGENTFLOW_HEALTH_INTERVAL"`
	Timeout  Duration `json:"timeout"`
}

// Config is the top-level configuration.
type Config struct {
	Providers map[string]ProviderConfig `json:"providers"`
	Agents    map[string]AgentConfig    `json:"agents"`
	Workflows map[string]WorkflowConfig `json:"workflows"`

	Scheduler SchedulerConfig `json:"scheduler"`
	Retry     RetryConfig     `json:"retry"`
	Breaker   BreakerConfig   `json:"breaker"`
	Health    HealthConfig    `json:"health"`
	LogLevel  string          `json:"log_level" env:"AGENTFLOW_LOG_LEVEL"`

	// APIKey is only ever read from the environment.
	APIKey string `json:"-" env:"ANTHROPIC_API_KEY"`
}

// Duration is a time.Duration that reads and writes as a string like "90s".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// AgentCapabilities returns the roles an agent serves.
func (a AgentConfig) AgentCapabilities(name string) []string {
	if len(a.Capabilities) > 0 {
		return a.Capabilities
	}
	return []string{name}
}
