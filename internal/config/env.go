package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// ApplyEnv overlays environment variables onto cfg. Unset variables leave
// the loaded values untouched.
//
//	AGENTFLOW_CONCURRENCY      scheduler.concurrency
//	AGENTFLOW_DEFAULT_TIMEOUT  scheduler.default_timeout
//	AGENTFLOW_IDLE_TIMEOUT     scheduler.idle_timeout
//	AGENTFLOW_HEALTH_INTERVAL  health.interval
//	AGENTFLOW_LOG_LEVEL        log_level
//	ANTHROPIC_API_KEY          key for anthropic providers
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// ApplyEnvFrom is ApplyEnv reading from vars instead of the process environment.
func ApplyEnvFrom(cfg *Config, vars map[string]string) error {
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}
