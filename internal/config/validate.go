package config

import (
	"fmt"
	"sort"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var cliProviders = map[string]bool{
	ProviderClaude:  true,
	ProviderCodex:   true,
	ProviderGoose:   true,
	ProviderCommand: true,
}

// Validate checks the configuration and returns the first problem found.
// Map entries are checked in key order so the result is deterministic.
func (c *Config) Validate() error {
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler concurrency must be at least 1, got %d", c.Scheduler.Concurrency)
	}
	if c.Scheduler.DefaultTimeout < 0 || c.Scheduler.IdleTimeout < 0 {
		return fmt.Errorf("scheduler timeouts must not be negative")
	}
	if c.Health.Interval < 0 || c.Health.Timeout < 0 {
		return fmt.Errorf("health check durations must not be negative")
	}

	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	for _, name := range sortedKeys(c.Providers) {
		p := c.Providers[name]
		switch {
		case cliProviders[p.Type]:
			if p.Type == ProviderCommand && p.Command == "" {
				return fmt.Errorf("provider %q: command is required", name)
			}
		case p.Type == ProviderAnthropic, p.Type == ProviderEcho:
		default:
			return fmt.Errorf("provider %q: unknown type %q", name, p.Type)
		}
		if p.MaxTokens < 0 {
			return fmt.Errorf("provider %q: max_tokens must not be negative", name)
		}
	}

	roles := make(map[string]bool)
	for _, name := range sortedKeys(c.Agents) {
		a := c.Agents[name]
		if _, ok := c.Providers[a.Provider]; !ok {
			return fmt.Errorf("agent %q: unknown provider %q", name, a.Provider)
		}
		if a.MaxLoad < 0 {
			return fmt.Errorf("agent %q: max_load must not be negative", name)
		}
		for _, role := range a.AgentCapabilities(name) {
			if role == "" {
				return fmt.Errorf("agent %q: empty capability", name)
			}
			roles[role] = true
		}
	}

	for _, name := range sortedKeys(c.Workflows) {
		w := c.Workflows[name]
		if len(w.Steps) == 0 {
			return fmt.Errorf("workflow %q has no steps", name)
		}
		for i, step := range w.Steps {
			if !roles[step.Agent] {
				return fmt.Errorf("workflow %q step %d: no agent serves role %q", name, i, step.Agent)
			}
		}
	}

	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
