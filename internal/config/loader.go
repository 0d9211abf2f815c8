package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Merge global config if exists
	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Merge project config if exists (highest precedence)
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// GlobalPath returns ~/.agentflow/config.json.
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".agentflow", "config.json"), nil
}

// ProjectPath returns .agentflow/config.json relative to the working directory.
func ProjectPath() string {
	return filepath.Join(".agentflow", "config.json")
}

// LoadDefault loads configuration from conventional paths and applies
// environment overrides.
// Global: ~/.agentflow/config.json
// Project: .agentflow/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	globalPath, err := GlobalPath()
	if err != nil {
		return nil, err
	}

	cfg, err := Load(globalPath, ProjectPath())
	if err != nil {
		return nil, err
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeConfigFile reads a JSON config file and merges it into the base config.
// Map entries replace entries with the same key; sections are overlaid field
// by field, so a file may set only scheduler.concurrency.
// Missing files are silently skipped. Malformed JSON returns an error.
func mergeConfigFile(base *Config, path string) error {
	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Missing file is not an error
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	// Decode over a copy of the scalar sections, with empty maps so only the
	// file's own entries come back.
	loaded := *base
	loaded.Providers = nil
	loaded.Agents = nil
	loaded.Workflows = nil
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	for key, provider := range loaded.Providers {
		base.Providers[key] = provider
	}
	for key, agent := range loaded.Agents {
		base.Agents[key] = agent
	}
	for key, workflow := range loaded.Workflows {
		base.Workflows[key] = workflow
	}

	base.Scheduler = loaded.Scheduler
	base.Retry = loaded.Retry
	base.Breaker = loaded.Breaker
	base.Health = loaded.Health
	base.LogLevel = loaded.LogLevel

	return nil
}
