package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name            string
		globalConfig    *Config
		projectConfig   *Config
		expectProviders int
		expectAgents    int
		expectWorkflows int
		checkAgent      string
		expectProvider  string
		checkModel      string
		expectModel     string
	}{
		{
			name:            "No config files - returns defaults",
			expectProviders: 5,
			expectAgents:    4,
			expectWorkflows: 1,
		},
		{
			name: "Global only - adds new agent",
			globalConfig: &Config{
				Agents: map[string]AgentConfig{
					"css-specialist": {
						Provider:     "goose",
						SystemPrompt: "You specialize in CSS styling.",
					},
				},
			},
			expectProviders: 5,
			expectAgents:    5, // 4 defaults + 1 new
			expectWorkflows: 1,
			checkAgent:      "css-specialist",
			expectProvider:  "goose",
		},
		{
			name: "Project only - overrides agent provider",
			projectConfig: &Config{
				Agents: map[string]AgentConfig{
					"coder": {
						Provider:     "codex",
						SystemPrompt: "You implement features using Codex.",
					},
				},
			},
			expectProviders: 5,
			expectAgents:    4,
			expectWorkflows: 1,
			checkAgent:      "coder",
			expectProvider:  "codex",
		},
		{
			name: "Project overrides global - project wins",
			globalConfig: &Config{
				Agents: map[string]AgentConfig{
					"coder": {Provider: "claude", Model: "model-x"},
				},
			},
			projectConfig: &Config{
				Agents: map[string]AgentConfig{
					"coder": {Provider: "codex", Model: "model-y"},
				},
			},
			expectProviders: 5,
			expectAgents:    4,
			expectWorkflows: 1,
			checkAgent:      "coder",
			expectProvider:  "codex",
			checkModel:      "coder",
			expectModel:     "model-y",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()

			globalPath := ""
			if tt.globalConfig != nil {
				globalPath = writeJSON(t, filepath.Join(tmpDir, "global.json"), tt.globalConfig)
			}
			projectPath := ""
			if tt.projectConfig != nil {
				projectPath = writeJSON(t, filepath.Join(tmpDir, "project.json"), tt.projectConfig)
			}

			cfg, err := Load(globalPath, projectPath)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got := len(cfg.Providers); got != tt.expectProviders {
				t.Errorf("providers count = %d, want %d", got, tt.expectProviders)
			}
			if got := len(cfg.Agents); got != tt.expectAgents {
				t.Errorf("agents count = %d, want %d", got, tt.expectAgents)
			}
			if got := len(cfg.Workflows); got != tt.expectWorkflows {
				t.Errorf("workflows count = %d, want %d", got, tt.expectWorkflows)
			}

			if tt.checkAgent != "" {
				agent, exists := cfg.Agents[tt.checkAgent]
				if !exists {
					t.Fatalf("expected agent %q not found", tt.checkAgent)
				}
				if agent.Provider != tt.expectProvider {
					t.Errorf("agent %q provider = %q, want %q", tt.checkAgent, agent.Provider, tt.expectProvider)
				}
			}
			if tt.checkModel != "" {
				if got := cfg.Agents[tt.checkModel].Model; got != tt.expectModel {
					t.Errorf("agent %q model = %q, want %q", tt.checkModel, got, tt.expectModel)
				}
			}
		})
	}
}

func TestLoad_PartialSectionOverlay(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "project.json")
	content := `{"scheduler": {"concurrency": 9}, "health": {"interval": "1m"}, "log_level": "debug"}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load("", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	defaults := DefaultConfig()
	if cfg.Scheduler.Concurrency != 9 {
		t.Errorf("concurrency = %d, want 9", cfg.Scheduler.Concurrency)
	}
	// Fields the file leaves out keep their defaults.
	if cfg.Scheduler.DefaultTimeout != defaults.Scheduler.DefaultTimeout {
		t.Errorf("default_timeout = %v, want %v", cfg.Scheduler.DefaultTimeout, defaults.Scheduler.DefaultTimeout)
	}
	if cfg.Health.Interval.Std() != time.Minute {
		t.Errorf("health interval = %v, want 1m", cfg.Health.Interval)
	}
	if cfg.Health.Timeout != defaults.Health.Timeout {
		t.Errorf("health timeout = %v, want %v", cfg.Health.Timeout, defaults.Health.Timeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", cfg.LogLevel)
	}
	if len(cfg.Agents) != len(defaults.Agents) {
		t.Errorf("agents count = %d, want %d", len(cfg.Agents), len(defaults.Agents))
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	tmpDir := t.TempDir()

	globalPath := filepath.Join(tmpDir, "global.json")
	if err := os.WriteFile(globalPath, []byte("{invalid json"), 0644); err != nil {
		t.Fatalf("writing malformed config: %v", err)
	}

	if _, err := Load(globalPath, ""); err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "project.json")
	if err := os.WriteFile(path, []byte(`{"scheduler": {"idle_timeout": "soon"}}`), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if _, err := Load("", path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoad_MissingFilesNotError(t *testing.T) {
	cfg, err := Load("/nonexistent/global.json", "/nonexistent/project.json")
	if err != nil {
		t.Fatalf("expected no error for missing files, got: %v", err)
	}

	if len(cfg.Providers) != 5 {
		t.Errorf("providers count = %d, want 5", len(cfg.Providers))
	}
	if len(cfg.Agents) != 4 {
		t.Errorf("agents count = %d, want 4", len(cfg.Agents))
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyEnvFrom(t *testing.T) {
	cfg := DefaultConfig()
	err := ApplyEnvFrom(cfg, map[string]string{
		"AGENTFLOW_CONCURRENCY":     "12",
		"AGENTFLOW_DEFAULT_TIMEOUT": "45s",
		"AGENTFLOW_HEALTH_INTERVAL": "2m",
		"AGENTFLOW_LOG_LEVEL":       "warn",
		"ANTHROPIC_API_KEY":         "sk-test",
	})
	if err != nil {
		t.Fatalf("ApplyEnvFrom: %v", err)
	}

	if cfg.Scheduler.Concurrency != 12 {
		t.Errorf("concurrency = %d, want 12", cfg.Scheduler.Concurrency)
	}
	if cfg.Scheduler.DefaultTimeout.Std() != 45*time.Second {
		t.Errorf("default timeout = %v, want 45s", cfg.Scheduler.DefaultTimeout)
	}
	if cfg.Health.Interval.Std() != 2*time.Minute {
		t.Errorf("health interval = %v, want 2m", cfg.Health.Interval)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log level = %q, want warn", cfg.LogLevel)
	}
	if cfg.APIKey != "sk-test" {
		t.Errorf("api key = %q, want sk-test", cfg.APIKey)
	}

	// Unset variables keep loaded values.
	if cfg.Scheduler.IdleTimeout != DefaultConfig().Scheduler.IdleTimeout {
		t.Errorf("idle timeout changed to %v", cfg.Scheduler.IdleTimeout)
	}
}

func TestApplyEnvFrom_InvalidValue(t *testing.T) {
	cfg := DefaultConfig()
	if err := ApplyEnvFrom(cfg, map[string]string{"AGENTFLOW_CONCURRENCY": "many"}); err == nil {
		t.Fatal("expected error for non-numeric concurrency")
	}
}

func writeJSON(t *testing.T, path string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling config: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}
