package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/agentflow/internal/config"
)

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	configPath string // Project config file; defaults to .agentflow/config.json
	logLevel   string // Overrides log_level from config
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "agentflow",
		Short: "Run dependency-ordered task graphs across AI agents",
		Long: `agentflow schedules a graph of tasks onto a pool of agents.

Tasks declare the role they need, a priority and the tasks they depend on.
Ready tasks are dispatched highest priority first, up to the configured
concurrency, onto healthy agents that serve the role and have spare load.
A failed task blocks everything downstream of it; independent branches
keep running.

Agents and their providers (claude, codex, goose, command, anthropic, echo)
are configured in ~/.agentflow/config.json and .agentflow/config.json.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "Project config file (default .agentflow/config.json)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config)")

	root.AddCommand(newInitCmd(g))
	root.AddCommand(newRunCmd(g))
	root.AddCommand(newValidateCmd(g))
	root.AddCommand(newAgentsCmd(g))
	return root
}

// loadConfig reads the layered configuration, applies environment and flag
// overrides, and validates the result.
func (g *globalOptions) loadConfig() (*config.Config, error) {
	globalPath, err := config.GlobalPath()
	if err != nil {
		return nil, err
	}
	projectPath := g.configPath
	if projectPath == "" {
		projectPath = config.ProjectPath()
	}

	cfg, err := config.Load(globalPath, projectPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
