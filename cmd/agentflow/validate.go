package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/agentflow/internal/config"
	"github.com/aristath/agentflow/internal/scheduler"
)

func newValidateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <tasks.yaml>",
		Short: "Check a task graph without running it",
		Long: `Check that the task file parses, that task IDs are unique, that every
dependency exists and that the graph has no cycles. Prints the order tasks
would become eligible in and warns about roles no configured agent serves.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			return validateTasks(cmd.OutOrStdout(), cfg, args[0])
		},
	}
}

func validateTasks(w io.Writer, cfg *config.Config, path string) error {
	specs, err := config.LoadTasks(path)
	if err != nil {
		return err
	}

	graph := scheduler.NewGraph()
	for _, spec := range specs {
		if err := graph.AddTask(scheduler.NewTask(spec)); err != nil {
			return fmt.Errorf("failed to add task %q: %w", spec.ID, err)
		}
	}
	order, err := graph.Validate()
	if err != nil {
		return fmt.Errorf("invalid task graph: %w", err)
	}

	served := make(map[string]bool)
	for name, agent := range cfg.Agents {
		for _, role := range agent.AgentCapabilities(name) {
			served[role] = true
		}
	}

	printStatus(w, colorOK, "✓", fmt.Sprintf("%d tasks, no cycles", len(order)))
	fmt.Fprintf(w, "  order: %s\n", strings.Join(order, " → "))

	for _, spec := range specs {
		if spec.Role != "" && !served[spec.Role] {
			printStatus(w, colorBlocked, "⚠", fmt.Sprintf("task %q needs role %q, which no agent serves", spec.ID, spec.Role))
		}
	}
	return nil
}
