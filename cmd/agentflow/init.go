package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aristath/agentflow/internal/config"
)

const exampleTasks = `# Run with: agentflow run tasks.yaml
tasks:
  - id: build
    role: coder
    priority: 10
    payload: "Implement the feature described in README.md"
  - id: docs
    role: orchestrator
    payload: "Summarise the changes for the changelog"
    dependencies: [build]
`

func newInitCmd(g *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a starter project config and task file",
		Long: `Write .agentflow/config.json with the default providers, agents and
workflows, plus an example tasks.yaml. Existing files are left alone unless
--force is given.

Examples:
  agentflow init              # Initialize the current directory
  agentflow init ./myproject  # Initialize a specific directory
  agentflow init --force      # Overwrite an existing config`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			configPath := g.configPath
			if configPath == "" {
				configPath = filepath.Join(dir, config.ProjectPath())
			}
			return initProject(cmd.OutOrStdout(), configPath, filepath.Join(dir, "tasks.yaml"), force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")
	return cmd
}

func initProject(w io.Writer, configPath, tasksPath string, force bool) error {
	if exists(configPath) && !force {
		printStatus(w, colorBlocked, "⚠", fmt.Sprintf("%s already exists (use --force to overwrite)", configPath))
	} else {
		if err := config.Save(config.DefaultConfig(), configPath); err != nil {
			return err
		}
		printStatus(w, colorOK, "✓", "wrote "+configPath)
	}

	if exists(tasksPath) && !force {
		printStatus(w, colorBlocked, "⚠", fmt.Sprintf("%s already exists", tasksPath))
		return nil
	}
	if err := os.WriteFile(tasksPath, []byte(exampleTasks), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", tasksPath, err)
	}
	printStatus(w, colorOK, "✓", "wrote "+tasksPath)
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
