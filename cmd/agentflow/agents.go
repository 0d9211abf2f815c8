package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aristath/agentflow/internal/backend"
	"github.com/aristath/agentflow/internal/config"
	"github.com/aristath/agentflow/internal/orchestrator"
)

func newAgentsCmd(g *globalOptions) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List configured agents",
		Long: `List every configured agent with its provider, model, roles and load
limit. With --check, run each agent's health check as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			return listAgents(cmd.Context(), cmd.OutOrStdout(), cfg, check)
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Run health checks")
	return cmd
}

func listAgents(ctx context.Context, w io.Writer, cfg *config.Config, check bool) error {
	orch, err := buildOrchestrator(cfg, nil, backend.NewProcessManager(), zap.NewNop(), false)
	if err != nil {
		return err
	}

	var health map[string]bool
	if check {
		health = orchestrator.NewHealthMonitor(orch, healthConfig(cfg), nil).CheckAll(ctx)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := "AGENT\tPROVIDER\tMODEL\tROLES\tMAX LOAD"
	if check {
		header += "\tHEALTH"
	}
	fmt.Fprintln(tw, header)

	for _, info := range orch.Agents() {
		agent := cfg.Agents[info.ID]
		provider := cfg.Providers[agent.Provider]
		model := agent.Model
		if model == "" {
			model = provider.Model
		}
		if model == "" {
			model = "-"
		}

		line := fmt.Sprintf("%s\t%s (%s)\t%s\t%s\t%d",
			info.ID, agent.Provider, provider.Type, model, strings.Join(info.Capabilities, ","), info.MaxLoad)
		if check {
			status := colorOK.Sprint("ok")
			if !health[info.ID] {
				status = colorFail.Sprint("unavailable")
			}
			line += "\t" + status
		}
		fmt.Fprintln(tw, line)
	}
	return tw.Flush()
}

// printAgentStats writes per-agent task counts for the agents that ran work.
func printAgentStats(w io.Writer, agents []orchestrator.AgentInfo) {
	var active []orchestrator.AgentInfo
	for _, info := range agents {
		if info.Finished() > 0 {
			active = append(active, info)
		}
	}
	if len(active) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tTASKS\tCOMPLETED\tFAILED\tSUCCESS\tAVG")
	for _, info := range active {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.0f%%\t%v\n",
			info.ID, info.Finished(), info.Completed, info.Failed,
			info.SuccessRate()*100, info.MeanDuration().Round(time.Millisecond))
	}
	_ = tw.Flush()
}
