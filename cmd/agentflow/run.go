package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aristath/agentflow/internal/backend"
	"github.com/aristath/agentflow/internal/config"
	"github.com/aristath/agentflow/internal/events"
	"github.com/aristath/agentflow/internal/metrics"
	"github.com/aristath/agentflow/internal/orchestrator"
	"github.com/aristath/agentflow/internal/session"
	"github.com/aristath/agentflow/internal/tui"
)

// runOptions are the flags of the run command.
type runOptions struct {
	concurrency int
	timeout     time.Duration
	tui         bool
	metricsAddr string
	logFile     string
	dryRun      bool
}

func newRunCmd(g *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <tasks.yaml>",
		Short: "Run a task graph",
		Long: `Run every task in the file on the configured agents.

The file holds a list of tasks, or a mapping with a "tasks" key:

  tasks:
    - id: build
      role: coder
      priority: 10
      payload: "Implement the parser"
    - id: review
      role: reviewer
      dependencies: [build]
      timeout: 5m
      max_retries: 2

The exit status is 0 when every task completed and 1 otherwise.
Interrupting the run cancels in-flight tasks and kills their processes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runTasks(ctx, cmd.OutOrStdout(), g, opts, args[0])
		},
	}

	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "Max tasks in flight (overrides scheduler.concurrency)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Cancel the whole run after this long (0 = no limit)")
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "Show the interactive dashboard")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "Write logs to this file instead of stderr")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Use the echo backend for every agent")
	return cmd
}

func runTasks(ctx context.Context, out io.Writer, g *globalOptions, opts *runOptions, path string) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if opts.concurrency > 0 {
		cfg.Scheduler.Concurrency = opts.concurrency
	}

	specs, err := config.LoadTasks(path)
	if err != nil {
		return err
	}

	logger, err := runLogger(cfg.LogLevel, opts)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	bus := events.NewBus(events.BusConfig{Logger: logger})
	defer bus.Close()

	// Metrics subscribe before agents register so the health gauge sees them.
	if opts.metricsAddr != "" {
		shutdown, err := serveMetrics(opts.metricsAddr, bus, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	pm := backend.NewProcessManager()
	orch, err := buildOrchestrator(cfg, bus, pm, logger, opts.dryRun)
	if err != nil {
		return err
	}

	health := orchestrator.NewHealthMonitor(orch, healthConfig(cfg), logger)
	health.CheckAll(ctx)
	health.Start(ctx)
	defer health.Stop()

	sess, err := session.New(specs, orch, session.Options{
		Concurrency:    cfg.Scheduler.Concurrency,
		DefaultTimeout: cfg.Scheduler.DefaultTimeout.Std(),
		IdleTimeout:    cfg.Scheduler.IdleTimeout.Std(),
		Workflows:      cfg.SchedulerWorkflows(),
		Bus:            bus,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	go func() {
		<-ctx.Done()
		if err := pm.KillAll(); err != nil {
			logger.Warn("error killing subprocesses", zap.Error(err))
		}
	}()

	var report *session.Report
	if opts.tui {
		report, err = runWithTUI(ctx, sess, bus)
	} else {
		report, err = sess.Run(ctx)
	}
	orch.Wait()

	if report != nil {
		printReport(out, report)
		printAgentStats(out, orch.Agents())
	}
	if err != nil && report == nil {
		return err
	}
	if report == nil || !report.Success() {
		return &exitError{code: 1}
	}
	return nil
}

// runLogger writes to the log file when given. The dashboard owns the
// terminal, so without a log file a TUI run logs nothing.
func runLogger(level string, opts *runOptions) (*zap.Logger, error) {
	if opts.logFile != "" {
		return newLogger(level, opts.logFile)
	}
	if opts.tui {
		return zap.NewNop(), nil
	}
	return newLogger(level, "stderr")
}

// runWithTUI runs the session behind the dashboard. Quitting the dashboard
// cancels a run that is still going.
func runWithTUI(ctx context.Context, sess *session.Session, bus *events.Bus) (*session.Report, error) {
	model, err := tui.New(bus, "agentflow "+sess.ID(), sess.Cancel)
	if err != nil {
		return nil, err
	}
	defer model.Close()

	type result struct {
		report *session.Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := sess.Run(ctx)
		done <- result{report, err}
	}()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		sess.Cancel()
		r := <-done
		return r.report, fmt.Errorf("dashboard: %w", err)
	}

	sess.Cancel()
	r := <-done
	return r.report, r.err
}

// serveMetrics starts the /metrics endpoint and returns a function that stops it.
func serveMetrics(addr string, bus *events.Bus, logger *zap.Logger) (func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector(reg)

	sub, err := collector.Attach(bus)
	if err != nil {
		return nil, fmt.Errorf("attaching metrics: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		sub.Unsubscribe()
	}, nil
}
