package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/moorhen/cartograph/internal/adapter"
	"github.com/moorhen/cartograph/internal/demo"
	"github.com/moorhen/cartograph/internal/engine"
	"github.com/moorhen/cartograph/internal/governor"
	"github.com/moorhen/cartograph/internal/iql"
	"github.com/moorhen/cartograph/internal/logging"
	"github.com/moorhen/cartograph/internal/mcp"
	"github.com/moorhen/cartograph/internal/monitor"
	"github.com/moorhen/cartograph/internal/reconciler"
	"github.com/moorhen/cartograph/internal/temporal"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server on stdio",
	Long: `Start a Model Context Protocol server that exposes the knowledge
graph, analysis, governance and reconciliation tools on stdio, for
subprocess-based MCP clients.

Background loops are not started in this mode; sync and reconcile cycles
run on demand through the run_monitor_cycle and reconcile_now tools.`,
	Run: runMCP,
}

func init() {
	mcpCmd.Flags().BoolVar(&demoEnabled, "demo", false,
		"Seed scripted demo adapters so the tools run without cloud credentials")
}

func runMCP(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	logger := logging.GetLogger("mcp")
	logger.Info("Starting cartograph MCP server v%s (transport: stdio)", Version)

	ctx := context.Background()

	st, closeStore, err := openStore(ctx, cfg)
	HandleError(err, "Failed to open graph store")
	defer closeStore()

	eng := engine.New(st, engine.Options{})

	executor, err := iql.NewCachedExecutor(st, 256, 5*time.Minute)
	HandleError(err, "Failed to create query executor")
	eng.OnSyncComplete(executor.InvalidateCache)

	var eventSources []adapter.EventSource
	if demoEnabled {
		fixtures := demo.Install(eng)
		eventSources = append(eventSources, fixtures.Events)
		logger.Info("Demo topology installed")
	}

	mon := monitor.New(eng, monitor.Options{
		Interval:          cfg.Monitor.Interval,
		EventPollInterval: cfg.Monitor.EventPollInterval,
		AlertCooldown:     cfg.Monitor.AlertCooldown,
		MaxAlertsPerCycle: cfg.Monitor.MaxAlertsPerCycle,
		EventSources:      eventSources,
	})

	ts := temporal.New(st)
	gov := governor.New(st, eng, governor.Options{PendingTTL: cfg.Governor.PendingTTL})

	var rec *reconciler.Reconciler
	var plan *reconciler.Plan
	var execution *reconciler.Execution
	if cfg.Reconciler.PlanPath != "" {
		plan, err = reconciler.LoadPlan(cfg.Reconciler.PlanPath)
		HandleError(err, "Failed to load reconciliation plan")
		execution, err = reconciler.LoadExecution(cfg.Reconciler.ExecutionPath)
		HandleError(err, "Failed to load execution record")
		rec = reconciler.New(eng, gov, ts, reconciler.Options{
			AutoRemediate:    cfg.Reconciler.AutoRemediate,
			CostThresholdPct: cfg.Reconciler.CostThresholdPct,
		})
	}

	server := mcp.NewServer(mcp.Options{
		Engine:     eng,
		Executor:   executor,
		Temporal:   ts,
		Governor:   gov,
		Reconciler: rec,
		Monitor:    mon,
		Plan:       plan,
		Execution:  execution,
		Version:    Version,
	})

	logger.Info("MCP server ready: tools=%d", len(server.ToolNames()))
	if err := server.ServeStdio(); err != nil {
		logger.Fatal("MCP stdio transport failed: %v", err)
	}
}
