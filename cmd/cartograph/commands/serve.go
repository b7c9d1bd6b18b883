package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/moorhen/cartograph/internal/adapter"
	"github.com/moorhen/cartograph/internal/config"
	"github.com/moorhen/cartograph/internal/demo"
	"github.com/moorhen/cartograph/internal/engine"
	"github.com/moorhen/cartograph/internal/governor"
	"github.com/moorhen/cartograph/internal/iql"
	"github.com/moorhen/cartograph/internal/lifecycle"
	"github.com/moorhen/cartograph/internal/logging"
	"github.com/moorhen/cartograph/internal/mcp"
	"github.com/moorhen/cartograph/internal/metrics"
	"github.com/moorhen/cartograph/internal/monitor"
	"github.com/moorhen/cartograph/internal/reconciler"
	"github.com/moorhen/cartograph/internal/temporal"
	"github.com/moorhen/cartograph/internal/tracing"
)

var (
	demoEnabled  bool
	stdioEnabled bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cartograph server",
	Long: `Start the cartograph server: periodic discovery into the knowledge
graph, alert monitoring, plan reconciliation, change governance and the
MCP tool endpoint.`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&demoEnabled, "demo", false,
		"Seed scripted demo adapters so the server runs without cloud credentials")
	serveCmd.Flags().BoolVar(&stdioEnabled, "stdio", false,
		"Serve MCP tools on stdio alongside the HTTP endpoints")
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	logger := logging.GetLogger("serve")
	logger.Info("Starting cartograph v%s", Version)

	ctx := context.Background()

	st, closeStore, err := openStore(ctx, cfg)
	HandleError(err, "Failed to open graph store")
	logger.Info("Graph store opened: backend=%s", cfg.Storage.Backend)

	mets := metrics.Default()
	eng := engine.New(st, engine.Options{})

	executor, err := iql.NewCachedExecutor(st, 256, 5*time.Minute)
	HandleError(err, "Failed to create query executor")
	eng.OnSyncComplete(executor.InvalidateCache)

	var eventSources []adapter.EventSource
	if demoEnabled {
		fixtures := demo.Install(eng)
		eventSources = append(eventSources, fixtures.Events)
		logger.Info("Demo topology installed: providers=aws,gcp")
	}

	ts := temporal.New(st)
	gov := governor.New(st, eng, governor.Options{
		PendingTTL: cfg.Governor.PendingTTL,
		Metrics:    mets,
	})

	dispatchers := []monitor.Dispatcher{monitor.NewConsoleDispatcher()}
	if cfg.Monitor.WebhookURL != "" {
		dispatchers = append(dispatchers, monitor.NewWebhookDispatcher(cfg.Monitor.WebhookURL))
	}
	mon := monitor.New(eng, monitor.Options{
		Interval:          cfg.Monitor.Interval,
		EventPollInterval: cfg.Monitor.EventPollInterval,
		AlertCooldown:     cfg.Monitor.AlertCooldown,
		MaxAlertsPerCycle: cfg.Monitor.MaxAlertsPerCycle,
		Dispatchers:       dispatchers,
		EventSources:      eventSources,
		Metrics:           mets,
	})

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
			Interval:         cfg.Reconciler.Interval,
			Metrics:          mets,
		})
		logger.Info("Reconciler enabled: plan=%s resources=%d", cfg.Reconciler.PlanPath, len(plan.Resources))
	}

	manager := lifecycle.NewManager()

	storeComponent := &lifecycle.FuncComponent{
		ComponentName: "Graph Store",
		StopFunc:      func(ctx context.Context) error { return closeStore() },
	}
	HandleError(manager.Register(storeComponent), "Failed to register graph store")

	if cfg.Tracing.Enabled {
		provider, err := tracing.NewProvider(tracing.Config{
			Enabled:   true,
			Endpoint:  cfg.Tracing.Endpoint,
			TLSCAPath: cfg.Tracing.TLSCAPath,
			Version:   Version,
		})
		if err != nil {
			logger.Warn("Failed to initialize tracing (continuing without tracing): %v", err)
		} else {
			HandleError(manager.Register(provider), "Failed to register tracing provider")
		}
	}

	govComponent := &lifecycle.FuncComponent{
		ComponentName: "Governor",
		StartFunc:     func(ctx context.Context) error { gov.Start(ctx); return nil },
		StopFunc:      func(ctx context.Context) error { gov.Stop(); return nil },
	}
	HandleError(manager.Register(govComponent, storeComponent), "Failed to register governor")

	if rec != nil {
		recComponent := &lifecycle.FuncComponent{
			ComponentName: "Reconciler",
			StartFunc:     func(ctx context.Context) error { rec.Start(ctx, plan, execution); return nil },
			StopFunc:      func(ctx context.Context) error { rec.Stop(); return nil },
		}
		HandleError(manager.Register(recComponent, govComponent), "Failed to register reconciler")
	}

	monComponent := &lifecycle.FuncComponent{
		ComponentName: "Monitor",
		StartFunc:     func(ctx context.Context) error { mon.Start(ctx); return nil },
		StopFunc:      func(ctx context.Context) error { mon.Stop(); return nil },
	}
	HandleError(manager.Register(monComponent, storeComponent), "Failed to register monitor")

	if cfg.Monitor.RulesPath != "" {
		registerRulesWatcher(manager, monComponent, mon, cfg, logger)
	}

	mcpServer := mcp.NewServer(mcp.Options{
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

	apiComponent := newAPIComponent(cfg.APIPort)
	HandleError(manager.Register(apiComponent, storeComponent), "Failed to register API server")

	HandleError(manager.Start(ctx), "Failed to start components")
	logger.Info("Cartograph running: api=:%d interval=%s backend=%s tools=%d",
		cfg.APIPort, cfg.Monitor.Interval, cfg.Storage.Backend, len(mcpServer.ToolNames()))

	if stdioEnabled {
		go func() {
			if err := mcpServer.ServeStdio(); err != nil {
				logger.Error("MCP stdio transport exited: %v", err)
			}
		}()
		logger.Info("MCP stdio transport enabled")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown signal received")

	if err := manager.Stop(context.Background()); err != nil {
		logger.ErrorWithErr("Shutdown finished with errors", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

// registerRulesWatcher creates the rule-toggle file if missing and hot-applies
// its toggles to the monitor on every change.
func registerRulesWatcher(manager *lifecycle.Manager, monComponent lifecycle.Component, mon *monitor.Monitor, cfg *config.Config, logger *logging.Logger) {
	path := cfg.Monitor.RulesPath
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("Creating default alert-rule file: %s", path)
		HandleError(config.WriteRulesFile(path, &config.RulesFile{SchemaVersion: config.RulesSchemaVersion}),
			"Failed to create alert-rule file")
	}

	watcher, err := config.NewRulesWatcher(config.RulesWatcherConfig{FilePath: path},
		func(rules *config.RulesFile) error {
			for _, toggle := range rules.Rules {
				if !mon.SetRuleEnabled(toggle.ID, toggle.Enabled) {
					logger.Warn("Unknown alert rule %q in %s", toggle.ID, path)
				}
			}
			return nil
		})
	HandleError(err, "Failed to create alert-rule watcher")

	component := &lifecycle.FuncComponent{
		ComponentName: "Alert Rule Watcher",
		StartFunc:     watcher.Start,
		StopFunc:      func(ctx context.Context) error { return watcher.Stop() },
	}
	HandleError(manager.Register(component, monComponent), "Failed to register alert-rule watcher")
}

// newAPIComponent serves /metrics and /healthz.
func newAPIComponent(port int) lifecycle.Component {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	logger := logging.GetLogger("api")

	return &lifecycle.FuncComponent{
		ComponentName: "API Server",
		StartFunc: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("API server failed: %v", err)
				}
			}()
			return nil
		},
		StopFunc: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	}
}
