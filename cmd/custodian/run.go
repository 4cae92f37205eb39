package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"custodian-hq/custodian/pkg/actions"
	actionstore "custodian-hq/custodian/pkg/actions/store"
	"custodian-hq/custodian/pkg/api"
	"custodian-hq/custodian/pkg/catalog"
	"custodian-hq/custodian/pkg/catalog/playstats"
	"custodian-hq/custodian/pkg/catalog/servarr"
	"custodian-hq/custodian/pkg/cli"
	"custodian-hq/custodian/pkg/config"
	"custodian-hq/custodian/pkg/executor"
	"custodian-hq/custodian/pkg/planner"
	"custodian-hq/custodian/pkg/rules"
	"custodian-hq/custodian/pkg/rules/seed"
	rulestore "custodian-hq/custodian/pkg/rules/store"
	"custodian-hq/custodian/pkg/scheduler"
	"custodian-hq/custodian/pkg/telemetry/logging"
	"custodian-hq/custodian/pkg/telemetry/metrics"
	"custodian-hq/custodian/pkg/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the custodian server",
	Long: `Start the custodian server with the specified configuration.

The server loads rules, schedules recurring evaluation passes against
the configured media services, executes eligible pending actions, and
serves the management API.

Examples:
  # Start with default config
  custodian run

  # Start with custom config
  custodian run --config /etc/custodian/config.yaml

  # Override listen address
  custodian run --listen 0.0.0.0:8686

  # Validate config without starting the server
  custodian run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.New(&cfg.Telemetry.Logging, os.Stdout)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	fmt.Printf("Custodian v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)
	fmt.Println("✓ Configuration loaded")

	// Stores
	ruleStore, actionStore, err := openStores(&cfg.Storage)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer ruleStore.Close()
	defer actionStore.Close()
	fmt.Printf("✓ Storage initialized (%s)\n", cfg.Storage.Backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Catalog gateway
	gateway, err := buildGateway(cfg, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Printf("✓ Media services configured (%d instances)\n", len(cfg.Services))

	// Telemetry
	var collector *metrics.Collector
	if cfg.Telemetry.Metrics.Enabled {
		collector = metrics.NewCollector(prometheus.NewRegistry())
	}

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Telemetry.Tracing.Enabled,
		Endpoint:       cfg.Telemetry.Tracing.Endpoint,
		Insecure:       cfg.Telemetry.Tracing.Insecure,
		SampleRatio:    cfg.Telemetry.Tracing.SampleRatio,
		ServiceVersion: Version,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			slog.Error("trace shutdown failed", "error", err)
		}
	}()
	gateway = gateway.WithTracer(tracer)

	// Rule seeding
	seeder := seed.NewSeeder(ruleStore, logger)
	if cfg.Rules.SeedPath != "" {
		created, updated, err := seeder.Apply(ctx, cfg.Rules.SeedPath)
		if err != nil {
			return cli.NewCommandError("run", fmt.Errorf("rule seeding failed: %w", err))
		}
		fmt.Printf("✓ Rules seeded (%d created, %d updated)\n", created, updated)
	}

	// Pass pipeline
	manager := actions.NewManager(actionStore, logger)
	exec := executor.New(gateway, actionStore, logger).WithMetrics(collector)
	pipeline := scheduler.NewPipeline(planner.New(gateway, logger), manager, exec, logger).
		WithMetrics(collector).
		WithTracer(tracer)

	sched := scheduler.New(ruleStore, pipeline, logger)
	if err := sched.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	defer sched.Stop()
	fmt.Println("✓ Scheduler started")

	// Seed file watching
	if cfg.Rules.SeedPath != "" && cfg.Rules.Watch {
		watcher, err := seed.NewWatcher(seeder, cfg.Rules.SeedPath, logger, func() {
			if err := sched.Refresh(ctx); err != nil {
				slog.Error("schedule refresh after reseed failed", "error", err)
			}
		})
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		go func() {
			if err := watcher.Watch(ctx); err != nil {
				slog.Error("seed watcher terminated", "error", err)
			}
		}()
		defer watcher.Stop()
	}

	// Management API
	deps := api.Deps{
		Rules:       ruleStore,
		Manager:     manager,
		Actions:     actionStore,
		Runner:      sched,
		DryRun:      pipeline,
		Gateway:     gateway,
		MetricsPath: cfg.Telemetry.Metrics.Path,
	}
	if collector != nil {
		deps.Metrics = collector.Handler()
	}
	srv := api.NewServer(&cfg.Server, deps, logger)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	fmt.Println()
	fmt.Printf("✓ Server listening on %s\n", cfg.Server.ListenAddress)
	fmt.Printf("✓ Health endpoint: http://%s/health\n", cfg.Server.ListenAddress)
	if cfg.Telemetry.Metrics.Enabled {
		fmt.Printf("✓ Metrics endpoint: http://%s%s\n", cfg.Server.ListenAddress, cfg.Telemetry.Metrics.Path)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	sigChan := cli.WaitForShutdown()

	select {
	case err := <-errChan:
		return cli.NewCommandError("run", err)
	case sig := <-sigChan:
		fmt.Printf("\nReceived signal %s, shutting down gracefully...\n", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown failed", "error", err)
			return cli.NewCommandError("run", err)
		}

		fmt.Println("✓ Server stopped")
		return nil
	}
}

func openStores(cfg *config.StorageConfig) (rulestore.Store, actions.Store, error) {
	switch cfg.Backend {
	case "memory":
		return rulestore.NewMemoryStore(), actionstore.NewMemoryStore(), nil
	case "sqlite":
		rs, err := rulestore.NewSQLiteStoreWithConfig(rulestore.SQLiteStoreConfig{
			DBPath:      cfg.RulesPath,
			BusyTimeout: cfg.BusyTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open rule store: %w", err)
		}
		as, err := actionstore.NewSQLiteStoreWithConfig(actionstore.SQLiteStoreConfig{
			DBPath:      cfg.ActionsPath,
			BusyTimeout: cfg.BusyTimeout,
		})
		if err != nil {
			rs.Close()
			return nil, nil, fmt.Errorf("failed to open action store: %w", err)
		}
		return rs, as, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

func buildGateway(cfg *config.Config, logger *slog.Logger) (*catalog.Service, error) {
	clients := make(map[string]*servarr.Client, len(cfg.Services))
	defaults := make(map[rules.MediaType]string)

	for _, svc := range cfg.Services {
		clients[svc.ID] = servarr.New(servarr.Config{
			ServiceID: svc.ID,
			BaseURL:   svc.BaseURL,
			APIKey:    svc.APIKey,
			Timeout:   svc.Timeout,
		})

		for _, mt := range serviceMediaTypes(svc.Type) {
			if svc.Default || defaults[mt] == "" {
				defaults[mt] = svc.ID
			}
		}
	}

	var stats *playstats.Client
	if cfg.Playstats.Enabled {
		stats = playstats.New(playstats.Config{
			BaseURL: cfg.Playstats.BaseURL,
			Token:   cfg.Playstats.Token,
			Timeout: cfg.Playstats.Timeout,
		})
	}

	return catalog.NewService(clients, defaults, stats, logger), nil
}

func serviceMediaTypes(serviceType string) []rules.MediaType {
	switch serviceType {
	case "radarr":
		return []rules.MediaType{rules.MediaTypeMovie}
	case "sonarr":
		return []rules.MediaType{rules.MediaTypeTvSeries, rules.MediaTypeEpisode}
	default:
		return nil
	}
}
