package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/fraudguard/internal/api"
	"github.com/opensource-finance/fraudguard/internal/bus"
	"github.com/opensource-finance/fraudguard/internal/cache"
	"github.com/opensource-finance/fraudguard/internal/config"
	"github.com/opensource-finance/fraudguard/internal/decision"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/metrics"
	"github.com/opensource-finance/fraudguard/internal/repository"
	"github.com/opensource-finance/fraudguard/internal/rules"
	"github.com/opensource-finance/fraudguard/internal/stats"
	"github.com/opensource-finance/fraudguard/internal/telemetry"
	"github.com/opensource-finance/fraudguard/internal/worker"
)

const shutdownTimeout = 10 * time.Second

var serveFlags struct {
	port     int
	noBanner bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the FraudGuard API server",
	Long: `Start the HTTP API with the backends selected by the configuration.

Configuration is read from the --config file (optional) and FRAUDGUARD_*
environment variables, on top of the defaults for FRAUDGUARD_TIER.

Examples:
  # Community tier: SQLite, in-memory cache, in-process event bus
  fraudguard serve

  # Pro tier: PostgreSQL, Redis, NATS
  FRAUDGUARD_TIER=pro fraudguard serve --config /etc/fraudguard/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&serveFlags.port, "port", "p", 0, "override server.port")
	serveCmd.Flags().BoolVar(&serveFlags.noBanner, "no-banner", false, "do not print the startup banner")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serveFlags.port != 0 {
		cfg.Server.Port = serveFlags.port
		if err := config.Validate(cfg); err != nil {
			return err
		}
	}

	slog.SetDefault(config.NewLogger(cfg.Logging, os.Stdout))
	slog.Info("starting fraudguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"backend", cfg.Engine.Backend,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	processOpts := []decision.Option{
		decision.WithEventBus(busImpl),
		decision.WithPersistDeclined(cfg.Engine.PersistDeclined),
	}
	var (
		metricsSrc api.MetricsSource
		engineOpts []rules.Option
	)
	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(cfg.Metrics)
		metricsSrc = collector
		engineOpts = append(engineOpts, rules.WithRecorder(collector))
		processOpts = append(processOpts, decision.WithRecorder(collector))
	}

	engine, err := rules.NewEngine(cfg.Engine.Backend, cfg.Engine.MaxWorkers, engineOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	defer engine.Close()

	if err := loadRulesFromRepository(ctx, repo, engine); err != nil {
		return err
	}
	slog.Info("rule engine initialized", "backend", engine.Backend(), "rules_count", engine.RulesCount())

	processor := decision.NewProcessor(engine, repo, processOpts...)

	bg := worker.NewWorker(busImpl, repo, engine, processor)
	if err := bg.Start(worker.Config{
		ReloadSchedule:      cfg.Engine.ReloadSchedule,
		ConsumeTransactions: cfg.EventBus.ConsumeTransactions,
	}); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Repo:       repo,
		Cache:      cacheImpl,
		Validation: cache.NewValidationCache(cacheImpl, cfg.Engine.ValidationCacheTTL),
		Bus:        busImpl,
		Engine:     engine,
		Processor:  processor,
		Stats:      stats.NewService(repo),
		Metrics:    metricsSrc,
		Version:    Version,

		ConsumeTransactions: cfg.EventBus.ConsumeTransactions,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("fraudguard is ready", "host", cfg.Server.Host, "port", cfg.Server.Port)
	if !serveFlags.noBanner {
		printBanner(cmd.OutOrStdout(), cfg, Version)
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}
	slog.Info("shutting down...")

	if err := bg.Stop(); err != nil {
		slog.Error("failed to stop worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("fraudguard shutdown complete")
	return serveErr
}

// loadRulesFromRepository loads the enabled rules into the engine. Rules
// are managed through the API, so an empty repository is not an error.
func loadRulesFromRepository(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	stored, err := repo.ListRules(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}
	if len(stored) == 0 {
		slog.Info("no rules in repository - configure via POST /fraud-rules")
		return nil
	}
	if err := engine.ReloadRules(stored); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	slog.Info("loaded rules from repository", "count", len(stored))
	return nil
}

func printBanner(w io.Writer, cfg *domain.Config, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  FRAUDGUARD")
	fmt.Fprintln(w, "  Rule-driven fraud screening")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Version:  %s\n", version)
	fmt.Fprintf(w, "  Tier:     %s\n", cfg.Tier)
	fmt.Fprintf(w, "  Engine:   %s\n", cfg.Engine.Backend)
	fmt.Fprintf(w, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Endpoints:")
	fmt.Fprintln(w, "    POST   /fraud-rules           - Create a rule")
	fmt.Fprintln(w, "    GET    /fraud-rules           - List enabled rules")
	fmt.Fprintln(w, "    PUT    /fraud-rules/{id}      - Replace a rule")
	fmt.Fprintln(w, "    DELETE /fraud-rules/{id}      - Disable a rule")
	fmt.Fprintln(w, "    POST   /fraud-rules/validate  - Check an expression")
	fmt.Fprintln(w, "    POST   /fraud-rules/reload    - Reload rules from the repository")
	fmt.Fprintln(w, "    POST   /users                 - Register a user")
	fmt.Fprintln(w, "    POST   /transactions          - Screen a transaction")
	fmt.Fprintln(w, "    POST   /transactions/batch    - Screen up to 500 transactions")
	fmt.Fprintln(w, "    GET    /stats/overview        - Decision statistics")
	fmt.Fprintln(w, "    GET    /stats/transactions/timeseries - Volume per hour, day or week")
	fmt.Fprintln(w, "    GET    /health                - Health check")
	if cfg.Metrics.Enabled {
		fmt.Fprintln(w, "    GET    /metrics               - Prometheus metrics")
	}
	fmt.Fprintln(w)
}
