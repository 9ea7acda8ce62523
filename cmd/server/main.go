/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the bakery scheduler server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, bakery.yaml, BAKERY_* env, flags)
  2. Initialize SQLite store and seed settings on first start
  3. Connect the event notifier (NATS when configured, log otherwise)
  4. Create capacity service, metrics and API handler
  5. Start the overbooking monitor
  6. Start server with graceful shutdown

COMMANDS:
  serve (default)  Run the HTTP API
  seed             Reset the database and load a demo scenario

FLAGS:
  --config   YAML config file (default: ./bakery.yaml if present)
  --port     HTTP server port (overrides config)
  --db       SQLite database path (overrides config)
             Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Stop the overbooking monitor
  4. Drain NATS and close the database
  5. Exit

EXAMPLES:
  # Run with file database
  ./bakery-scheduler --db=./data/bakery.db

  # Load a demo calendar, then serve it
  ./bakery-scheduler seed --db=./data/bakery.db --scenario=holiday-rush
  ./bakery-scheduler --db=./data/bakery.db

SEE ALSO:
  - api/server.go: Router configuration
  - config/loader.go: Configuration precedence
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/warp/bakery-scheduler/api"
	"github.com/warp/bakery-scheduler/capacity"
	"github.com/warp/bakery-scheduler/config"
	"github.com/warp/bakery-scheduler/events"
	"github.com/warp/bakery-scheduler/store/sqlite"
)

const appName = "bakery-scheduler"

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath string
	port       int
	dbPath     string
}

func rootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Bakery capacity scheduler and delivery-date allocator",
		Long: `Serves availability snapshots, checkout commits and the admin
calendar for a bakery whose daily production is limited by oven minutes.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), f)
		},
	}

	cmd.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().IntVar(&f.port, "port", 0, "HTTP server port")
	cmd.PersistentFlags().StringVar(&f.dbPath, "db", "", "SQLite database path")

	cmd.AddCommand(seedCmd(&f))
	return cmd
}

func seedCmd(f *flags) *cobra.Command {
	var scenario string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Reset the database and load a demo scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(f)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.handler.ApplyScenario(cmd.Context(), scenario); err != nil {
				return fmt.Errorf("seed %s: %w", scenario, err)
			}
			fmt.Printf("Loaded scenario %s into %s\n", scenario, a.cfg.Database.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&scenario, "scenario", "bakery-week", "Scenario id (bakery-week, holiday-rush)")
	return cmd
}

// app is the wired process.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *sqlite.Store
	publisher *events.NATSPublisher
	service   *capacity.Service
	metrics   *api.Metrics
	handler   *api.Handler
}

func setup(f *flags) (*app, error) {
	cfg, err := config.NewLoader(nil).Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.dbPath != "" {
		cfg.Database.Path = f.dbPath
	}

	logger := cfg.Log.NewLogger(os.Stderr).With(slog.String("app", appName))
	slog.SetDefault(logger)

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: store}

	if err := store.EnsureSettings(context.Background(), cfg.Scheduling.Settings()); err != nil {
		a.close()
		return nil, fmt.Errorf("seed settings: %w", err)
	}

	svc := capacity.NewService(store)
	svc.Location = cfg.Scheduling.Location()
	svc.LookaheadDays = cfg.Scheduling.LookaheadDays
	svc.Logger = logger

	if cfg.NATS.URL != "" {
		pub, err := events.Connect(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		a.publisher = pub
		svc.Notifier = pub
	} else {
		svc.Notifier = events.LogNotifier{Logger: logger}
	}

	a.service = svc
	a.metrics = api.NewMetrics()
	a.handler = api.NewHandler(svc, store, a.metrics, logger)
	return a, nil
}

func (a *app) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("NATS drain failed", slog.String("error", err.Error()))
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("database close failed", slog.String("error", err.Error()))
	}
}

func serve(ctx context.Context, f flags) error {
	a, err := setup(&f)
	if err != nil {
		return err
	}
	defer a.close()

	monitor := api.NewOverbookingMonitor(a.service, a.metrics, a.logger)
	monitor.Enabled = a.cfg.Monitor.Enabled
	monitor.CheckInterval = a.cfg.Monitor.Interval
	monitor.Start()
	defer monitor.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      api.NewRouter(a.handler, a.cfg.Server.AllowedOrigins),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("db", a.cfg.Database.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}
