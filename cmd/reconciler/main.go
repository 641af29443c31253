/*
main.go - Application entry point

PURPOSE:
  Command-line front end for the attribution engine. Starts the HTTP server,
  runs a one-off reconciliation, or prints reconciled documents.

COMMANDS:
  serve   HTTP API, /metrics and /healthz, with graceful shutdown
  run     One reconciliation run (--since YYYY-MM-DD, empty = full history)
  show    Print reconciled documents (--date, optional --to)

GLOBAL FLAGS:
  --config     YAML config file (see config/config.go)
  --db         SQLite database path, ":memory:" for in-memory
  --lookback   Lookback window in days
  --log-level  debug, info, warn, error

  Flags override the environment, which overrides the config file.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Serve with a file database
  ./reconciler serve --db=./data/recon.db --port=3000

  # Recompute everything touched by data that changed on Jan 20
  ./reconciler run --since=2025-01-20

  # Inspect a week of documents
  ./reconciler show --date=2025-01-01 --to=2025-01-07

SEE ALSO:
  - api/server.go: Router configuration
  - api/runner.go: Serialized runs
  - config/config.go: Settings and precedence
*/
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/attribution-engine/config"
	"github.com/warp/attribution-engine/reconcile"
	"github.com/warp/attribution-engine/store/sqlite"
)

var Version = "dev"

var (
	configPath string
	dbPath     string
	lookback   int
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "reconciler",
		Short:         "Reconcile ad-attributed sales against actual sales",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().IntVar(&lookback, "lookback", reconcile.DefaultLookbackDays, "lookback window in days")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(showCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is the wiring shared by every command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *sqlite.Store
	engine *reconcile.Engine
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = dbPath
	}
	if flags.Changed("lookback") {
		cfg.LookbackDays = lookback
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	engine := reconcile.NewEngine(store, store, store)
	engine.LookbackDays = cfg.LookbackDays
	engine.MoneyPlaces = cfg.MoneyPlaces
	engine.Logger = logger

	return &app{cfg: cfg, logger: logger, store: store, engine: engine}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
