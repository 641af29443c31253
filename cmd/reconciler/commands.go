package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/warp/attribution-engine/api"
	"github.com/warp/attribution-engine/ledger"
	"github.com/warp/attribution-engine/metrics"
)

// =============================================================================
// SERVE
// =============================================================================

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("port") {
				a.cfg.Port = port
			}
			return serve(a)
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "HTTP server port (overrides config)")
	return cmd
}

func serve(a *app) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := metrics.NewCollector(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	a.engine.Observer = collector

	handler := api.NewHandler(a.store, a.engine, a.logger)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: a.cfg.AllowedOrigins,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting",
			slog.Int("port", a.cfg.Port),
			slog.String("db", a.cfg.DBPath),
			slog.Int("lookback_days", a.cfg.LookbackDays),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	a.logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.logger.Info("server stopped")
	return nil
}

// =============================================================================
// RUN
// =============================================================================

func runCmd() *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reconciliation and print the result",
		Long: `Run one reconciliation.

--since is the earliest date whose feed data changed. Documents from
(since - lookback) onward are recomputed. Without --since the whole
history is recomputed from the earliest raw date.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var earliest ledger.Date
			if since != "" {
				d, err := ledger.ParseDate(since)
				if err != nil {
					return fmt.Errorf("--since: %w", err)
				}
				earliest = d
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			runner := api.NewRunner(a.store, a.engine, a.logger)
			run, result, err := runner.Run(cmd.Context(), earliest, time.Now())
			if err != nil {
				return err
			}

			return printJSON(cmd, map[string]any{
				"run_id": run.ID,
				"status": run.Status,
				"result": result,
			})
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "earliest changed date (YYYY-MM-DD)")
	return cmd
}

// =============================================================================
// SHOW
// =============================================================================

func showCmd() *cobra.Command {
	var date, to string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print reconciled documents as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := ledger.ParseDate(date)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}
			until := from
			if to != "" {
				if until, err = ledger.ParseDate(to); err != nil {
					return fmt.Errorf("--to: %w", err)
				}
			}
			if from.After(until) {
				return fmt.Errorf("--date %s is after --to %s", from, until)
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			docs, err := a.store.ListReconciledDocuments(cmd.Context(), from, until)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				return fmt.Errorf("no reconciled documents between %s and %s", from, until)
			}
			return printJSON(cmd, docs)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "document date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last date of a range (YYYY-MM-DD)")
	cmd.MarkFlagRequired("date")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
