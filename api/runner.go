/*
runner.go - Serialized reconciliation runs with audit records

PURPOSE:
  Wraps the engine so that at most one run executes per process, and every
  invocation leaves a row in reconciliation_runs (running -> completed,
  skipped or failed).

DESIGN:
  - TryLock on a mutex; a second caller gets ErrRunInProgress immediately
  - Run ids are UUIDv7, so they sort by creation time
  - The final status is written even when the request context was cancelled

USAGE:
  runner := NewRunner(store, engine, logger)
  run, result, err := runner.Run(ctx, ledger.Date{}, time.Now())

SEE ALSO:
  - handlers.go: RunReconciliation endpoint
  - cmd/reconciler: the run subcommand
  - reconcile/engine.go: Engine.Reconcile
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/attribution-engine/ledger"
	"github.com/warp/attribution-engine/reconcile"
	"github.com/warp/attribution-engine/store/sqlite"
)

// Run statuses stored in reconciliation_runs.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusSkipped   = "skipped"
	RunStatusFailed    = "failed"
)

// ErrRunInProgress is returned when another run holds the lock.
var ErrRunInProgress = errors.New("reconciliation already running")

// Runner serializes engine invocations and records them.
type Runner struct {
	Store  *sqlite.Store
	Engine *reconcile.Engine
	Logger *slog.Logger

	mu sync.Mutex
}

// NewRunner creates a runner around an engine backed by store.
func NewRunner(store *sqlite.Store, engine *reconcile.Engine, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{Store: store, Engine: engine, Logger: logger}
}

// Run executes one reconciliation. The returned record reflects the final
// status; err is the engine error for failed runs.
func (rn *Runner) Run(ctx context.Context, earliestChanged ledger.Date, now time.Time) (*sqlite.ReconciliationRun, *reconcile.Result, error) {
	if !rn.mu.TryLock() {
		return nil, nil, ErrRunInProgress
	}
	defer rn.mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, nil, fmt.Errorf("generate run id: %w", err)
	}

	started := time.Now().UTC()
	run := sqlite.ReconciliationRun{
		ID:              id.String(),
		EarliestChanged: earliestChanged,
		Status:          RunStatusRunning,
		StartedAt:       &started,
		CreatedAt:       started,
	}
	if err := rn.Store.SaveReconciliationRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("record run start: %w", err)
	}

	logger := rn.Logger.With(slog.String("run_id", run.ID))
	logger.Info("reconciliation run started", slog.String("earliest_changed", earliestChanged.String()))

	result, runErr := rn.Engine.Reconcile(ctx, earliestChanged, now)

	completed := time.Now().UTC()
	run.CompletedAt = &completed
	switch {
	case runErr != nil:
		run.Status = RunStatusFailed
		run.Error = runErr.Error()
	case result.Skipped:
		run.Status = RunStatusSkipped
		run.SkippedReason = result.Reason
	default:
		run.Status = RunStatusCompleted
		run.StartDate = result.StartDate
		run.EndDate = result.EndDate
		run.Seeded = result.SeededFromCheckpoint
		run.ReconciledDays = result.ReconciledDays
		run.SettledThrough = result.SettledThroughDate
	}

	if err := rn.Store.SaveReconciliationRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Error("failed to record run outcome", slog.Any("error", err))
	}

	if runErr != nil {
		logger.Error("reconciliation run failed", slog.Any("error", runErr))
		return &run, nil, runErr
	}
	logger.Info("reconciliation run finished",
		slog.String("status", run.Status),
		slog.Int("reconciled_days", run.ReconciledDays),
		slog.Duration("elapsed", completed.Sub(started)),
	)
	return &run, result, nil
}
