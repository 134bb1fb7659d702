// Package jobs contains the scheduled jobs of the points engine.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bonkcomputer/points-engine/internal/application/command"
	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE LEDGER JOB
// ══════════════════════════════════════════════════════════════════════════════

// Reconciler reconciles a single user. *command.ReconcileLedgerHandler
// implements it.
type Reconciler interface {
	Handle(ctx context.Context, cmd command.ReconcileLedgerCommand) (*command.ReconcileLedgerResult, error)
}

// ReconcileLedgerJob walks every user, repairs cached totals that drifted
// from the ledger and re-runs the derivations a failed award may have skipped.
type ReconcileLedgerJob struct {
	store      ledger.Store
	reconciler Reconciler
	logger     *slog.Logger
	config     ReconcileLedgerConfig

	lastStats atomic.Value // *ReconcileStats
}

// ReconcileLedgerConfig contains configuration for the reconcile job.
type ReconcileLedgerConfig struct {
	// PageSize is how many user ids are read per page.
	PageSize int

	// Concurrency is how many users are reconciled in parallel.
	Concurrency int

	// Timeout is the maximum duration of one run.
	Timeout time.Duration
}

// DefaultReconcileLedgerConfig returns sensible defaults.
func DefaultReconcileLedgerConfig() ReconcileLedgerConfig {
	return ReconcileLedgerConfig{
		PageSize:    200,
		Concurrency: 4,
		Timeout:     10 * time.Minute,
	}
}

// ReconcileStats contains statistics from a reconcile run.
type ReconcileStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Users       int
	Repaired    int
	TotalDrift  int64
	Unlocked    int
	Promoted    int
	Failed      []shared.UserID
}

// NewReconcileLedgerJob creates a new reconcile job.
func NewReconcileLedgerJob(store ledger.Store, reconciler Reconciler, logger *slog.Logger, config ReconcileLedgerConfig) *ReconcileLedgerJob {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultReconcileLedgerConfig()
	if config.PageSize <= 0 {
		config.PageSize = def.PageSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}

	return &ReconcileLedgerJob{
		store:      store,
		reconciler: reconciler,
		logger:     logger.With("job", "reconcile_ledger"),
		config:     config,
	}
}

// Name returns the job name.
func (j *ReconcileLedgerJob) Name() string {
	return "reconcile_ledger"
}

// Description returns a human-readable description.
func (j *ReconcileLedgerJob) Description() string {
	return "Repairs cached point totals that drifted from the ledger"
}

// Run executes the reconcile job. A failure for one user does not stop the
// run; the job fails at the end if any user failed.
func (j *ReconcileLedgerJob) Run(ctx context.Context) error {
	stats := &ReconcileStats{StartedAt: time.Now().UTC()}

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	var mu sync.Mutex
	var after shared.UserID
	for {
		ids, err := j.store.ListUserIDs(ctx, after, j.config.PageSize)
		if err != nil {
			return fmt.Errorf("list users after %q: %w", after, err)
		}
		if len(ids) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(j.config.Concurrency)
		for _, id := range ids {
			g.Go(func() error {
				res, err := j.reconciler.Handle(gctx, command.ReconcileLedgerCommand{UserID: id.String()})

				mu.Lock()
				defer mu.Unlock()
				stats.Users++
				if err != nil {
					stats.Failed = append(stats.Failed, id)
					j.logger.Warn("reconcile failed", "user_id", id.String(), "error", err)
					return gctx.Err()
				}
				if res.Repaired {
					stats.Repaired++
					stats.TotalDrift += res.Drift
				}
				stats.Unlocked += len(res.Unlocked)
				if res.Promoted {
					stats.Promoted++
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("reconcile interrupted: %w", err)
		}

		if len(ids) < j.config.PageSize {
			break
		}
		after = ids[len(ids)-1]
	}

	stats.CompletedAt = time.Now().UTC()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastStats.Store(stats)

	j.logger.Info("reconcile_ledger job completed",
		"duration", stats.Duration.String(),
		"users", stats.Users,
		"repaired", stats.Repaired,
		"total_drift", stats.TotalDrift,
		"unlocked", stats.Unlocked,
		"promoted", stats.Promoted,
		"failed", len(stats.Failed),
	)

	if len(stats.Failed) > 0 {
		return fmt.Errorf("reconcile completed with %d failures", len(stats.Failed))
	}
	return nil
}

// LastStats returns the stats of the last completed run, or nil.
func (j *ReconcileLedgerJob) LastStats() *ReconcileStats {
	s, _ := j.lastStats.Load().(*ReconcileStats)
	return s
}
