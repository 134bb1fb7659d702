package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bonkcomputer/points-engine/internal/domain/leaderboard"
	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD RANK INDEX JOB
// ══════════════════════════════════════════════════════════════════════════════

// RebuildRankIndexJob replaces the all-time rank index with the store's
// standings. Incremental upserts can be lost while the index is down; this
// job brings it back in line.
type RebuildRankIndexJob struct {
	store   ledger.Store
	index   leaderboard.RankIndex
	logger  *slog.Logger
	timeout time.Duration
}

// NewRebuildRankIndexJob creates a new rebuild job. timeout <= 0 means none.
func NewRebuildRankIndexJob(store ledger.Store, index leaderboard.RankIndex, logger *slog.Logger, timeout time.Duration) *RebuildRankIndexJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RebuildRankIndexJob{
		store:   store,
		index:   index,
		logger:  logger.With("job", "rebuild_rank_index"),
		timeout: timeout,
	}
}

// Name returns the job name.
func (j *RebuildRankIndexJob) Name() string {
	return "rebuild_rank_index"
}

// Description returns a human-readable description.
func (j *RebuildRankIndexJob) Description() string {
	return "Rebuilds the all-time rank index from stored totals"
}

// Run executes the rebuild.
func (j *RebuildRankIndexJob) Run(ctx context.Context) error {
	started := time.Now()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	entries, err := j.store.Standings(ctx, leaderboard.WindowFor(leaderboard.PeriodAllTime, started), 0)
	if err != nil {
		return fmt.Errorf("load standings: %w", err)
	}
	if err := j.index.Replace(ctx, entries); err != nil {
		return fmt.Errorf("replace rank index: %w", err)
	}

	j.logger.Info("rank index rebuilt",
		"population", len(entries),
		"duration", time.Since(started).String(),
	)
	return nil
}
