package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bonkcomputer/points-engine/internal/app"
	"github.com/bonkcomputer/points-engine/internal/application/command"
	"github.com/bonkcomputer/points-engine/internal/infrastructure/scheduler/jobs"
)

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions, factory Factory) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "reconcile [user-id]",
		Short: "Repair cached totals from the ledger",
		Long: `Recompute cached totals from ledger entries and re-run achievement and
promotion checks. Without a user id every user is reconciled.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd.OutOrStdout())
			return withApp(cmd, rootOpts, factory, func(ctx context.Context, a *app.App) error {
				if len(args) == 1 {
					res, err := a.Commands.Reconcile.Handle(ctx, command.ReconcileLedgerCommand{UserID: args[0]})
					if err != nil {
						return out.Fail("reconcile", err)
					}
					return out.Success(res, func(w io.Writer) {
						fmt.Fprintf(w, "%s: cached %d, ledger %d, drift %+d, total %d\n",
							res.UserID, res.CachedTotal, res.LedgerTotal, res.Drift, res.NewTotal)
					})
				}

				cfg := jobs.DefaultReconcileLedgerConfig()
				sc := a.Config.Scheduler
				cfg.PageSize = sc.ReconcilePageSize
				cfg.Concurrency = sc.ReconcileConcurrency
				if concurrency > 0 {
					cfg.Concurrency = concurrency
				}
				job := jobs.NewReconcileLedgerJob(a.Store, a.Commands.Reconcile, a.Slog, cfg)
				if err := job.Run(ctx); err != nil {
					return out.Fail("reconcile", err)
				}
				stats := job.LastStats()
				summary := map[string]interface{}{
					"users":       stats.Users,
					"repaired":    stats.Repaired,
					"total_drift": stats.TotalDrift,
					"unlocked":    stats.Unlocked,
					"promoted":    stats.Promoted,
					"failed":      stats.Failed,
				}
				return out.Success(summary, func(w io.Writer) {
					fmt.Fprintf(w, "reconciled %d users: %d repaired, drift %+d, %d unlocked, %d promoted, %d failed\n",
						stats.Users, stats.Repaired, stats.TotalDrift, stats.Unlocked, stats.Promoted, len(stats.Failed))
				})
			})
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "users reconciled in parallel (default SCHEDULER_RECONCILE_CONCURRENCY)")
	return cmd
}

// NewRebuildIndexCommand creates the rebuild-index command.
func NewRebuildIndexCommand(rootOpts *RootOptions, factory Factory) *cobra.Command {
	return &cobra.Command{
		Use:           "rebuild-index",
		Short:         "Rebuild the Redis rank index from the store",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd.OutOrStdout())
			return withApp(cmd, rootOpts, factory, func(ctx context.Context, a *app.App) error {
				if a.Index == nil {
					return NewExitError(ExitCommandError, "rank index is disabled (REDIS_ENABLED=false)")
				}
				job := jobs.NewRebuildRankIndexJob(a.Store, a.Index, a.Slog, a.Config.Scheduler.JobTimeout)
				if err := job.Run(ctx); err != nil {
					return out.Fail("rebuild-index", err)
				}
				return out.Success(map[string]string{"status": "rebuilt"}, func(w io.Writer) {
					fmt.Fprintln(w, "rank index rebuilt")
				})
			})
		},
	}
}
