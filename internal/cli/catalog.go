package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bonkcomputer/points-engine/internal/app"
	"github.com/bonkcomputer/points-engine/internal/application/query"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions, factory Factory) *cobra.Command {
	return &cobra.Command{
		Use:           "seed",
		Short:         "Upsert the stock achievement catalog",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd.OutOrStdout())
			return withApp(cmd, rootOpts, factory, func(ctx context.Context, a *app.App) error {
				if err := a.Commands.SeedAchievements.Handle(ctx, nil); err != nil {
					return out.Fail("seed", err)
				}
				defs, err := a.Store.ListAchievements(ctx)
				if err != nil {
					return out.Fail("seed", err)
				}
				return out.Success(map[string]int{"achievements": len(defs)}, func(w io.Writer) {
					fmt.Fprintf(w, "catalog holds %d achievements\n", len(defs))
				})
			})
		},
	}
}

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(rootOpts *RootOptions, factory Factory) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:           "catalog",
		Short:         "List achievements, optionally with a user's unlocks",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd.OutOrStdout())
			return withApp(cmd, rootOpts, factory, func(ctx context.Context, a *app.App) error {
				defs, err := a.Queries.Achievements.Handle(ctx, query.ListAchievementsQuery{UserID: userID})
				if err != nil {
					return out.Fail("catalog", err)
				}
				return out.Success(defs, func(w io.Writer) {
					writeCatalog(w, defs, userID != "")
				})
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "mark achievements unlocked by this user")
	return cmd
}

func writeCatalog(w io.Writer, defs []query.AchievementDTO, marks bool) {
	fmt.Fprintf(w, "%-10s %-18s %6s  %s\n", "CATEGORY", "NAME", "REWARD", "DESCRIPTION")
	for _, d := range defs {
		line := fmt.Sprintf("%-10s %-18s %6d  %s", d.Category, d.Name, d.Reward, d.Description)
		if marks && d.Unlocked {
			line += "  [unlocked]"
		}
		fmt.Fprintln(w, line)
	}
}
