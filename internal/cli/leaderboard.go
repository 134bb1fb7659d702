package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bonkcomputer/points-engine/internal/app"
	"github.com/bonkcomputer/points-engine/internal/application/query"
)

// NewLeaderboardCommand creates the leaderboard command.
func NewLeaderboardCommand(rootOpts *RootOptions, factory Factory) *cobra.Command {
	var (
		period string
		limit  int
		userID string
	)

	cmd := &cobra.Command{
		Use:           "leaderboard",
		Short:         "Show the top users for a period",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd.OutOrStdout())
			return withApp(cmd, rootOpts, factory, func(ctx context.Context, a *app.App) error {
				res, err := a.Queries.Leaderboard.Handle(ctx, query.GetLeaderboardQuery{
					Limit:  limit,
					Period: period,
					UserID: userID,
				})
				if err != nil {
					return out.Fail("leaderboard", err)
				}
				return out.Success(res, func(w io.Writer) { writeLeaderboard(w, res) })
			})
		},
	}

	cmd.Flags().StringVarP(&period, "period", "p", "all_time", "daily, weekly, monthly or all_time")
	cmd.Flags().IntVarP(&limit, "limit", "n", query.DefaultLeaderboardLimit, "number of entries")
	cmd.Flags().StringVar(&userID, "user", "", "also show this user's rank")
	return cmd
}

func writeLeaderboard(w io.Writer, res *query.GetLeaderboardResult) {
	fmt.Fprintf(w, "%s leaderboard (%d ranked)\n", res.Period, res.TotalCount)
	fmt.Fprintf(w, "%5s  %-24s %10s\n", "RANK", "USER", "POINTS")
	for _, e := range res.Entries {
		name := e.DisplayName
		if name == "" {
			name = e.UserID
		}
		fmt.Fprintf(w, "%5d  %-24s %10d\n", e.Rank, name, e.Points)
	}
	if r := res.Requester; r != nil {
		if r.Ranked {
			fmt.Fprintf(w, "you: #%d with %d points\n", r.Rank, r.Points)
		} else {
			fmt.Fprintln(w, "you: not ranked")
		}
	}
}

// NewUserCommand creates the user command.
func NewUserCommand(rootOpts *RootOptions, factory Factory) *cobra.Command {
	return &cobra.Command{
		Use:           "user <user-id>",
		Short:         "Show a user's points, streak, rank and recognition",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd.OutOrStdout())
			return withApp(cmd, rootOpts, factory, func(ctx context.Context, a *app.App) error {
				s, err := a.Queries.UserSummary.Handle(ctx, query.GetUserSummaryQuery{UserID: args[0]})
				if err != nil {
					return out.Fail("user", err)
				}
				return out.Success(s, func(w io.Writer) { writeSummary(w, s) })
			})
		},
	}
}

func writeSummary(w io.Writer, s *query.UserSummaryDTO) {
	rank := "unranked"
	if s.Ranked {
		rank = fmt.Sprintf("#%d", s.Rank)
	}
	fmt.Fprintf(w, "%s (%s)\n", s.DisplayName, s.UserID)
	fmt.Fprintf(w, "  points:   %d (%d today), rank %s\n", s.TotalPoints, s.TodayPoints, rank)
	fmt.Fprintf(w, "  streak:   %d current, %d longest\n", s.CurrentStreak, s.LongestStreak)
	fmt.Fprintf(w, "  referral: %s\n", s.ReferralCode)
	fmt.Fprintf(w, "  volume:   $%s\n", s.TradeVolume.StringFixed(2))
	if s.Recognized {
		fmt.Fprintf(w, "  recognized: %s\n", s.RecognitionReason)
	}
}
