package cli

import (
	"context"
	"fmt"
	"io"
	"os/user"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bonkcomputer/points-engine/internal/app"
	"github.com/bonkcomputer/points-engine/internal/application/command"
)

// NewAwardCommand creates the award command.
func NewAwardCommand(rootOpts *RootOptions, factory Factory) *cobra.Command {
	var meta []string

	cmd := &cobra.Command{
		Use:   "award <user-id> <kind>",
		Short: "Record a user action and award its points",
		Long: `Record a user action (DAILY_LOGIN, COMMENT_CREATED, ...) through the
award pipeline. Daily limits, streaks and achievements apply exactly as for
API calls.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd.OutOrStdout())
			metadata, err := parseMetadata(meta)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --meta", err)
			}
			return withApp(cmd, rootOpts, factory, func(ctx context.Context, a *app.App) error {
				res, err := a.Commands.Award.Handle(ctx, command.AwardCommand{
					UserID:   args[0],
					Kind:     strings.ToUpper(args[1]),
					Metadata: metadata,
				})
				if err != nil {
					return out.Fail("award", err)
				}
				return out.Success(res, func(w io.Writer) { writeAward(w, res) })
			})
		},
	}

	cmd.Flags().StringSliceVar(&meta, "meta", nil, "metadata as key=value (repeatable)")
	return cmd
}

// NewAdjustCommand creates the adjust command.
func NewAdjustCommand(rootOpts *RootOptions, factory Factory) *cobra.Command {
	var reason, actor string

	cmd := &cobra.Command{
		Use:           "adjust <user-id> <delta>",
		Short:         "Apply a signed manual correction",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd.OutOrStdout())
			delta, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "delta must be an integer", err)
			}
			if actor == "" {
				actor = currentUser()
			}
			return withApp(cmd, rootOpts, factory, func(ctx context.Context, a *app.App) error {
				res, err := a.Commands.AdjustPoints.Handle(ctx, command.AdjustPointsCommand{
					UserID: args[0],
					Delta:  delta,
					Reason: reason,
					Actor:  actor,
				})
				if err != nil {
					return out.Fail("adjust", err)
				}
				return out.Success(res, func(w io.Writer) { writeAward(w, res) })
			})
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "reason recorded on the ledger entry (required)")
	cmd.Flags().StringVar(&actor, "actor", "", "operator name (defaults to the OS user)")
	return cmd
}

func writeAward(w io.Writer, res *command.AwardResult) {
	if !res.Accepted {
		fmt.Fprintf(w, "%s %s: rejected (%s), total %d\n", res.UserID, res.Kind, res.RejectionReason, res.NewTotal)
		return
	}
	fmt.Fprintf(w, "%s %s: %+d points (base %d, streak %d, achievements %d), total %d\n",
		res.UserID, res.Kind, res.PointsAwarded,
		res.Breakdown.Base, res.Breakdown.StreakBonus, res.Breakdown.AchievementRewards,
		res.NewTotal)
	for _, u := range res.UnlockedAchievements {
		fmt.Fprintf(w, "  unlocked %q (+%d)\n", u.Name, u.Reward)
	}
	if res.Promoted {
		fmt.Fprintf(w, "  promoted: %s\n", res.PromotionReason)
	}
}

func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "pointsctl"
}
