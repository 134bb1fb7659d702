package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bonkcomputer/points-engine/config"
	"github.com/bonkcomputer/points-engine/internal/infrastructure/persistence/postgres"
)

// NewMigrateCommand creates the migrate command. It talks to Postgres
// directly and does not build the engine.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "up",
		Short:         "Apply pending migrations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, rootOpts, func(ctx context.Context, m *postgres.Migrator) error {
				ran, err := m.Migrate(ctx)
				if err != nil {
					return newFormatter(rootOpts, cmd.OutOrStdout()).Fail("migrate up", err)
				}
				return newFormatter(rootOpts, cmd.OutOrStdout()).Success(map[string]int{"applied": ran}, func(w io.Writer) {
					fmt.Fprintf(w, "applied %d migration(s)\n", ran)
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "down",
		Short:         "Roll back the last applied migration",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, rootOpts, func(ctx context.Context, m *postgres.Migrator) error {
				if err := m.Rollback(ctx); err != nil {
					return newFormatter(rootOpts, cmd.OutOrStdout()).Fail("migrate down", err)
				}
				return newFormatter(rootOpts, cmd.OutOrStdout()).Success(map[string]bool{"rolled_back": true}, func(w io.Writer) {
					fmt.Fprintln(w, "rolled back 1 migration")
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "status",
		Short:         "Show applied and pending migrations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, rootOpts, func(ctx context.Context, m *postgres.Migrator) error {
				status, err := m.Status(ctx)
				if err != nil {
					return newFormatter(rootOpts, cmd.OutOrStdout()).Fail("migrate status", err)
				}
				return newFormatter(rootOpts, cmd.OutOrStdout()).Success(status, func(w io.Writer) {
					for _, mig := range status {
						state := "pending"
						if mig.IsApplied {
							state = "applied " + mig.AppliedAt.UTC().Format("2006-01-02 15:04:05")
						}
						fmt.Fprintf(w, "%03d  %-32s %s\n", mig.Version, mig.Name, state)
					}
				})
			})
		},
	})

	return cmd
}

func withMigrator(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, m *postgres.Migrator) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if cfg.Store.Driver != config.StoreDriverPostgres {
		return NewExitError(ExitCommandError, "migrate requires STORE_DRIVER=postgres")
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Store.DatabaseURL

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot connect to postgres", err)
	}
	defer conn.Close()

	return fn(ctx, postgres.NewMigrator(conn))
}
