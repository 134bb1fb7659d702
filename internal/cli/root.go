// Package cli implements pointsctl, the operator CLI of the points engine.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bonkcomputer/points-engine/config"
	"github.com/bonkcomputer/points-engine/internal/app"
	"github.com/bonkcomputer/points-engine/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	EnvFile string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Factory builds the engine for one command invocation.
type Factory func(ctx context.Context, opts *RootOptions) (*app.App, error)

// NewRootCommand creates the root command wired to the configured store.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithFactory(DefaultFactory)
}

// NewRootCommandWithFactory creates the root command with a custom engine
// factory. Tests use it to run against the in-memory store.
func NewRootCommandWithFactory(factory Factory) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "pointsctl",
		Short: "pointsctl - points engine operator tool",
		Long:  "Award, adjust, reconcile and inspect the points ledger from the command line.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	// Subcommands
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts, factory))
	cmd.AddCommand(NewCatalogCommand(opts, factory))
	cmd.AddCommand(NewAwardCommand(opts, factory))
	cmd.AddCommand(NewAdjustCommand(opts, factory))
	cmd.AddCommand(NewReconcileCommand(opts, factory))
	cmd.AddCommand(NewRebuildIndexCommand(opts, factory))
	cmd.AddCommand(NewLeaderboardCommand(opts, factory))
	cmd.AddCommand(NewUserCommand(opts, factory))

	return cmd
}

// DefaultFactory loads the dotenv file and the environment, then builds the
// engine. Logs go to stderr so they never mix with command output.
func DefaultFactory(ctx context.Context, opts *RootOptions) (*app.App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logOpts := logger.DefaultOptions()
	logOpts.Output = os.Stderr
	logOpts.Format = logger.FormatText
	logOpts.AddCaller = false
	logOpts.Level = logger.LevelWarn
	if opts.Verbose {
		logOpts.Level = logger.LevelDebug
	}
	return app.New(ctx, cfg, app.WithLogger(logger.New(logOpts)), app.WithSyncEvents())
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	return config.LoadFile(opts.EnvFile)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// withApp builds the engine, runs fn and releases the engine.
func withApp(cmd *cobra.Command, opts *RootOptions, factory Factory, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := factory(ctx, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot start engine", err)
	}
	defer a.Close()
	return fn(ctx, a)
}
