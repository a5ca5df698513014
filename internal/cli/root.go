// Package cli implements the swingbot command line: schema setup, training, the live
// trading daemon and registry inspection.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/swingbot/internal/config"
	"github.com/aristath/swingbot/internal/di"
	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/pkg/logger"
)

// Options configures the command tree. Zero values use stdout, stderr and config.Load.
type Options struct {
	Out        io.Writer
	Err        io.Writer
	LoadConfig func() (*config.Config, error)
}

type app struct {
	opts Options
	cfg  *config.Config
	log  zerolog.Logger
}

// NewRootCommand builds the swingbot command tree
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	if opts.LoadConfig == nil {
		opts.LoadConfig = config.Load
	}
	a := &app{opts: opts}

	root := &cobra.Command{
		Use:   "swingbot",
		Short: "Reinforcement-learning swing trader",
		Long: `swingbot trains a per-strategy trading policy, keeps every version in a registry,
and trades the active version on brokerage accounts while recording each decision
as a training experience.

Every command reads DATABASE_URL; run "swingbot migrate" once before anything else.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.SetOut(opts.Out)
	root.SetErr(opts.Err)

	root.AddCommand(
		a.newMigrateCmd(),
		a.newTrainCmd(),
		a.newRetrainCmd(),
		a.newTradeCmd(),
		a.newReconcileCmd(),
		a.newVersionsCmd(),
		a.newRollbackCmd(),
		a.newPerformanceCmd(),
		a.newAccountsCmd(),
		a.newBackupCmd(),
	)

	return root
}

// Execute runs the command tree and reports errors on stderr
func Execute(ctx context.Context, opts Options) error {
	root := NewRootCommand(opts)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
	}
	return err
}

func (a *app) setup() error {
	cfg, err := a.opts.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg
	a.log = logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		Output: a.opts.Err,
	})
	logger.SetGlobalLogger(a.log)
	return nil
}

func (a *app) wire(ctx context.Context) (*di.Container, error) {
	return di.Wire(ctx, a.cfg, a.log)
}

func (a *app) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.opts.Out, format, args...)
}

// strategyFlag registers --strategy and returns a parser for it
func strategyFlag(cmd *cobra.Command) func() (domain.Strategy, error) {
	var raw string
	cmd.Flags().StringVarP(&raw, "strategy", "s", string(domain.StrategySortino), "reward strategy (sortino, upside)")
	return func() (domain.Strategy, error) {
		return domain.ParseStrategy(raw)
	}
}
