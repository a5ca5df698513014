package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aristath/swingbot/internal/di"
	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/internal/scheduler"
	"github.com/aristath/swingbot/internal/training"
)

func (a *app) newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a fresh model from history and activate it",
		Long: `Train a new policy from the configured history window of every symbol in the
universe, run one online pass over completed experiences, and save the result as a
new active "initial" version.`,
		Args: cobra.NoArgs,
	}
	strategy := strategyFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s, err := strategy()
		if err != nil {
			return err
		}
		container, err := a.wire(cmd.Context())
		if err != nil {
			return err
		}
		defer container.Close()

		result, err := container.Trainer.Train(cmd.Context(), s)
		if err != nil {
			return err
		}
		a.printResult(result)
		return nil
	}
	return cmd
}

func (a *app) newRetrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retrain",
		Short: "Run the retraining decision: initial, weekly full retrain or online update",
		Args:  cobra.NoArgs,
	}
	strategy := strategyFlag(cmd)
	var scheduled bool
	cmd.Flags().BoolVar(&scheduled, "schedule", false, "keep running and retrain on RETRAIN_SCHEDULE")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s, err := strategy()
		if err != nil {
			return err
		}
		container, err := a.wire(cmd.Context())
		if err != nil {
			return err
		}
		defer container.Close()

		if scheduled {
			return a.runScheduled(cmd.Context(), container, s)
		}

		result, err := container.Trainer.Run(cmd.Context(), s)
		if err != nil {
			return err
		}
		a.printResult(result)
		return nil
	}
	return cmd
}

func (a *app) runScheduled(ctx context.Context, container *di.Container, strategy domain.Strategy) error {
	sched := scheduler.New(a.log)
	jobs, err := di.RegisterJobs(container, a.cfg, sched, []domain.Strategy{strategy}, a.log)
	if err != nil {
		return err
	}
	if len(jobs.Retrain) == 0 {
		return fmt.Errorf("retrain schedule is empty")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched.Start()
	defer sched.Stop()

	a.printf("Retraining %s on schedule %q, press Ctrl+C to stop\n", strategy, a.cfg.Training.RetrainSchedule)
	<-ctx.Done()
	return nil
}

func (a *app) printResult(r *training.Result) {
	if r.Skipped {
		a.printf("%s: no new experiences, update skipped\n", r.Strategy)
		return
	}
	a.printf("%s: saved v%d (%s) from %d symbols, %d steps, %d experiences\n",
		r.Strategy, r.Version.VersionNumber, r.Mode, r.Symbols, r.Steps, r.Experiences)
}
