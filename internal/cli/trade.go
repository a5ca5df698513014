package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/swingbot/internal/di"
	"github.com/aristath/swingbot/internal/execution"
	"github.com/aristath/swingbot/internal/models"
	"github.com/aristath/swingbot/internal/scheduler"
)

func (a *app) newTradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Run the live trading loop for one strategy until interrupted",
		Args:  cobra.NoArgs,
	}
	strategy := strategyFlag(cmd)
	var httpPort int
	cmd.Flags().IntVar(&httpPort, "http-port", 0, "also serve /predict and the live event stream on this port (0 disables)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s, err := strategy()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		container, err := a.wire(ctx)
		if err != nil {
			return err
		}
		defer container.Close()

		active, err := container.AccountRepo.ListActive()
		if err != nil {
			return err
		}
		if len(active) == 0 {
			return execution.ErrNoAccounts
		}

		loop, _, err := di.NewTradingLoop(ctx, container, a.cfg, s, a.log)
		if err != nil {
			return err
		}

		// Retraining runs as its own process; the daemon only hosts housekeeping jobs
		sched := scheduler.New(a.log)
		jobs, err := di.RegisterJobs(container, a.cfg, sched, nil, a.log)
		if err != nil {
			return err
		}
		// Positions may have closed while the daemon was down
		if jobs.Reconcile != nil {
			if err := sched.RunNow(jobs.Reconcile); err != nil {
				a.log.Warn().Err(err).Msg("Startup reconcile failed")
			}
		}
		sched.Start()
		defer sched.Stop()

		if httpPort > 0 {
			set := models.NewSet(container.ModelLoader, a.log)
			set.LoadAll(ctx)
			srv := di.NewServer(container, a.cfg, set, httpPort, container.EventManager, a.log)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.log.Error().Err(err).Msg("HTTP server failed")
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.log.Error().Err(err).Msg("Server forced to shutdown")
				}
			}()
		}

		a.printf("Trading %s on %d accounts, %d symbols\n", s, len(active), len(a.cfg.Universe))
		return loop.Run(ctx)
	}
	return cmd
}

func (a *app) newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Backfill rewards for experiences whose positions have closed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}
			defer container.Close()

			n, err := container.ExperienceRepo.ReconcileIncomplete(a.cfg.Reward)
			if err != nil {
				return err
			}
			a.printf("Backfilled %d experiences\n", n)
			return nil
		},
	}
}
