package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aristath/swingbot/internal/modules/registry"
)

func (a *app) newVersionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List model versions, newest first",
		Args:  cobra.NoArgs,
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

		versions, err := container.Registry.List(s)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			a.printf("No %s versions\n", s)
			return nil
		}

		w := tabwriter.NewWriter(a.opts.Out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tACTIVE\tTYPE\tEXPERIENCES\tTRADES\tWIN RATE\tAVG PNL\tSORTINO\tCREATED")
		for _, v := range versions {
			active := ""
			if v.IsActive {
				active = "*"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
				v.VersionNumber, active, v.TrainingType, v.TotalExperiences,
				optInt(v.TotalTrades), optFloat(v.WinRate, "%.2f%%"), optFloat(v.AvgPnL, "%.4f"),
				optFloat(v.SortinoRatio, "%.4f"), v.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	}
	return cmd
}

func (a *app) newRollbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Make an earlier version the active one",
		Args:  cobra.NoArgs,
	}
	strategy := strategyFlag(cmd)
	var version int
	cmd.Flags().IntVar(&version, "version", 0, "version number to activate")
	_ = cmd.MarkFlagRequired("version")

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

		ok, err := container.Registry.Rollback(s, version)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s v%d: %w", s, version, registry.ErrVersionNotFound)
		}
		a.printf("%s: v%d is now active\n", s, version)
		return nil
	}
	return cmd
}

func (a *app) newPerformanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "performance",
		Short: "Summarise closed trades, optionally since a version was created",
		Args:  cobra.NoArgs,
	}
	strategy := strategyFlag(cmd)
	var since int
	cmd.Flags().IntVar(&since, "since", 0, "only trades closed after this version was created")

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

		var sinceVersion *int
		if cmd.Flags().Changed("since") {
			sinceVersion = &since
		}
		perf, err := container.Registry.Performance(s, sinceVersion)
		if err != nil {
			return err
		}

		a.printf("Strategy:      %s\n", s)
		if sinceVersion != nil {
			a.printf("Since:         v%d\n", *sinceVersion)
		}
		a.printf("Total trades:  %d\n", perf.TotalTrades)
		a.printf("Win rate:      %.2f%%\n", perf.WinRate)
		a.printf("Avg PnL:       %.4f\n", perf.AvgPnL)
		a.printf("Sortino ratio: %.4f\n", perf.SortinoRatio)
		return nil
	}
	return cmd
}

func optInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func optFloat(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}
