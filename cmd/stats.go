package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/shoplens/pipeline-cli/internal/model"
	"github.com/shoplens/pipeline-cli/internal/telemetry"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Query pipeline telemetry",
	Long:  "Commands for inspecting per-stage success rates and rebuilding the rolling aggregates from the raw event log.",
}

var (
	statsPeriod   string
	statsLookback time.Duration
)

func statsPeriodType() (model.PeriodType, error) {
	p := model.PeriodType(statsPeriod)
	for _, known := range model.Periods {
		if p == known {
			return p, nil
		}
	}
	return "", eris.Errorf("unknown period %q: use hour, day, week, or month", statsPeriod)
}

// -- stats success-rate --

var statsSuccessRateCmd = &cobra.Command{
	Use:   "success-rate",
	Short: "Show per-stage success rates over the lookback window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("stats"); err != nil {
			return err
		}
		period, err := statsPeriodType()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stages, err := telemetry.NewRecorder(st).SuccessRate(ctx, period, statsLookback)
		if err != nil {
			return eris.Wrap(err, "success rate")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "STAGE\tSUCCESS\tFAILURE\tRATE\tAVG_MS")
		for _, s := range stages {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%.1f%%\t%.1f\n",
				s.Stage, s.SuccessCount, s.FailureCount, s.SuccessRate*100, s.AvgDurationMS)
		}
		return w.Flush()
	},
}

// -- stats stage --

var statsStageCmd = &cobra.Command{
	Use:   "stage <name>",
	Short: "Show per-bucket aggregates for one stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("stats"); err != nil {
			return err
		}
		period, err := statsPeriodType()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		buckets, err := telemetry.NewRecorder(st).StageDetail(ctx, args[0], period, statsLookback)
		if err != nil {
			return eris.Wrap(err, "stage detail")
		}
		if len(buckets) == 0 {
			fmt.Fprintln(os.Stderr, "No events recorded for this stage in the window.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "PERIOD_START\tSUCCESS\tFAILURE\tRATE\tAVG_MS")
		for _, b := range buckets {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%.1f%%\t%.1f\n",
				b.PeriodStart.Format("2006-01-02 15:04"),
				b.SuccessCount, b.FailureCount, b.SuccessRate()*100, b.AvgDurationMS)
		}
		return w.Flush()
	},
}

// -- stats rebuild --

var statsRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Recompute all aggregates from the raw event log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("stats"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := telemetry.NewRecorder(st).Rebuild(ctx); err != nil {
			return eris.Wrap(err, "rebuild aggregates")
		}
		fmt.Println("aggregates rebuilt")
		return nil
	},
}

func init() {
	statsCmd.PersistentFlags().StringVar(&statsPeriod, "period", "day", "aggregation period: hour, day, week, or month")
	statsCmd.PersistentFlags().DurationVar(&statsLookback, "lookback", 7*24*time.Hour, "how far back to aggregate")

	statsCmd.AddCommand(statsSuccessRateCmd, statsStageCmd, statsRebuildCmd)
	rootCmd.AddCommand(statsCmd)
}
