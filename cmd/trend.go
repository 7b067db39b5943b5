package cmd

import (
	"github.com/spf13/cobra"

	"github.com/papapumpkin/helix/internal/tracker"
	"github.com/papapumpkin/helix/internal/ui"
)

var trendCmd = &cobra.Command{
	Use:   "trend <metric>",
	Short: "Show a metric's value across generations",
	Long: `Prints the first value of the metric logged in each generation. Generations
that never logged it are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runTrend,
}

func init() {
	trendCmd.Flags().Bool("archive", false, "query the SQLite archive instead of the history file")
	rootCmd.AddCommand(trendCmd)
}

func runTrend(cmd *cobra.Command, args []string) error {
	metric := args[0]
	fromArchive, _ := cmd.Flags().GetBool("archive")

	s, err := openSession(cmd, fromArchive)
	if err != nil {
		return err
	}
	defer s.Close()

	var points []tracker.TrendPoint
	if fromArchive {
		points, err = s.archive.Trend(cmd.Context(), s.cfg.Component, metric)
		if err != nil {
			return err
		}
	} else {
		history, err := s.loadHistory()
		if err != nil {
			return err
		}
		points = tracker.New(s.cfg.Component, tracker.WithHistory(history)).MetricTrend(metric)
	}

	ui.NewWithWriter(cmd.OutOrStdout()).Trend(metric, points)
	return nil
}
