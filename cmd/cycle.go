package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/helix/internal/evolve"
	"github.com/papapumpkin/helix/internal/telemetry"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run improvement cycles against the component",
	Long: `Resumes the component from its history file and runs improvement cycles
with the simulated test, analysis and apply strategies. Every sealed
generation is appended to the history file and the SQLite archive; cycle
events go to the telemetry file.

A cycle whose test phase fails is aborted and stops the run.`,
	Args: cobra.NoArgs,
	RunE: runCycle,
}

func init() {
	cycleCmd.Flags().IntP("count", "n", 1, "number of cycles to run")
	cycleCmd.Flags().StringArray("param", nil, "cycle parameter as key=value (repeatable)")
	rootCmd.AddCommand(cycleCmd)
}

func runCycle(cmd *cobra.Command, _ []string) error {
	count, _ := cmd.Flags().GetInt("count")
	paramFlags, _ := cmd.Flags().GetStringArray("param")
	if count < 1 {
		return fmt.Errorf("--count must be at least 1, got %d", count)
	}
	pairs, err := parsePairs(paramFlags)
	if err != nil {
		return fmt.Errorf("invalid --param: %w", err)
	}

	s, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer s.Close()

	tr, err := s.openTracker(cmd.Context())
	if err != nil {
		return err
	}
	if len(tr.History()) == 0 {
		return fmt.Errorf("%s has no generations yet; run 'helix init' first", s.cfg.Component)
	}

	if err := os.MkdirAll(filepath.Dir(s.cfg.TelemetryPath), 0o755); err != nil {
		return fmt.Errorf("creating telemetry directory: %w", err)
	}
	events, err := telemetry.NewEmitter(s.cfg.TelemetryPath)
	if err != nil {
		return err
	}
	defer events.Close()
	metrics := telemetry.NewMetrics()

	opts := []evolve.Option{
		evolve.WithStrategies(simulatedStrategies(s.cfg.CoverageThreshold)),
		evolve.WithLogger(s.logger()),
		evolve.WithUI(s.printer),
		evolve.WithTelemetry(events),
		evolve.WithMetrics(metrics),
		evolve.WithBlueprint(s.cfg.BlueprintName),
	}
	if s.cfg.CarryMetrics {
		opts = append(opts, evolve.WithCarryOver())
	}
	loop, err := evolve.New(tr, s.store, opts...)
	if err != nil {
		return err
	}

	results, runErr := loop.RunCycles(cmd.Context(), cycleParams(pairs), count)

	metrics.SetGeneration(tr.Component(), tr.CurrentGeneration())
	if s.cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(s.cfg.MetricsTextfile); err != nil {
			s.printer.Error(err.Error())
		}
	}
	if runErr != nil {
		return runErr
	}

	if n := len(results); n > 0 && results[n-1].Aborted() {
		s.printer.Info(fmt.Sprintf("stopped after %d of %d cycle(s)", n, count))
	}
	s.printer.Trend("avg_latency_ms", tr.MetricTrend("avg_latency_ms"))
	return nil
}

// cycleParams converts key=value flags to loop params. Values that parse as
// numbers or booleans keep that type.
func cycleParams(pairs []pair) evolve.Params {
	params := evolve.Params{}
	for _, p := range pairs {
		switch {
		case p.value == "true" || p.value == "false":
			params[p.key] = p.value == "true"
		default:
			if i, err := strconv.Atoi(p.value); err == nil {
				params[p.key] = i
			} else if f, err := strconv.ParseFloat(p.value, 64); err == nil {
				params[p.key] = f
			} else {
				params[p.key] = p.value
			}
		}
	}
	return params
}
