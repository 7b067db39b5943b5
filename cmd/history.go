package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/papapumpkin/helix/internal/tracker"
	"github.com/papapumpkin/helix/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the sealed generations of the component",
	Long: `Prints the component's generations from the history file, or from the
SQLite archive with --archive. Machine-readable formats emit the same
records the persistence callback receives.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringP("format", "f", "text", "output format: text, json, yaml, toml")
	historyCmd.Flags().Bool("archive", false, "read from the SQLite archive instead of the history file")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	fromArchive, _ := cmd.Flags().GetBool("archive")

	s, err := openSession(cmd, fromArchive)
	if err != nil {
		return err
	}
	defer s.Close()

	var records []tracker.Record
	if fromArchive {
		records, err = s.archive.List(cmd.Context(), s.cfg.Component)
		if err != nil {
			return err
		}
	} else {
		history, err := s.loadHistory()
		if err != nil {
			return err
		}
		for _, snap := range history {
			records = append(records, snap.Record())
		}
	}
	if records == nil {
		records = []tracker.Record{}
	}

	return writeRecords(cmd.OutOrStdout(), format, s.cfg.Component, records)
}

// writeRecords renders records in the requested format.
func writeRecords(w io.Writer, format, component string, records []tracker.Record) error {
	switch format {
	case "text":
		history := make([]tracker.Snapshot, 0, len(records))
		for _, r := range records {
			history = append(history, r.Snapshot())
		}
		ui.NewWithWriter(w).History(component, history)
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return err
		}
		return enc.Close()
	case "toml":
		doc := struct {
			Component   string           `toml:"component"`
			Generations []tracker.Record `toml:"generations"`
		}{component, records}
		return toml.NewEncoder(w).Encode(doc)
	default:
		return fmt.Errorf("unknown format %q (want text, json, yaml or toml)", format)
	}
}
