package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/helix/internal/evolve"
	"github.com/papapumpkin/helix/internal/tracker"
)

// defaultBlueprint seeds a component that has no blueprint file.
const defaultBlueprint = `# %[1]s blueprint
name: %[1]s
version: 1.0.0

pipeline:
  - step: ingest
    type: file_reader
  - step: process
    type: simple_transform
  - step: output
    type: console_writer
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Seal generation 0 and save the initial blueprint",
	Long: `Seals generation 0 of the component with the given status and notes, and
saves the initial blueprint under tag 0.0. Refuses to run when the component
already has history.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().String("status", "ALPHA", "status of generation 0 (ALPHA, BETA, STABLE, DEPRECATED)")
	initCmd.Flags().StringSlice("note", []string{"Initial setup"}, "changelog entry (repeatable)")
	initCmd.Flags().String("blueprint-file", "", "initial blueprint content (default: a template)")
	initCmd.Flags().StringArray("artifact", nil, "artifact to register as name=path (repeatable)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	statusFlag, _ := cmd.Flags().GetString("status")
	notes, _ := cmd.Flags().GetStringSlice("note")
	bpFile, _ := cmd.Flags().GetString("blueprint-file")
	artifactFlags, _ := cmd.Flags().GetStringArray("artifact")

	status, err := tracker.ParseStatus(statusFlag)
	if err != nil {
		return err
	}
	artifacts, err := parsePairs(artifactFlags)
	if err != nil {
		return fmt.Errorf("invalid --artifact: %w", err)
	}

	s, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer s.Close()

	existing, err := s.loadHistory()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return fmt.Errorf("%s already has %d generation(s) in %s", s.cfg.Component, len(existing), s.cfg.HistoryFile)
	}

	content := fmt.Sprintf(defaultBlueprint, s.cfg.Component)
	if bpFile != "" {
		data, err := os.ReadFile(bpFile)
		if err != nil {
			return fmt.Errorf("reading blueprint: %w", err)
		}
		content = string(data)
	}
	tag := evolve.DefaultTag(0)
	path, err := s.store.Save(s.cfg.BlueprintName, content, tag)
	if err != nil {
		return err
	}

	tr, err := s.openTracker(cmd.Context())
	if err != nil {
		return err
	}
	if _, err := tr.RegisterArtifact("blueprint", path, "blueprint"); err != nil {
		return err
	}
	for _, a := range artifacts {
		if _, err := tr.RegisterArtifact(a.key, a.value, ""); err != nil {
			return fmt.Errorf("registering artifact %q: %w", a.key, err)
		}
	}

	snap, err := tr.Finalize(status, notes)
	if err != nil {
		return err
	}
	s.printer.GenerationSealed(snap)
	s.printer.Info(fmt.Sprintf("blueprint %s:%s saved to %s", s.cfg.BlueprintName, tag, path))
	return nil
}

// pair is one parsed key=value flag.
type pair struct {
	key, value string
}

// parsePairs splits key=value flags, preserving their order.
func parsePairs(raw []string) ([]pair, error) {
	pairs := make([]pair, 0, len(raw))
	for _, r := range raw {
		k, v, ok := strings.Cut(r, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("%q is not key=value", r)
		}
		pairs = append(pairs, pair{key: strings.TrimSpace(k), value: v})
	}
	return pairs, nil
}
