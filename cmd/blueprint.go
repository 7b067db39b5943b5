package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/helix/internal/blueprint"
	"github.com/papapumpkin/helix/internal/ui"
)

var blueprintCmd = &cobra.Command{
	Use:     "blueprint",
	Aliases: []string{"bp"},
	Short:   "Manage versioned blueprints",
}

var blueprintSaveCmd = &cobra.Command{
	Use:   "save <name> <tag> <file>",
	Short: "Save a file as a blueprint version (use - for stdin)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, tag, file := args[0], args[1], args[2]

		var (
			data []byte
			err  error
		)
		if file == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(file)
		}
		if err != nil {
			return fmt.Errorf("reading blueprint: %w", err)
		}

		s, err := openSession(cmd, false)
		if err != nil {
			return err
		}
		defer s.Close()

		path, err := s.store.Save(name, string(data), tag)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var blueprintShowCmd = &cobra.Command{
	Use:   "show <name> <tag>",
	Short: "Print a blueprint version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, false)
		if err != nil {
			return err
		}
		defer s.Close()

		content, found, err := s.store.Load(args[0], args[1])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%s:%s: %w", args[0], args[1], blueprint.ErrNotFound)
		}
		fmt.Fprint(cmd.OutOrStdout(), content)
		return nil
	},
}

var blueprintDiffCmd = &cobra.Command{
	Use:   "diff <name> <v1> <v2>",
	Short: "Show a unified diff between two blueprint versions",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		stat, _ := cmd.Flags().GetBool("stat")

		s, err := openSession(cmd, false)
		if err != nil {
			return err
		}
		defer s.Close()

		lines, err := s.store.Diff(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		if !stat {
			ui.NewWithWriter(cmd.OutOrStdout()).Diff(lines)
			return nil
		}

		st, err := blueprint.DiffStat(lines)
		if errors.Is(err, blueprint.ErrNotFound) {
			fmt.Fprintln(cmd.OutOrStdout(), blueprint.NotFoundMessage)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%d hunk(s))\n", st, st.Hunks)
		return nil
	},
}

var blueprintVersionsCmd = &cobra.Command{
	Use:   "versions <name>",
	Short: "List the saved version tags of a blueprint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, false)
		if err != nil {
			return err
		}
		defer s.Close()

		tags, err := s.store.Versions(args[0])
		if err != nil {
			return err
		}
		for _, tag := range tags {
			fmt.Fprintln(cmd.OutOrStdout(), tag)
		}
		return nil
	},
}

var blueprintRestoreCmd = &cobra.Command{
	Use:   "restore <name> <from> <to>",
	Short: "Copy an old blueprint version to a new tag",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, false)
		if err != nil {
			return err
		}
		defer s.Close()

		path, err := s.store.Restore(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var blueprintWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print blueprint versions as they are added, rewritten or removed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := openSession(cmd, false)
		if err != nil {
			return err
		}
		defer s.Close()

		w, err := s.store.NewWatcher()
		if err != nil {
			return fmt.Errorf("creating watcher: %w", err)
		}
		if err := w.Start(); err != nil {
			return fmt.Errorf("watching %s: %w", s.store.Root(), err)
		}
		defer w.Stop()

		s.printer.Info("watching " + s.store.Root())
		for {
			select {
			case <-cmd.Context().Done():
				return nil
			case c, ok := <-w.Changes:
				if !ok {
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s:%s\n", c.Kind, c.Name, c.Tag)
			}
		}
	},
}

func init() {
	blueprintDiffCmd.Flags().Bool("stat", false, "print only added/deleted line counts")

	blueprintCmd.AddCommand(blueprintSaveCmd)
	blueprintCmd.AddCommand(blueprintShowCmd)
	blueprintCmd.AddCommand(blueprintDiffCmd)
	blueprintCmd.AddCommand(blueprintVersionsCmd)
	blueprintCmd.AddCommand(blueprintRestoreCmd)
	blueprintCmd.AddCommand(blueprintWatchCmd)
	rootCmd.AddCommand(blueprintCmd)
}
