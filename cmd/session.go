package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/helix/internal/archive"
	"github.com/papapumpkin/helix/internal/blueprint"
	"github.com/papapumpkin/helix/internal/config"
	"github.com/papapumpkin/helix/internal/logging"
	"github.com/papapumpkin/helix/internal/tracker"
	"github.com/papapumpkin/helix/internal/ui"
)

// session bundles what most commands need: configuration, a logger, the
// component's history and its blueprint store.
type session struct {
	cfg     config.Config
	log     *logging.Logger
	history tracker.HistoryFile
	store   *blueprint.Store
	archive *archive.Archive // nil unless opened with withArchive
	printer *ui.Printer
}

// openSession loads configuration and opens the blueprint store. The
// archive is only opened when withArchive is set, so read-only commands do
// not create a database.
func openSession(cmd *cobra.Command, withArchive bool) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	lc := cfg.LoggingConfig("helix")
	lc.Quiet = !verbose
	lc.Stderr = cmd.ErrOrStderr()
	logger, err := logging.New(lc)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:     cfg,
		log:     logger,
		history: tracker.HistoryFile{Path: cfg.HistoryFile, Component: cfg.Component},
		printer: ui.NewWithWriter(cmd.ErrOrStderr()),
	}

	s.store, err = blueprint.NewStore(cfg.BlueprintDir, blueprint.WithLogger(s.logger()))
	if err != nil {
		s.Close()
		return nil, err
	}

	if withArchive {
		s.archive, err = archive.Open(cmd.Context(), cfg.ArchivePath)
		if err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *session) logger() *slog.Logger {
	return s.log.Logger
}

// loadHistory reads the component's history file.
func (s *session) loadHistory() ([]tracker.Snapshot, error) {
	return s.history.Load()
}

// openTracker resumes the component's tracker from its history file. Every
// snapshot it seals is appended to the history file and, when open, the
// archive.
func (s *session) openTracker(ctx context.Context) (*tracker.Tracker, error) {
	history, err := s.loadHistory()
	if err != nil {
		return nil, err
	}

	var mirrors []tracker.PersistFunc
	if s.archive != nil {
		mirrors = append(mirrors, s.archive.PersistFunc(ctx))
	}

	opts := []tracker.Option{
		tracker.WithHistory(history),
		tracker.WithPersist(persistAll(s.logger(), s.history.Persist, mirrors...)),
		tracker.WithLogger(s.logger()),
	}
	if s.cfg.Strict {
		opts = append(opts, tracker.WithStrict())
	}
	return tracker.New(s.cfg.Component, opts...), nil
}

// Close releases the archive and the log file.
func (s *session) Close() error {
	var errs []error
	if s.archive != nil {
		errs = append(errs, s.archive.Close())
	}
	errs = append(errs, s.log.Close())
	return errors.Join(errs...)
}

// persistAll writes a record to the authoritative history sink and then to
// every mirror. Only a primary failure is returned; mirror failures are
// logged so the history file and the tracker never disagree.
func persistAll(logger *slog.Logger, primary tracker.PersistFunc, mirrors ...tracker.PersistFunc) tracker.PersistFunc {
	return func(r tracker.Record) error {
		if err := primary(r); err != nil {
			return err
		}
		for _, mirror := range mirrors {
			if err := mirror(r); err != nil {
				logger.Warn("mirror persist failed", "component", r.Component, "gen", r.GenID, "error", err)
			}
		}
		return nil
	}
}
