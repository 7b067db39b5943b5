// Package tracker maintains the generation lineage of a single component:
// a monotonically increasing generation counter, an open working set of
// metrics and artifacts, and an append-only history of sealed snapshots.
//
// A Tracker is not safe for concurrent use. Callers that share one across
// goroutines must serialize access themselves, since the
// log-then-finalize pattern spans several calls.
package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/papapumpkin/helix/internal/logging"
)

// PersistFunc receives the serializable form of every finalized snapshot.
// A returned error is propagated to the Finalize caller.
type PersistFunc func(Record) error

// Option configures a Tracker.
type Option func(*Tracker)

// WithPersist registers a callback invoked synchronously after each
// snapshot is appended to history.
func WithPersist(fn PersistFunc) Option {
	return func(t *Tracker) { t.persist = fn }
}

// WithLogger sets the structured logger. A nil logger discards output.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithClock overrides the time source used for metric and snapshot
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithHistory seeds the tracker with previously persisted snapshots. The
// generation counter resumes at the last snapshot's GenID.
func WithHistory(history []Snapshot) Option {
	return func(t *Tracker) {
		t.history = make([]Snapshot, len(history))
		for i, s := range history {
			t.history[i] = s.clone()
		}
		if n := len(history); n > 0 {
			t.current = history[n-1].GenID
		}
	}
}

// WithStrict makes Finalize reject sealing a generation that is already the
// last entry in history.
func WithStrict() Option {
	return func(t *Tracker) { t.strict = true }
}

// workingSet holds the mutable, not-yet-sealed data of the open generation.
type workingSet struct {
	metrics   []Metric
	artifacts map[string]Artifact
}

func newWorkingSet() workingSet {
	return workingSet{artifacts: make(map[string]Artifact)}
}

// Tracker records the evolution of one named component.
type Tracker struct {
	component string
	current   int
	history   []Snapshot
	open      workingSet

	persist PersistFunc
	logger  *slog.Logger
	now     func() time.Time
	strict  bool
}

// New creates a tracker for component with generation counter 0 and empty
// history.
func New(component string, opts ...Option) *Tracker {
	t := &Tracker{
		component: component,
		open:      newWorkingSet(),
		logger:    logging.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", component)
	return t
}

// Component returns the tracked component's name.
func (t *Tracker) Component() string { return t.component }

// CurrentGeneration returns the generation id of the open generation. It is
// 0 until StartNextGeneration is first called on a fresh tracker.
func (t *Tracker) CurrentGeneration() int { return t.current }

// History returns a copy of the sealed snapshots in generation order.
func (t *Tracker) History() []Snapshot {
	out := make([]Snapshot, len(t.history))
	for i, s := range t.history {
		out[i] = s.clone()
	}
	return out
}

// Latest returns the most recently sealed snapshot.
func (t *Tracker) Latest() (Snapshot, bool) {
	if len(t.history) == 0 {
		return Snapshot{}, false
	}
	return t.history[len(t.history)-1].clone(), true
}

// WorkingSet returns copies of the metrics and artifacts logged against the
// open generation.
func (t *Tracker) WorkingSet() ([]Metric, map[string]Artifact) {
	return cloneMetrics(t.open.metrics), cloneArtifacts(t.open.artifacts)
}

// StartNextGeneration advances the counter and discards the open working
// set, including anything never finalized. It returns the new generation id.
func (t *Tracker) StartNextGeneration() int {
	t.current++
	t.open = newWorkingSet()
	t.logger.Info("generation started", "gen", t.current)
	return t.current
}

// LogMetric appends a metric to the open working set. Several metrics with
// the same name may be logged in one generation; all are kept in order.
func (t *Tracker) LogMetric(name string, value any, tags map[string]string) {
	m := Metric{
		Name:      name,
		Value:     value,
		Timestamp: t.now(),
		Tags:      maps.Clone(tags),
	}
	if m.Tags == nil {
		m.Tags = map[string]string{}
	}
	t.open.metrics = append(t.open.metrics, m)
	t.logger.Debug("metric logged", "gen", t.current, "name", name, "value", value)
}

// RegisterArtifact records a file artifact for the open generation,
// replacing any artifact previously registered under name. The checksum is
// computed from the file contents when path is a regular file and is
// ChecksumUnknown otherwise. An empty typeHint defaults to "file".
func (t *Tracker) RegisterArtifact(name, path, typeHint string) (Artifact, error) {
	if typeHint == "" {
		typeHint = "file"
	}
	sum, err := checksumFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("registering artifact %q: %w", name, err)
	}
	a := Artifact{
		Name:     name,
		Type:     typeHint,
		Path:     path,
		Checksum: sum,
		Metadata: map[string]string{},
	}
	t.open.artifacts[name] = a
	t.logger.Info("artifact registered", "gen", t.current, "name", name, "path", path)
	return a.clone(), nil
}

// Finalize seals the open generation into history with the given status and
// changelog notes. The parent is the previous history entry. The working set
// is copied, not cleared, and the counter is not advanced.
//
// Finalizing twice without StartNextGeneration in between produces two
// snapshots with the same GenID. Lenient trackers allow it; strict trackers
// return ErrAlreadyFinalized.
//
// The persistence callback runs after the snapshot is appended. Its error is
// returned together with the snapshot, which stays in history.
func (t *Tracker) Finalize(status Status, notes []string) (Snapshot, error) {
	if t.strict && len(t.history) > 0 && t.history[len(t.history)-1].GenID == t.current {
		return Snapshot{}, &StateError{Component: t.component, GenID: t.current, Err: ErrAlreadyFinalized}
	}

	var parent *int
	if n := len(t.history); n > 0 {
		p := t.history[n-1].GenID
		parent = &p
	}

	changelog := slices.Clone(notes)
	if changelog == nil {
		changelog = []string{}
	}

	snap := Snapshot{
		GenID:       t.current,
		Component:   t.component,
		Timestamp:   t.now().Format(time.RFC3339Nano),
		Status:      status,
		Metrics:     cloneMetrics(t.open.metrics),
		Artifacts:   cloneArtifacts(t.open.artifacts),
		Changelog:   changelog,
		ParentGenID: parent,
	}
	t.history = append(t.history, snap)

	if t.persist != nil {
		if err := t.persist(snap.Record()); err != nil {
			return snap.clone(), fmt.Errorf("persisting generation %d: %w", snap.GenID, err)
		}
	}

	t.logger.Info("generation finalized", "gen", snap.GenID, "status", status.String(), "metrics", len(snap.Metrics))
	return snap.clone(), nil
}

// MetricTrend returns, in history order, the value of the first metric named
// name in each snapshot. Snapshots without such a metric are skipped.
func (t *Tracker) MetricTrend(name string) []TrendPoint {
	var trend []TrendPoint
	for _, s := range t.history {
		if m, ok := s.FirstMetric(name); ok {
			trend = append(trend, TrendPoint{GenID: s.GenID, Value: m.Value})
		}
	}
	return trend
}

// checksumFile hashes the file at path. Missing paths and non-regular files
// yield ChecksumUnknown; other I/O failures are returned.
func checksumFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ChecksumUnknown, nil
		}
		return "", err
	}
	if !info.Mode().IsRegular() {
		return ChecksumUnknown, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
