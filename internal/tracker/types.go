package tracker

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Status is the release maturity of a sealed generation.
type Status int

const (
	StatusAlpha      Status = iota // Early, unstable generation.
	StatusBeta                     // Feature complete, still settling.
	StatusStable                   // Default for finalized generations.
	StatusDeprecated               // Superseded; kept for lineage only.
)

// String returns the upper-case name of the status.
func (s Status) String() string {
	switch s {
	case StatusAlpha:
		return "ALPHA"
	case StatusBeta:
		return "BETA"
	case StatusStable:
		return "STABLE"
	case StatusDeprecated:
		return "DEPRECATED"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus converts a status name (case-insensitive) to a Status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ALPHA":
		return StatusAlpha, nil
	case "BETA":
		return StatusBeta, nil
	case "STABLE":
		return StatusStable, nil
	case "DEPRECATED":
		return StatusDeprecated, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// MarshalText renders the status as its name so that every encoder
// (JSON, TOML, YAML) stores "STABLE" rather than an integer.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Metric is a single measurement recorded during a generation. Value holds a
// number, string or bool.
type Metric struct {
	Name      string
	Value     any
	Timestamp time.Time
	Tags      map[string]string
}

// Artifact is a file produced during a generation.
type Artifact struct {
	Name     string
	Type     string
	Path     string
	Checksum string // sha256 hex, or ChecksumUnknown
	Metadata map[string]string
}

// ChecksumUnknown is recorded when an artifact path is missing or is not a
// regular file.
const ChecksumUnknown = "unknown"

// Snapshot is the sealed, immutable record of one generation.
type Snapshot struct {
	GenID       int
	Component   string
	Timestamp   string
	Status      Status
	Metrics     []Metric
	Artifacts   map[string]Artifact
	Changelog   []string
	ParentGenID *int
}

// TrendPoint is one generation's value for a metric. Integer values are int
// and floats are float64, whether the history was logged live or loaded.
type TrendPoint struct {
	GenID int
	Value any
}

func (m Metric) clone() Metric {
	m.Tags = maps.Clone(m.Tags)
	return m
}

func (a Artifact) clone() Artifact {
	a.Metadata = maps.Clone(a.Metadata)
	return a
}

func cloneMetrics(in []Metric) []Metric {
	out := make([]Metric, len(in))
	for i, m := range in {
		out[i] = m.clone()
	}
	return out
}

func cloneArtifacts(in map[string]Artifact) map[string]Artifact {
	out := make(map[string]Artifact, len(in))
	for k, a := range in {
		out[k] = a.clone()
	}
	return out
}

// clone returns a deep copy so callers can never reach into history.
func (s Snapshot) clone() Snapshot {
	s.Metrics = cloneMetrics(s.Metrics)
	s.Artifacts = cloneArtifacts(s.Artifacts)
	s.Changelog = slices.Clone(s.Changelog)
	if s.ParentGenID != nil {
		p := *s.ParentGenID
		s.ParentGenID = &p
	}
	return s
}

// FirstMetric returns the first metric logged under name, if any.
func (s Snapshot) FirstMetric(name string) (Metric, bool) {
	for _, m := range s.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}
