package tracker

import (
	"maps"
	"math"
	"slices"
	"time"
)

// Record is the plain serializable form of a Snapshot. It is what the
// persistence callback receives and what the history file stores.
type Record struct {
	GenID       int                       `json:"gen_id" toml:"gen_id" yaml:"gen_id"`
	Component   string                    `json:"component_name" toml:"component_name" yaml:"component_name"`
	Timestamp   string                    `json:"timestamp" toml:"timestamp" yaml:"timestamp"`
	Status      Status                    `json:"status" toml:"status" yaml:"status"`
	Metrics     []MetricRecord            `json:"metrics" toml:"metrics,omitempty" yaml:"metrics"`
	Artifacts   map[string]ArtifactRecord `json:"artifacts" toml:"artifacts,omitempty" yaml:"artifacts"`
	Changelog   []string                  `json:"changelog" toml:"changelog" yaml:"changelog"`
	ParentGenID *int                      `json:"parent_gen_id" toml:"parent_gen_id,omitempty" yaml:"parent_gen_id"`
}

// MetricRecord is the serializable form of a Metric.
type MetricRecord struct {
	Name      string            `json:"name" toml:"name" yaml:"name"`
	Value     any               `json:"value" toml:"value" yaml:"value"`
	Timestamp time.Time         `json:"timestamp" toml:"timestamp" yaml:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty" toml:"tags,omitempty" yaml:"tags,omitempty"`
}

// ArtifactRecord is the serializable form of an Artifact.
type ArtifactRecord struct {
	Name     string            `json:"name" toml:"name" yaml:"name"`
	Type     string            `json:"artifact_type" toml:"artifact_type" yaml:"artifact_type"`
	Path     string            `json:"path" toml:"path" yaml:"path"`
	Checksum string            `json:"content_checksum" toml:"content_checksum" yaml:"content_checksum"`
	Metadata map[string]string `json:"metadata,omitempty" toml:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Record converts the snapshot to its serializable form.
func (s Snapshot) Record() Record {
	metrics := make([]MetricRecord, len(s.Metrics))
	for i, m := range s.Metrics {
		metrics[i] = MetricRecord{
			Name:      m.Name,
			Value:     m.Value,
			Timestamp: m.Timestamp,
			Tags:      maps.Clone(m.Tags),
		}
	}

	artifacts := make(map[string]ArtifactRecord, len(s.Artifacts))
	for k, a := range s.Artifacts {
		artifacts[k] = ArtifactRecord{
			Name:     a.Name,
			Type:     a.Type,
			Path:     a.Path,
			Checksum: a.Checksum,
			Metadata: maps.Clone(a.Metadata),
		}
	}

	changelog := slices.Clone(s.Changelog)
	if changelog == nil {
		changelog = []string{}
	}

	r := Record{
		GenID:     s.GenID,
		Component: s.Component,
		Timestamp: s.Timestamp,
		Status:    s.Status,
		Metrics:   metrics,
		Artifacts: artifacts,
		Changelog: changelog,
	}
	if s.ParentGenID != nil {
		p := *s.ParentGenID
		r.ParentGenID = &p
	}
	return r
}

// Snapshot converts a record back to an in-memory Snapshot.
func (r Record) Snapshot() Snapshot {
	metrics := make([]Metric, len(r.Metrics))
	for i, m := range r.Metrics {
		metrics[i] = Metric{
			Name:      m.Name,
			Value:     normalizeValue(m.Value),
			Timestamp: m.Timestamp,
			Tags:      maps.Clone(m.Tags),
		}
	}

	artifacts := make(map[string]Artifact, len(r.Artifacts))
	for k, a := range r.Artifacts {
		artifacts[k] = Artifact{
			Name:     a.Name,
			Type:     a.Type,
			Path:     a.Path,
			Checksum: a.Checksum,
			Metadata: maps.Clone(a.Metadata),
		}
	}

	s := Snapshot{
		GenID:     r.GenID,
		Component: r.Component,
		Timestamp: r.Timestamp,
		Status:    r.Status,
		Metrics:   metrics,
		Artifacts: artifacts,
		Changelog: slices.Clone(r.Changelog),
	}
	if r.ParentGenID != nil {
		p := *r.ParentGenID
		s.ParentGenID = &p
	}
	return s
}

// normalizeValue maps decoded numbers back to the types LogMetric callers
// use: integers become int and floats become float64. Decoders hand back
// int64 (TOML) or other widths, which would make a resumed tracker's trends
// differ in type from a live one.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case int64:
		if n >= math.MinInt && n <= math.MaxInt {
			return int(n)
		}
	case int32:
		return int(n)
	case int16:
		return int(n)
	case int8:
		return int(n)
	case uint64:
		if n <= math.MaxInt {
			return int(n)
		}
	case uint32:
		return int(n)
	case uint16:
		return int(n)
	case uint8:
		return int(n)
	case uint:
		if n <= math.MaxInt {
			return int(n)
		}
	case float32:
		return float64(n)
	}
	return v
}
