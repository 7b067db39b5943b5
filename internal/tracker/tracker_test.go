package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func TestTracker_Lifecycle(t *testing.T) {
	t.Parallel()
	tr := New("TestComponent", WithClock(fixedClock()))
	require.Equal(t, 0, tr.CurrentGeneration())

	gen := tr.StartNextGeneration()
	require.Equal(t, 1, gen)

	tr.LogMetric("cpu_usage", 45.5, nil)
	tr.LogMetric("memory_mb", 1024, nil)

	path := filepath.Join(t.TempDir(), "build.log")
	require.NoError(t, os.WriteFile(path, []byte("Build success"), 0o644))
	_, err := tr.RegisterArtifact("build_log", path, "")
	require.NoError(t, err)

	snap, err := tr.Finalize(StatusStable, []string{"Initial release"})
	require.NoError(t, err)

	assert.Len(t, tr.History(), 1)
	assert.Equal(t, 1, snap.GenID)
	assert.Equal(t, "cpu_usage", snap.Metrics[0].Name)
	assert.Equal(t, StatusStable, snap.Status)
	assert.Contains(t, snap.Artifacts, "build_log")
	assert.Equal(t, "file", snap.Artifacts["build_log"].Type)
	assert.Nil(t, snap.ParentGenID)
	assert.Equal(t, []string{"Initial release"}, snap.Changelog)
}

func TestTracker_GenerationSequenceAndParents(t *testing.T) {
	t.Parallel()
	tr := New("seq")
	for i := 0; i < 5; i++ {
		tr.StartNextGeneration()
		_, err := tr.Finalize(StatusStable, nil)
		require.NoError(t, err)
	}

	history := tr.History()
	require.Len(t, history, 5)
	for i, s := range history {
		assert.Equal(t, i+1, s.GenID, "gen id at index %d", i)
		if i == 0 {
			assert.Nil(t, s.ParentGenID)
			continue
		}
		require.NotNil(t, s.ParentGenID)
		assert.Equal(t, history[i-1].GenID, *s.ParentGenID)
	}
	assert.Equal(t, 5, tr.CurrentGeneration())
}

func TestTracker_MetricsOrderAndIsolation(t *testing.T) {
	t.Parallel()
	tr := New("iso")
	tr.StartNextGeneration()
	tr.LogMetric("a", 1, nil)
	tr.LogMetric("b", "two", nil)
	tr.LogMetric("a", 3, nil)
	first, err := tr.Finalize(StatusBeta, nil)
	require.NoError(t, err)

	tr.StartNextGeneration()
	tr.LogMetric("late", true, nil)

	names := make([]string, len(first.Metrics))
	for i, m := range first.Metrics {
		names[i] = m.Name
	}
	assert.Equal(t, []string{"a", "b", "a"}, names)

	sealed := tr.History()[0]
	for _, m := range sealed.Metrics {
		assert.NotEqual(t, "late", m.Name, "metric logged after advancing leaked into sealed snapshot")
	}
}

func TestTracker_StartNextGenerationDiscardsWorkingSet(t *testing.T) {
	t.Parallel()
	tr := New("discard")
	tr.StartNextGeneration()
	tr.LogMetric("orphan", 1, nil)
	_, err := tr.RegisterArtifact("missing", "/nonexistent/artifact", "log")
	require.NoError(t, err)

	tr.StartNextGeneration()
	metrics, artifacts := tr.WorkingSet()
	assert.Empty(t, metrics)
	assert.Empty(t, artifacts)
}

func TestTracker_FinalizeKeepsWorkingSet(t *testing.T) {
	t.Parallel()
	tr := New("keep")
	tr.StartNextGeneration()
	tr.LogMetric("latency", 12.5, nil)

	_, err := tr.Finalize(StatusStable, nil)
	require.NoError(t, err)
	tr.LogMetric("late", true, nil)

	metrics, _ := tr.WorkingSet()
	require.Len(t, metrics, 2)
	assert.Equal(t, "latency", metrics[0].Name)
	assert.Equal(t, "late", metrics[1].Name)
	assert.Equal(t, 1, tr.CurrentGeneration())
}

func TestTracker_SnapshotsAreImmutable(t *testing.T) {
	t.Parallel()
	tags := map[string]string{"env": "prod"}
	tr := New("immut")
	tr.StartNextGeneration()
	tr.LogMetric("m", 1, tags)
	notes := []string{"note"}
	snap, err := tr.Finalize(StatusStable, notes)
	require.NoError(t, err)

	// Mutating inputs and returned copies must not reach history.
	tags["env"] = "dev"
	notes[0] = "changed"
	snap.Metrics[0].Tags["env"] = "hacked"
	snap.Changelog = append(snap.Changelog, "extra")

	// Finalize copies the working set rather than moving it.
	tr.LogMetric("after", 2, nil)

	sealed := tr.History()[0]
	assert.Equal(t, "prod", sealed.Metrics[0].Tags["env"])
	assert.Equal(t, []string{"note"}, sealed.Changelog)
	assert.Len(t, sealed.Metrics, 1)
}

func TestTracker_FinalizeTwiceLenient(t *testing.T) {
	t.Parallel()
	tr := New("lenient")
	tr.StartNextGeneration()
	_, err := tr.Finalize(StatusStable, nil)
	require.NoError(t, err)
	second, err := tr.Finalize(StatusStable, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, second.GenID)
	assert.Len(t, tr.History(), 2)
}

func TestTracker_FinalizeTwiceStrict(t *testing.T) {
	t.Parallel()
	tr := New("strict", WithStrict())
	tr.StartNextGeneration()
	_, err := tr.Finalize(StatusStable, nil)
	require.NoError(t, err)

	_, err = tr.Finalize(StatusStable, nil)
	require.ErrorIs(t, err, ErrAlreadyFinalized)

	var se *StateError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 1, se.GenID)
	assert.Len(t, tr.History(), 1)
}

func TestTracker_GenerationZeroSnapshot(t *testing.T) {
	t.Parallel()
	tr := New("DataProcessor")
	snap, err := tr.Finalize(StatusAlpha, []string{"Initial setup"})
	require.NoError(t, err)
	assert.Equal(t, 0, snap.GenID)
	assert.Nil(t, snap.ParentGenID)

	tr.StartNextGeneration()
	next, err := tr.Finalize(StatusStable, nil)
	require.NoError(t, err)
	require.NotNil(t, next.ParentGenID)
	assert.Equal(t, 0, *next.ParentGenID)
}

func TestTracker_MetricTrend(t *testing.T) {
	t.Parallel()
	tr := New("trend")

	tr.StartNextGeneration()
	tr.LogMetric("x", 10, nil)
	tr.LogMetric("x", 99, nil)
	_, err := tr.Finalize(StatusStable, nil)
	require.NoError(t, err)

	tr.StartNextGeneration()
	tr.LogMetric("y", 1, nil)
	_, err = tr.Finalize(StatusStable, nil)
	require.NoError(t, err)

	tr.StartNextGeneration()
	tr.LogMetric("x", 30, nil)
	_, err = tr.Finalize(StatusStable, nil)
	require.NoError(t, err)

	assert.Equal(t, []TrendPoint{{GenID: 1, Value: 10}, {GenID: 3, Value: 30}}, tr.MetricTrend("x"))
	assert.Empty(t, tr.MetricTrend("absent"))
}

func TestTracker_RegisterArtifactChecksum(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	content := []byte("payload")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	sum := sha256.Sum256(content)

	tests := []struct {
		name string
		path string
		want string
	}{
		{"regular file", path, hex.EncodeToString(sum[:])},
		{"missing file", filepath.Join(dir, "nope"), ChecksumUnknown},
		{"directory", dir, ChecksumUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New("artifacts")
			a, err := tr.RegisterArtifact("art", tt.path, "bin")
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Checksum)
			assert.Equal(t, "bin", a.Type)
		})
	}
}

func TestTracker_RegisterArtifactOverwrites(t *testing.T) {
	t.Parallel()
	tr := New("overwrite")
	tr.StartNextGeneration()
	_, err := tr.RegisterArtifact("log", "/first/path", "")
	require.NoError(t, err)
	_, err = tr.RegisterArtifact("log", "/second/path", "")
	require.NoError(t, err)

	_, artifacts := tr.WorkingSet()
	require.Len(t, artifacts, 1)
	assert.Equal(t, "/second/path", artifacts["log"].Path)
}

func TestTracker_PersistCallback(t *testing.T) {
	t.Parallel()
	var saved []Record
	tr := New("CallbackTest", WithPersist(func(r Record) error {
		saved = append(saved, r)
		return nil
	}))
	tr.StartNextGeneration()
	_, err := tr.Finalize(StatusStable, nil)
	require.NoError(t, err)

	require.Len(t, saved, 1)
	assert.Equal(t, "CallbackTest", saved[0].Component)
	assert.Equal(t, 1, saved[0].GenID)
	assert.Equal(t, StatusStable, saved[0].Status)
	assert.Equal(t, []string{}, saved[0].Changelog)
}

func TestTracker_PersistErrorPropagates(t *testing.T) {
	t.Parallel()
	boom := errors.New("disk full")
	tr := New("fail", WithPersist(func(Record) error { return boom }))
	tr.StartNextGeneration()

	snap, err := tr.Finalize(StatusStable, nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, snap.GenID)
	assert.Len(t, tr.History(), 1, "snapshot is appended before the callback runs")
}

func TestTracker_WithHistoryResumes(t *testing.T) {
	t.Parallel()
	orig := New("resume")
	for i := 0; i < 3; i++ {
		orig.StartNextGeneration()
		_, err := orig.Finalize(StatusStable, nil)
		require.NoError(t, err)
	}

	resumed := New("resume", WithHistory(orig.History()))
	assert.Equal(t, 3, resumed.CurrentGeneration())
	resumed.StartNextGeneration()
	snap, err := resumed.Finalize(StatusStable, nil)
	require.NoError(t, err)
	require.NotNil(t, snap.ParentGenID)
	assert.Equal(t, 3, *snap.ParentGenID)
	assert.Equal(t, 4, snap.GenID)
}

func TestStatus_ParseAndText(t *testing.T) {
	t.Parallel()
	for _, s := range []Status{StatusAlpha, StatusBeta, StatusStable, StatusDeprecated} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var back Status
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}

	got, err := ParseStatus(" beta ")
	require.NoError(t, err)
	assert.Equal(t, StatusBeta, got)

	_, err = ParseStatus("gold")
	assert.ErrorIs(t, err, ErrUnknownStatus)
	assert.Equal(t, "UNKNOWN", Status(42).String())
}
