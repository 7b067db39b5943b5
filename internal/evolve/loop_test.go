package evolve

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papapumpkin/helix/internal/blueprint"
	"github.com/papapumpkin/helix/internal/telemetry"
	"github.com/papapumpkin/helix/internal/tracker"
	"github.com/papapumpkin/helix/internal/ui"
)

// recordingUI captures the phases announced by the loop.
type recordingUI struct {
	ui.Nop
	phases  []string
	aborted []string
	sealed  []int
	done    []bool
}

func (r *recordingUI) PhaseStart(phase string)             { r.phases = append(r.phases, phase) }
func (r *recordingUI) CycleAborted(reason string)          { r.aborted = append(r.aborted, reason) }
func (r *recordingUI) GenerationSealed(s tracker.Snapshot) { r.sealed = append(r.sealed, s.GenID) }
func (r *recordingUI) CycleDone(_ int, validated bool)     { r.done = append(r.done, validated) }

func newLoop(t *testing.T, tr *tracker.Tracker, opts ...Option) *Loop {
	t.Helper()
	l, err := New(tr, nil, opts...)
	require.NoError(t, err)
	return l
}

func failingTest(context.Context, *Cycle) (*TestResult, error) {
	return &TestResult{Success: false, Coverage: 0.4, Failures: []string{"test_edge_case"}}, nil
}

func TestNew_NilTracker(t *testing.T) {
	t.Parallel()
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, ErrNilTracker)
}

func TestRunCycle_RunsAllPhases(t *testing.T) {
	t.Parallel()
	tr := tracker.New("svc")
	rec := &recordingUI{}
	l := newLoop(t, tr, WithUI(rec), WithIDFunc(func() string { return "cycle-1" }))

	res, err := l.RunCycle(context.Background(), Params{"target": "core_module"})
	require.NoError(t, err)

	assert.Equal(t, "cycle-1", res.ID)
	assert.Equal(t, []string{"test", "analyze", "apply", "advance", "validate"}, res.Keys())
	assert.False(t, res.Aborted())
	assert.Equal(t, []string{"TEST", "ANALYZE", "APPLY", "ADVANCE", "VALIDATE"}, rec.phases)
	assert.Equal(t, PhaseValidate, l.CurrentPhase())

	assert.Equal(t, 1, tr.CurrentGeneration())
	history := tr.History()
	require.Len(t, history, 1)
	snap := history[0]
	assert.Equal(t, 1, snap.GenID)
	assert.Equal(t, tracker.StatusStable, snap.Status)
	assert.Equal(t, res.Apply.Changes, snap.Changelog)
	assert.Equal(t, 1, res.Advance.GenID)
	assert.Equal(t, snap.Timestamp, res.Advance.SnapshotID)

	require.Len(t, snap.Metrics, 1, "TEST metrics are discarded when ADVANCE opens the generation")
	assert.Equal(t, MetricAppliedChange, snap.Metrics[0].Name)
	assert.Equal(t, 1, snap.Metrics[0].Value)
	assert.Equal(t, map[string]string{"desc": "Ran optimizer"}, snap.Metrics[0].Tags)

	// Finalize keeps the working set, so the sealed applied_change metric
	// is still open when VALIDATE appends its result.
	open, _ := tr.WorkingSet()
	require.Len(t, open, 2)
	assert.Equal(t, MetricAppliedChange, open[0].Name)
	assert.Equal(t, MetricValidationSuccess, open[1].Name)
	assert.Equal(t, 1, open[1].Value)
	assert.Equal(t, []int{1}, rec.sealed)
	assert.Equal(t, []bool{true}, rec.done)
}

func TestRunCycle_TestFailureAborts(t *testing.T) {
	t.Parallel()
	tr := tracker.New("svc")
	rec := &recordingUI{}
	never := func(string) {
		t.Helper()
		t.Errorf("phase ran after a failed test")
	}
	l := newLoop(t, tr, WithUI(rec), WithStrategies(Strategies{
		Test: failingTest,
		Analyze: func(context.Context, *Cycle, *TestResult) (*Analysis, error) {
			never("analyze")
			return nil, nil
		},
		Apply: func(context.Context, *Cycle, *Analysis) (*ApplyResult, error) {
			never("apply")
			return nil, nil
		},
	}))

	res, err := l.RunCycle(context.Background(), nil)
	require.NoError(t, err, "an abort is an outcome, not an error")
	assert.Equal(t, []string{"test"}, res.Keys())
	assert.True(t, res.Aborted())
	assert.Equal(t, 0, tr.CurrentGeneration())
	assert.Empty(t, tr.History())
	assert.Equal(t, PhaseTest, l.CurrentPhase())
	assert.Equal(t, []string{"TEST"}, rec.phases)
	require.Len(t, rec.aborted, 1)
	assert.Contains(t, rec.aborted[0], "1 failure(s)")
}

func TestRunCycle_PhaseSetBeforeLogic(t *testing.T) {
	t.Parallel()
	tr := tracker.New("svc")
	var l *Loop
	var seen []Phase
	l = newLoop(t, tr, WithStrategies(Strategies{
		Test: func(ctx context.Context, c *Cycle) (*TestResult, error) {
			seen = append(seen, l.CurrentPhase())
			return DefaultTest(ctx, c)
		},
		Analyze: func(ctx context.Context, c *Cycle, test *TestResult) (*Analysis, error) {
			seen = append(seen, l.CurrentPhase())
			return DefaultAnalyze(ctx, c, test)
		},
		Apply: func(ctx context.Context, c *Cycle, a *Analysis) (*ApplyResult, error) {
			seen = append(seen, l.CurrentPhase())
			assert.Equal(t, 0, c.Tracker.CurrentGeneration(), "APPLY runs before the generation advances")
			return DefaultApply(ctx, c, a)
		},
		Validate: func(ctx context.Context, c *Cycle, adv *AdvanceResult) (*ValidateResult, error) {
			seen = append(seen, l.CurrentPhase())
			assert.Equal(t, 1, adv.GenID)
			return DefaultValidate(ctx, c, adv)
		},
	}))

	_, err := l.RunCycle(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []Phase{PhaseTest, PhaseAnalyze, PhaseApply, PhaseValidate}, seen)
}

func TestRunCycle_StrategyErrorPropagates(t *testing.T) {
	t.Parallel()
	boom := errors.New("optimizer crashed")
	tr := tracker.New("svc")
	l := newLoop(t, tr, WithStrategies(Strategies{
		Apply: func(context.Context, *Cycle, *Analysis) (*ApplyResult, error) {
			return nil, boom
		},
	}))

	res, err := l.RunCycle(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var perr *PhaseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, PhaseApply, perr.Phase)
	assert.Equal(t, "APPLY phase: optimizer crashed", err.Error())

	require.NotNil(t, res)
	assert.Equal(t, []string{"test", "analyze"}, res.Keys())
	assert.Equal(t, 0, tr.CurrentGeneration())
	assert.Empty(t, tr.History())
}

func TestRunCycle_ValidationFailureKeepsGeneration(t *testing.T) {
	t.Parallel()
	tr := tracker.New("svc")
	rec := &recordingUI{}
	l := newLoop(t, tr, WithUI(rec), WithStrategies(Strategies{
		Validate: func(context.Context, *Cycle, *AdvanceResult) (*ValidateResult, error) {
			return &ValidateResult{Validated: false, Score: 12}, nil
		},
	}))

	res, err := l.RunCycle(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, res.Validate.Validated)
	assert.Equal(t, 1, tr.CurrentGeneration())
	assert.Len(t, tr.History(), 1, "validation never rolls back")

	open, _ := tr.WorkingSet()
	require.NotEmpty(t, open)
	last := open[len(open)-1]
	assert.Equal(t, MetricValidationSuccess, last.Name)
	assert.Equal(t, 0, last.Value)
	assert.Equal(t, []bool{false}, rec.done)
}

func TestRunCycle_ContextCanceled(t *testing.T) {
	t.Parallel()

	t.Run("before test", func(t *testing.T) {
		tr := tracker.New("svc")
		l := newLoop(t, tr)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res, err := l.RunCycle(ctx, nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, res.Keys())
	})

	t.Run("between phases", func(t *testing.T) {
		tr := tracker.New("svc")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		l := newLoop(t, tr, WithStrategies(Strategies{
			Analyze: func(ctx context.Context, c *Cycle, test *TestResult) (*Analysis, error) {
				cancel()
				return DefaultAnalyze(ctx, c, test)
			},
		}))

		res, err := l.RunCycle(ctx, nil)
		assert.ErrorIs(t, err, context.Canceled)
		var perr *PhaseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, PhaseApply, perr.Phase)
		assert.Equal(t, []string{"test", "analyze"}, res.Keys())
		assert.Equal(t, 0, tr.CurrentGeneration())
	})
}

func TestRunCycle_PersistErrorPropagates(t *testing.T) {
	t.Parallel()
	diskFull := errors.New("disk full")
	tr := tracker.New("svc", tracker.WithPersist(func(tracker.Record) error { return diskFull }))
	l := newLoop(t, tr)

	res, err := l.RunCycle(context.Background(), nil)
	assert.ErrorIs(t, err, diskFull)
	require.NotNil(t, res.Advance, "the generation was sealed before persistence failed")
	assert.Equal(t, 1, res.Advance.GenID)
	assert.Nil(t, res.Validate)
	assert.Len(t, tr.History(), 1)
}

func TestRunCycle_StrictDoubleFinalize(t *testing.T) {
	t.Parallel()
	tr := tracker.New("svc", tracker.WithStrict())
	l := newLoop(t, tr, WithStrategies(Strategies{
		Apply: func(_ context.Context, c *Cycle, _ *Analysis) (*ApplyResult, error) {
			// Sealing the next generation behind the loop's back.
			c.Tracker.StartNextGeneration()
			_, err := c.Tracker.Finalize(tracker.StatusBeta, nil)
			require.NoError(t, err)
			return &ApplyResult{Changes: []string{"x"}}, nil
		},
	}))

	res, err := l.RunCycle(context.Background(), nil)
	require.NoError(t, err, "ADVANCE opens a fresh generation, so strict mode is satisfied")
	assert.Equal(t, 2, res.Advance.GenID)
	assert.Len(t, tr.History(), 2)
}

func TestRunCycle_CarryOver(t *testing.T) {
	t.Parallel()
	tr := tracker.New("svc")
	l := newLoop(t, tr, WithCarryOver())

	_, err := l.RunCycle(context.Background(), nil)
	require.NoError(t, err)
	_, err = l.RunCycle(context.Background(), nil)
	require.NoError(t, err)

	history := tr.History()
	require.Len(t, history, 2)
	for _, snap := range history {
		names := make([]string, 0, len(snap.Metrics))
		for _, m := range snap.Metrics {
			names = append(names, m.Name)
		}
		// validation_success from the previous cycle stays behind.
		assert.Equal(t, []string{"phase_test_duration_ms", MetricAppliedChange}, names, "gen %d", snap.GenID)
	}
	assert.Len(t, tr.MetricTrend("phase_test_duration_ms"), 2)
}

func TestRunCycles_StopsAtAbort(t *testing.T) {
	t.Parallel()
	tr := tracker.New("svc")
	calls := 0
	l := newLoop(t, tr, WithStrategies(Strategies{
		Test: func(ctx context.Context, c *Cycle) (*TestResult, error) {
			calls++
			if calls == 3 {
				return failingTest(ctx, c)
			}
			return DefaultTest(ctx, c)
		},
	}))

	results, err := l.RunCycles(context.Background(), nil, 5)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[2].Aborted())
	assert.Equal(t, 2, tr.CurrentGeneration())
}

func TestRunCycle_EmitsTelemetry(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	em, err := telemetry.NewEmitter(path)
	require.NoError(t, err)
	metrics := telemetry.NewMetrics()

	tr := tracker.New("svc")
	l := newLoop(t, tr, WithTelemetry(em), WithMetrics(metrics), WithIDFunc(func() string { return "c1" }))
	_, err = l.RunCycle(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, em.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var kinds []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var evt telemetry.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &evt))
		assert.Equal(t, "c1", evt.CycleID)
		assert.Equal(t, "svc", evt.Component)
		kinds = append(kinds, evt.Kind)
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []string{
		telemetry.KindCycleStart,
		telemetry.KindPhaseEnter,
		telemetry.KindPhaseEnter,
		telemetry.KindPhaseEnter,
		telemetry.KindPhaseEnter,
		telemetry.KindGenerationSealed,
		telemetry.KindPhaseEnter,
		telemetry.KindValidation,
		telemetry.KindCycleDone,
	}, kinds)
}

// demoDecider maps recommendations to changes the way a simple agent would.
func demoDecider(a *Analysis) []string {
	var changes []string
	if a.Has("optimize_processing") {
		changes = append(changes, "Refactored loop for O(n) complexity")
	}
	if a.Has("improve_error_handling") {
		changes = append(changes, "Added try/catch blocks to ingestion")
	}
	if len(changes) == 0 {
		changes = append(changes, "Minor documentation updates")
	}
	return changes
}

func TestScenario_DataProcessor(t *testing.T) {
	t.Parallel()
	store, err := blueprint.NewStore(filepath.Join(t.TempDir(), "blueprints"))
	require.NoError(t, err)
	_, err = store.Save("DataProcessor", "name: DataProcessor\nversion: 1.0.0", DefaultTag(0))
	require.NoError(t, err)

	tr := tracker.New("DataProcessor")
	_, err = tr.Finalize(tracker.StatusAlpha, []string{"Initial setup"})
	require.NoError(t, err)

	measure := func(_ context.Context, c *Cycle) (Measurement, error) {
		gen := float64(c.Tracker.CurrentGeneration())
		m := Measurement{Coverage: 0.70 + gen*0.05, Metrics: map[string]float64{"avg_latency_ms": 200 - gen*20}}
		if gen == 1 {
			m.Failures = []string{"test_edge_case"}
		}
		return m, nil
	}
	analyze := func(_ context.Context, _ *Cycle, test *TestResult) (*Analysis, error) {
		recs := []string{}
		if test.Details["avg_latency_ms"].(float64) > 150 {
			recs = append(recs, "optimize_processing")
		}
		if len(test.Failures) > 0 {
			recs = append(recs, "improve_error_handling")
		}
		return &Analysis{Recommendations: recs}, nil
	}

	l, err := New(tr, store, WithStrategies(Strategies{
		Test:    CoverageTest(0.60, measure),
		Analyze: analyze,
		Apply:   BlueprintApply(demoDecider, nil),
	}))
	require.NoError(t, err)

	results, err := l.RunCycles(context.Background(), Params{"env": "prod-sim"}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 3, tr.CurrentGeneration())
	history := tr.History()
	require.Len(t, history, 4)
	for i, snap := range history {
		assert.Equal(t, i, snap.GenID)
		if i == 0 {
			assert.Nil(t, snap.ParentGenID)
			continue
		}
		require.NotNil(t, snap.ParentGenID)
		assert.Equal(t, i-1, *snap.ParentGenID)
	}
	assert.Equal(t, tracker.StatusAlpha, history[0].Status)
	assert.Equal(t, []string{"Refactored loop for O(n) complexity"}, history[1].Changelog)
	assert.Equal(t, []string{"Refactored loop for O(n) complexity", "Added try/catch blocks to ingestion"}, history[2].Changelog)
	assert.Equal(t, []string{"Refactored loop for O(n) complexity"}, history[3].Changelog)

	trend := tr.MetricTrend(MetricAppliedChange)
	require.Len(t, trend, 3)
	for i, pt := range trend {
		assert.Equal(t, i+1, pt.GenID)
		assert.Equal(t, 1, pt.Value)
	}

	tags, err := store.Versions("DataProcessor")
	require.NoError(t, err)
	assert.Equal(t, []string{"0.0", "1.0", "2.0", "3.0"}, tags)
	assert.Equal(t, "2.0", results[1].Apply.BlueprintTag)
	assert.Equal(t, "+1 lines, -0 lines", results[1].Apply.DiffSummary)
	assert.Contains(t, results[1].Apply.Diff, "+# Update for 2.0: Refactored loop for O(n) complexity, Added try/catch blocks to ingestion")
}

func TestRunCycle_EmitsBlueprintSaved(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store, err := blueprint.NewStore(filepath.Join(dir, "blueprints"))
	require.NoError(t, err)
	em, err := telemetry.NewEmitter(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)

	tr := tracker.New("svc")
	l, err := New(tr, store, WithTelemetry(em), WithStrategies(Strategies{
		Apply: BlueprintApply(func(*Analysis) []string { return []string{"tuned"} }, nil),
	}))
	require.NoError(t, err)
	_, err = l.RunCycle(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, em.Close())

	data, err := os.ReadFile(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)

	var saved []telemetry.Event
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var evt telemetry.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &evt))
		if evt.Kind == telemetry.KindBlueprintSaved {
			saved = append(saved, evt)
		}
	}
	require.Len(t, saved, 1)
	payload, ok := saved[0].Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "svc", payload["blueprint"])
	assert.Equal(t, "1.0", payload["tag"])
	assert.Equal(t, "created svc:1.0", payload["summary"])
}
