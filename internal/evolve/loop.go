// Package evolve drives the five-phase improvement cycle of a tracked
// component: TEST, ANALYZE, APPLY, ADVANCE and VALIDATE.
//
// A Loop is not safe for concurrent use. Run cycles for one tracker from a
// single goroutine, or guard RunCycle with an external mutex.
package evolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/papapumpkin/helix/internal/blueprint"
	"github.com/papapumpkin/helix/internal/logging"
	"github.com/papapumpkin/helix/internal/telemetry"
	"github.com/papapumpkin/helix/internal/tracker"
	"github.com/papapumpkin/helix/internal/ui"
)

// Cycle outcomes, used as the prometheus outcome label.
const (
	OutcomeValidated = "validated"
	OutcomeRejected  = "rejected"
	OutcomeAborted   = "aborted"
	OutcomeError     = "error"
)

// Option configures a Loop.
type Option func(*Loop)

// WithStrategies overrides the phase logic. Nil fields keep the defaults.
func WithStrategies(s Strategies) Option {
	return func(l *Loop) { l.strategies = s.withDefaults() }
}

// WithLogger sets the structured logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithUI sets the progress display.
func WithUI(u ui.UI) Option {
	return func(l *Loop) {
		if u != nil {
			l.ui = u
		}
	}
}

// WithTelemetry records cycle events to em.
func WithTelemetry(em *telemetry.Emitter) Option {
	return func(l *Loop) { l.events = em }
}

// WithMetrics counts cycles and phases on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithBlueprint names the blueprint that strategies evolve.
func WithBlueprint(name string) Option {
	return func(l *Loop) { l.blueprint = name }
}

// WithIDFunc overrides cycle id generation.
func WithIDFunc(fn func() string) Option {
	return func(l *Loop) {
		if fn != nil {
			l.newID = fn
		}
	}
}

// WithCarryOver re-logs the metrics recorded during a cycle's TEST, ANALYZE
// and APPLY phases into the generation sealed by that cycle. Without it
// they are discarded when ADVANCE opens the new generation.
func WithCarryOver() Option {
	return func(l *Loop) { l.carry = true }
}

// Loop runs improvement cycles against one tracker and blueprint store.
type Loop struct {
	tracker    *tracker.Tracker
	store      *blueprint.Store
	strategies Strategies
	logger     *slog.Logger
	ui         ui.UI
	events     *telemetry.Emitter
	metrics    *telemetry.Metrics
	blueprint  string
	newID      func() string
	carry      bool

	phase Phase
}

// New creates a Loop. The store may be nil when no strategy needs one.
func New(tr *tracker.Tracker, store *blueprint.Store, opts ...Option) (*Loop, error) {
	if tr == nil {
		return nil, ErrNilTracker
	}
	l := &Loop{
		tracker:    tr,
		store:      store,
		strategies: Strategies{}.withDefaults(),
		logger:     logging.Discard(),
		ui:         ui.Nop{},
		blueprint:  tr.Component(),
		newID:      uuid.NewString,
		phase:      PhaseTest,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// CurrentPhase returns the phase most recently entered.
func (l *Loop) CurrentPhase() Phase {
	return l.phase
}

// RunCycle runs one cycle. A failed TEST phase aborts the cycle: the result
// then holds only Test and the tracker is untouched. Strategy and tracker
// errors are returned as *PhaseError together with the partial result.
// ctx is checked before each phase.
func (l *Loop) RunCycle(ctx context.Context, params Params) (*CycleResult, error) {
	c := &Cycle{
		ID:            l.newID(),
		Params:        params,
		Tracker:       l.tracker,
		Blueprints:    l.store,
		BlueprintName: l.blueprint,
		Logger:        l.logger,
	}
	res := &CycleResult{ID: c.ID}
	start := time.Now()
	startGen := l.tracker.CurrentGeneration()
	baseline := l.workingSetLen()

	l.logger.Info("cycle started", "cycle", c.ID, "component", l.tracker.Component(), "generation", startGen)
	l.ui.CycleStart(c.ID, startGen)
	l.emit(c, telemetry.Event{Kind: telemetry.KindCycleStart, Data: map[string]any{
		"generation": startGen,
		"params":     params,
	}})

	// TEST
	if err := l.enter(ctx, c, PhaseTest); err != nil {
		return res, l.fail(c, PhaseTest, err)
	}
	test, err := l.strategies.Test(ctx, c)
	if err != nil {
		return res, l.fail(c, PhaseTest, err)
	}
	if test == nil {
		test = &TestResult{}
	}
	res.Test = test
	if !test.Success {
		l.abort(c, test)
		return res, nil
	}

	// ANALYZE
	if err := l.enter(ctx, c, PhaseAnalyze); err != nil {
		return res, l.fail(c, PhaseAnalyze, err)
	}
	analysis, err := l.strategies.Analyze(ctx, c, test)
	if err != nil {
		return res, l.fail(c, PhaseAnalyze, err)
	}
	if analysis == nil {
		analysis = &Analysis{Recommendations: []string{}}
	}
	res.Analyze = analysis

	// APPLY
	if err := l.enter(ctx, c, PhaseApply); err != nil {
		return res, l.fail(c, PhaseApply, err)
	}
	applied, err := l.strategies.Apply(ctx, c, analysis)
	if err != nil {
		return res, l.fail(c, PhaseApply, err)
	}
	if applied == nil {
		applied = &ApplyResult{Changes: []string{}}
	}
	res.Apply = applied
	if applied.BlueprintTag != "" {
		l.emit(c, telemetry.Event{Kind: telemetry.KindBlueprintSaved, Data: map[string]any{
			"blueprint": l.blueprint,
			"tag":       applied.BlueprintTag,
			"summary":   applied.DiffSummary,
		}})
	}

	// ADVANCE
	if err := l.enter(ctx, c, PhaseAdvance); err != nil {
		return res, l.fail(c, PhaseAdvance, err)
	}
	advanced, err := l.advance(c, applied, baseline)
	if advanced != nil {
		res.Advance = advanced
	}
	if err != nil {
		return res, l.fail(c, PhaseAdvance, err)
	}

	// VALIDATE
	if err := l.enter(ctx, c, PhaseValidate); err != nil {
		return res, l.fail(c, PhaseValidate, err)
	}
	validated, err := l.strategies.Validate(ctx, c, advanced)
	if err != nil {
		return res, l.fail(c, PhaseValidate, err)
	}
	if validated == nil {
		validated = &ValidateResult{}
	}
	res.Validate = validated
	success := 0
	if validated.Validated {
		success = 1
	}
	l.tracker.LogMetric(MetricValidationSuccess, success, nil)
	l.emit(c, telemetry.Event{Kind: telemetry.KindValidation, Data: map[string]any{
		"generation": advanced.GenID,
		"validated":  validated.Validated,
		"score":      validated.Score,
	}})

	outcome := OutcomeValidated
	if !validated.Validated {
		outcome = OutcomeRejected
		l.logger.Warn("generation failed validation", "cycle", c.ID, "generation", advanced.GenID, "score", validated.Score)
	}
	l.metrics.CycleFinished(outcome)
	l.ui.CycleDone(advanced.GenID, validated.Validated)
	l.emit(c, telemetry.Event{Kind: telemetry.KindCycleDone, Data: map[string]any{
		"generation":  advanced.GenID,
		"outcome":     outcome,
		"duration_ms": time.Since(start).Milliseconds(),
	}})
	l.logger.Info("cycle complete", "cycle", c.ID, "generation", advanced.GenID, "outcome", outcome)
	return res, nil
}

// RunCycles runs up to n cycles and returns the results of those that ran.
// It stops early at the first aborted cycle or error.
func (l *Loop) RunCycles(ctx context.Context, params Params, n int) ([]*CycleResult, error) {
	results := make([]*CycleResult, 0, n)
	for range n {
		res, err := l.RunCycle(ctx, params)
		results = append(results, res)
		if err != nil {
			return results, err
		}
		if res.Aborted() {
			break
		}
	}
	return results, nil
}

// enter records the transition to p before any of its logic runs.
func (l *Loop) enter(ctx context.Context, c *Cycle, p Phase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prev := l.phase
	l.phase = p
	l.logger.Debug("entering phase", "cycle", c.ID, "phase", p.String())
	l.ui.PhaseStart(p.String())
	l.metrics.PhaseEntered(p.String())
	l.emit(c, telemetry.Event{Kind: telemetry.KindPhaseEnter, Phase: p.String(), Data: map[string]string{
		"from": prev.String(),
		"to":   p.String(),
	}})
	return nil
}

// advance opens the next generation, records one applied_change metric per
// change and seals the generation with the changes as its changelog.
func (l *Loop) advance(c *Cycle, applied *ApplyResult, baseline int) (*AdvanceResult, error) {
	var carried []tracker.Metric
	if l.carry {
		metrics, _ := l.tracker.WorkingSet()
		if baseline <= len(metrics) {
			carried = metrics[baseline:]
		}
	}

	gen := l.tracker.StartNextGeneration()
	for _, m := range carried {
		l.tracker.LogMetric(m.Name, m.Value, m.Tags)
	}
	for _, change := range applied.Changes {
		l.tracker.LogMetric(MetricAppliedChange, 1, map[string]string{"desc": change})
	}

	snap, err := l.tracker.Finalize(tracker.StatusStable, applied.Changes)
	var stateErr *tracker.StateError
	if errors.As(err, &stateErr) {
		// Nothing was sealed.
		return nil, err
	}
	l.metrics.ChangesApplied(len(applied.Changes))
	l.metrics.SetGeneration(l.tracker.Component(), gen)
	l.ui.GenerationSealed(snap)
	l.emit(c, telemetry.Event{Kind: telemetry.KindGenerationSealed, Data: map[string]any{
		"generation": snap.GenID,
		"parent":     snap.ParentGenID,
		"status":     snap.Status.String(),
		"changes":    snap.Changelog,
		"metrics":    len(snap.Metrics),
	}})
	return &AdvanceResult{GenID: gen, SnapshotID: snap.Timestamp, Snapshot: snap}, err
}

func (l *Loop) abort(c *Cycle, test *TestResult) {
	reason := fmt.Sprintf("test phase failed (coverage %.2f, %d failure(s))", test.Coverage, len(test.Failures))
	l.logger.Warn("test phase failed, aborting cycle", "cycle", c.ID, "coverage", test.Coverage, "failures", len(test.Failures))
	l.metrics.CycleFinished(OutcomeAborted)
	l.ui.CycleAborted(reason)
	l.emit(c, telemetry.Event{Kind: telemetry.KindCycleAbort, Phase: PhaseTest.String(), Data: map[string]any{
		"coverage": test.Coverage,
		"failures": test.Failures,
	}})
}

func (l *Loop) fail(c *Cycle, p Phase, err error) error {
	perr := &PhaseError{Phase: p, Err: err}
	l.logger.Error("cycle failed", "cycle", c.ID, "phase", p.String(), "error", err)
	l.metrics.CycleFinished(OutcomeError)
	l.ui.Error(perr.Error())
	l.emit(c, telemetry.Event{Kind: telemetry.KindCycleDone, Phase: p.String(), Data: map[string]any{
		"outcome": OutcomeError,
		"error":   err.Error(),
	}})
	return perr
}

func (l *Loop) emit(c *Cycle, evt telemetry.Event) {
	if l.events == nil {
		return
	}
	evt.Timestamp = time.Now()
	evt.CycleID = c.ID
	evt.Component = l.tracker.Component()
	if err := l.events.Emit(evt); err != nil {
		l.logger.Warn("telemetry emit failed", "kind", evt.Kind, "error", err)
	}
}

func (l *Loop) workingSetLen() int {
	metrics, _ := l.tracker.WorkingSet()
	return len(metrics)
}
