package evolve

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/papapumpkin/helix/internal/blueprint"
)

// TestFunc measures the current generation.
type TestFunc func(ctx context.Context, c *Cycle) (*TestResult, error)

// AnalyzeFunc turns test output into recommendations.
type AnalyzeFunc func(ctx context.Context, c *Cycle, test *TestResult) (*Analysis, error)

// ApplyFunc carries out an analysis, usually by saving a new blueprint
// version, and reports the changes made.
type ApplyFunc func(ctx context.Context, c *Cycle, analysis *Analysis) (*ApplyResult, error)

// ValidateFunc accepts or flags a freshly sealed generation.
type ValidateFunc func(ctx context.Context, c *Cycle, advance *AdvanceResult) (*ValidateResult, error)

// Strategies holds the pluggable phase logic. Nil fields fall back to the
// Default* functions.
type Strategies struct {
	Test     TestFunc
	Analyze  AnalyzeFunc
	Apply    ApplyFunc
	Validate ValidateFunc
}

func (s Strategies) withDefaults() Strategies {
	if s.Test == nil {
		s.Test = DefaultTest
	}
	if s.Analyze == nil {
		s.Analyze = DefaultAnalyze
	}
	if s.Apply == nil {
		s.Apply = DefaultApply
	}
	if s.Validate == nil {
		s.Validate = DefaultValidate
	}
	return s
}

// DefaultTest records a nominal test duration and reports success with 88%
// coverage. It stands in for an external test run.
func DefaultTest(_ context.Context, c *Cycle) (*TestResult, error) {
	c.Tracker.LogMetric("phase_test_duration_ms", 120, nil)
	return &TestResult{Success: true, Coverage: 0.88, Failures: []string{}}, nil
}

// DefaultAnalyze recommends query optimization while coverage is below 90%.
func DefaultAnalyze(_ context.Context, _ *Cycle, test *TestResult) (*Analysis, error) {
	recs := []string{}
	if test.Coverage < 0.9 {
		recs = append(recs, "optimize_query_speed")
	}
	return &Analysis{Recommendations: recs, Priority: "HIGH"}, nil
}

// DefaultApply reports a single optimizer run without touching any
// blueprint.
func DefaultApply(context.Context, *Cycle, *Analysis) (*ApplyResult, error) {
	return &ApplyResult{
		Changes:     []string{"Ran optimizer"},
		DiffSummary: "+5 lines, -2 lines",
	}, nil
}

// DefaultValidate accepts every generation with a perfect score.
func DefaultValidate(context.Context, *Cycle, *AdvanceResult) (*ValidateResult, error) {
	return &ValidateResult{Validated: true, Score: 100}, nil
}

// Measurement is an externally produced test report.
type Measurement struct {
	Coverage float64
	Failures []string
	// Metrics are logged on the tracker in key order and copied into
	// TestResult.Details.
	Metrics map[string]float64
}

// MeasureFunc runs or reads an external test suite.
type MeasureFunc func(ctx context.Context, c *Cycle) (Measurement, error)

// CoverageTest builds a TestFunc that succeeds when the measured coverage
// exceeds threshold. The coverage is logged as test_coverage.
func CoverageTest(threshold float64, measure MeasureFunc) TestFunc {
	return func(ctx context.Context, c *Cycle) (*TestResult, error) {
		m, err := measure(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("measuring coverage: %w", err)
		}

		c.Tracker.LogMetric("test_coverage", m.Coverage, nil)
		details := make(map[string]any, len(m.Metrics)+1)
		names := make([]string, 0, len(m.Metrics))
		for name := range m.Metrics {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			c.Tracker.LogMetric(name, m.Metrics[name], nil)
			details[name] = m.Metrics[name]
		}
		details["threshold"] = threshold

		failures := m.Failures
		if failures == nil {
			failures = []string{}
		}
		return &TestResult{
			Success:  m.Coverage > threshold,
			Coverage: m.Coverage,
			Failures: failures,
			Details:  details,
		}, nil
	}
}

// ChangeDecider picks the changes to make for an analysis.
type ChangeDecider func(a *Analysis) []string

// TagFunc maps a generation id to a blueprint version tag.
type TagFunc func(gen int) string

// DefaultTag renders generation n as "n.0".
func DefaultTag(gen int) string {
	return fmt.Sprintf("%d.0", gen)
}

// seedContent stands in for a blueprint that was never saved.
const seedContent = "Initial Content"

// BlueprintApply builds an ApplyFunc that evolves the cycle's blueprint.
// It loads the version tagged for the current generation, appends a note
// for the decided changes, saves it under the next generation's tag and
// diffs the two. A nil tag uses DefaultTag.
func BlueprintApply(decide ChangeDecider, tag TagFunc) ApplyFunc {
	if tag == nil {
		tag = DefaultTag
	}
	return func(_ context.Context, c *Cycle, analysis *Analysis) (*ApplyResult, error) {
		if c.Blueprints == nil || c.BlueprintName == "" {
			return nil, ErrNoBlueprint
		}
		changes := decide(analysis)

		gen := c.Tracker.CurrentGeneration()
		cur, next := tag(gen), tag(gen+1)

		content, found, err := c.Blueprints.Load(c.BlueprintName, cur)
		if err != nil {
			return nil, err
		}
		if !found {
			content = seedContent
		}
		updated := content + fmt.Sprintf("\n# Update for %s: %s", next, strings.Join(changes, ", "))
		if _, err := c.Blueprints.Save(c.BlueprintName, updated, next); err != nil {
			return nil, err
		}

		res := &ApplyResult{Changes: changes, BlueprintTag: next}
		if !found {
			res.DiffSummary = fmt.Sprintf("created %s:%s", c.BlueprintName, next)
			return res, nil
		}

		diff, err := c.Blueprints.Diff(c.BlueprintName, cur, next)
		if err != nil {
			return nil, err
		}
		st, err := blueprint.DiffStat(diff)
		if err != nil && !errors.Is(err, blueprint.ErrNotFound) {
			return nil, err
		}
		res.Diff = diff
		res.DiffSummary = st.String()
		return res, nil
	}
}
