package evolve

import (
	"log/slog"

	"github.com/papapumpkin/helix/internal/blueprint"
	"github.com/papapumpkin/helix/internal/tracker"
)

// Metric names recorded by the loop itself.
const (
	MetricAppliedChange     = "applied_change"
	MetricValidationSuccess = "validation_success"
)

// Params is the caller-supplied context of a cycle.
type Params map[string]any

// Cycle is what every strategy sees of the running cycle.
type Cycle struct {
	ID            string
	Params        Params
	Tracker       *tracker.Tracker
	Blueprints    *blueprint.Store // May be nil.
	BlueprintName string
	Logger        *slog.Logger
}

// TestResult is the outcome of the TEST phase. Success=false aborts the cycle.
type TestResult struct {
	Success  bool           `json:"success" yaml:"success"`
	Coverage float64        `json:"coverage" yaml:"coverage"`
	Failures []string       `json:"failures" yaml:"failures"`
	Details  map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// Analysis is the outcome of the ANALYZE phase.
type Analysis struct {
	Recommendations []string       `json:"recommendations" yaml:"recommendations"`
	Priority        string         `json:"priority,omitempty" yaml:"priority,omitempty"`
	Details         map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// Has reports whether rec is among the recommendations.
func (a *Analysis) Has(rec string) bool {
	if a == nil {
		return false
	}
	for _, r := range a.Recommendations {
		if r == rec {
			return true
		}
	}
	return false
}

// ApplyResult is the outcome of the APPLY phase. Changes becomes the
// changelog of the next generation.
type ApplyResult struct {
	Changes      []string       `json:"changes" yaml:"changes"`
	DiffSummary  string         `json:"diff_summary" yaml:"diff_summary"`
	Diff         []string       `json:"diff,omitempty" yaml:"diff,omitempty"`
	BlueprintTag string         `json:"blueprint_tag,omitempty" yaml:"blueprint_tag,omitempty"`
	Details      map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// AdvanceResult is the outcome of the ADVANCE phase.
type AdvanceResult struct {
	GenID      int              `json:"gen_id" yaml:"gen_id"`
	SnapshotID string           `json:"snapshot_id" yaml:"snapshot_id"`
	Snapshot   tracker.Snapshot `json:"-" yaml:"-"`
}

// ValidateResult is the outcome of the VALIDATE phase.
type ValidateResult struct {
	Validated bool           `json:"validated" yaml:"validated"`
	Score     float64        `json:"score" yaml:"score"`
	Details   map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// CycleResult collects the results of the phases that ran. A phase that did
// not run leaves its field nil.
type CycleResult struct {
	ID       string          `json:"id" yaml:"id"`
	Test     *TestResult     `json:"test,omitempty" yaml:"test,omitempty"`
	Analyze  *Analysis       `json:"analyze,omitempty" yaml:"analyze,omitempty"`
	Apply    *ApplyResult    `json:"apply,omitempty" yaml:"apply,omitempty"`
	Advance  *AdvanceResult  `json:"advance,omitempty" yaml:"advance,omitempty"`
	Validate *ValidateResult `json:"validate,omitempty" yaml:"validate,omitempty"`
}

// Keys lists the result keys present, in phase order.
func (r *CycleResult) Keys() []string {
	keys := []string{}
	if r == nil {
		return keys
	}
	present := map[Phase]bool{
		PhaseTest:     r.Test != nil,
		PhaseAnalyze:  r.Analyze != nil,
		PhaseApply:    r.Apply != nil,
		PhaseAdvance:  r.Advance != nil,
		PhaseValidate: r.Validate != nil,
	}
	for _, p := range phases {
		if present[p] {
			keys = append(keys, p.key())
		}
	}
	return keys
}

// Aborted reports whether the cycle stopped after a failed TEST phase.
func (r *CycleResult) Aborted() bool {
	return r != nil && r.Test != nil && !r.Test.Success && r.Analyze == nil
}
