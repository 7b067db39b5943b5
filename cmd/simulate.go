package cmd

import (
	"context"

	"github.com/papapumpkin/helix/internal/evolve"
)

// Recommendations produced by the simulated analysis.
const (
	recOptimizeProcessing = "optimize_processing"
	recImproveErrors      = "improve_error_handling"
)

// latencyBudgetMS is the latency above which processing gets optimized.
const latencyBudgetMS = 150

// simulatedMeasure stands in for a test suite whose results improve with
// every generation until they plateau at generation 5.
func simulatedMeasure(_ context.Context, c *evolve.Cycle) (evolve.Measurement, error) {
	gen := c.Tracker.CurrentGeneration()
	m := evolve.Measurement{
		Coverage: 0.95,
		Failures: []string{},
		Metrics:  map[string]float64{"avg_latency_ms": 100},
	}
	if gen < 5 {
		m.Coverage = 0.70 + float64(gen)*0.05
		m.Metrics["avg_latency_ms"] = float64(200 - gen*20)
	}
	if gen == 1 {
		m.Failures = []string{"test_edge_case"}
	}
	return m, nil
}

// simulatedAnalyze asks for faster processing while latency is over budget
// and for better error handling while tests fail.
func simulatedAnalyze(_ context.Context, _ *evolve.Cycle, test *evolve.TestResult) (*evolve.Analysis, error) {
	recs := []string{}
	if latency, ok := test.Details["avg_latency_ms"].(float64); ok && latency > latencyBudgetMS {
		recs = append(recs, recOptimizeProcessing)
	}
	if len(test.Failures) > 0 {
		recs = append(recs, recImproveErrors)
	}
	priority := "LOW"
	if len(recs) > 0 {
		priority = "HIGH"
	}
	return &evolve.Analysis{Recommendations: recs, Priority: priority}, nil
}

// simulatedDecider maps recommendations to the changes an agent would make.
func simulatedDecider(a *evolve.Analysis) []string {
	var changes []string
	if a.Has(recOptimizeProcessing) {
		changes = append(changes, "Refactored loop for O(n) complexity")
	}
	if a.Has(recImproveErrors) {
		changes = append(changes, "Added try/catch blocks to ingestion")
	}
	if len(changes) == 0 {
		changes = append(changes, "Minor documentation updates")
	}
	return changes
}

// simulatedStrategies wires the simulation into the loop.
func simulatedStrategies(threshold float64) evolve.Strategies {
	return evolve.Strategies{
		Test:     evolve.CoverageTest(threshold, simulatedMeasure),
		Analyze:  simulatedAnalyze,
		Apply:    evolve.BlueprintApply(simulatedDecider, evolve.DefaultTag),
		Validate: evolve.DefaultValidate,
	}
}
