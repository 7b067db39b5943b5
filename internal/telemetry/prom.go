package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors for improvement cycles. Each
// Metrics owns its registry so several loops can run in one process. A nil
// *Metrics is a valid no-op.
type Metrics struct {
	reg *prometheus.Registry

	cycles     *prometheus.CounterVec
	phases     *prometheus.CounterVec
	changes    prometheus.Counter
	generation *prometheus.GaugeVec
}

// NewMetrics registers the cycle collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		// Labels: outcome (validated, rejected, aborted, error)
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helix",
			Subsystem: "evolve",
			Name:      "cycles_total",
			Help:      "Improvement cycles by outcome",
		}, []string{"outcome"}),
		// Labels: phase (TEST, ANALYZE, APPLY, ADVANCE, VALIDATE)
		phases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helix",
			Subsystem: "evolve",
			Name:      "phase_entries_total",
			Help:      "Number of times each phase was entered",
		}, []string{"phase"}),
		changes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "helix",
			Subsystem: "evolve",
			Name:      "applied_changes_total",
			Help:      "Changes recorded into sealed generations",
		}),
		// Labels: component
		generation: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "helix",
			Subsystem: "tracker",
			Name:      "current_generation",
			Help:      "Generation counter of the tracked component",
		}, []string{"component"}),
	}
}

// Registry exposes the underlying registry, e.g. for an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// CycleFinished counts one cycle under the given outcome.
func (m *Metrics) CycleFinished(outcome string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
}

// PhaseEntered counts an entry into phase.
func (m *Metrics) PhaseEntered(phase string) {
	if m == nil {
		return
	}
	m.phases.WithLabelValues(phase).Inc()
}

// ChangesApplied adds n to the applied change counter.
func (m *Metrics) ChangesApplied(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.changes.Add(float64(n))
}

// SetGeneration records the component's current generation.
func (m *Metrics) SetGeneration(component string, gen int) {
	if m == nil {
		return
	}
	m.generation.WithLabelValues(component).Set(float64(gen))
}

// WriteTextfile dumps all collectors in the text exposition format, for
// pickup by the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("telemetry: write textfile %s: %w", path, err)
	}
	return nil
}
