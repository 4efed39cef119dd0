// Package metrics exposes run metrics through a dedicated Prometheus registry.
//
// fixloop is a batch process, so metrics are exported with the node-exporter
// textfile convention rather than a scrape endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fixloop"

// Metrics holds the collectors for one process.
type Metrics struct {
	reg *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	iterations    prometheus.Histogram
	escalations   *prometheus.CounterVec
	toolRuns      *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent in each stage.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by final status.",
		}, []string{"status"}),
		iterations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_iterations",
			Help:      "Failed verifications consumed per run.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
		escalations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Runs stopped for review, by the stage that escalated.",
		}, []string{"stage"}),
		toolRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_runs_total",
			Help:      "Recorded command executions by type and status.",
		}, []string{"run_type", "status"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// StageDone records one stage execution.
func (m *Metrics) StageDone(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Escalated counts an escalation raised during stage.
func (m *Metrics) Escalated(stage string) {
	m.escalations.WithLabelValues(stage).Inc()
}

// ToolRun counts a recorded command execution.
func (m *Metrics) ToolRun(runType, status string) {
	m.toolRuns.WithLabelValues(runType, status).Inc()
}

// RunDone records the outcome of a run.
func (m *Metrics) RunDone(status string, iterations int) {
	m.runs.WithLabelValues(status).Inc()
	m.iterations.Observe(float64(iterations))
}

// WriteTextfile writes the current values in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
