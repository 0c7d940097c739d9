// Package metrics exposes build counters and timings on a private Prometheus
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels.
const (
	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
	// ResultRejected marks a run stopped before any module was built.
	ResultRejected = "rejected"
)

// Metrics holds the build collectors.
type Metrics struct {
	Registry *prometheus.Registry

	modulesConstructed  prometheus.Counter
	graphBuildDuration  prometheus.Histogram
	moduleBuilds        *prometheus.CounterVec
	moduleBuildDuration *prometheus.HistogramVec
	runs                *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		modulesConstructed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "buildgrid_modules_constructed_total",
				Help: "Number of modules created during graph construction.",
			},
		),
		graphBuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "buildgrid_graph_build_duration_seconds",
				Help:    "Time taken to construct and validate the module graph.",
				Buckets: prometheus.DefBuckets,
			},
		),
		moduleBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buildgrid_module_builds_total",
				Help: "Number of module builds by kind and result.",
			},
			[]string{"kind", "result"},
		),
		moduleBuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "buildgrid_module_build_duration_seconds",
				Help:    "Time taken to build one module.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buildgrid_runs_total",
				Help: "Number of build runs by result.",
			},
			[]string{"result"},
		),
	}
	m.Registry.MustRegister(
		m.modulesConstructed,
		m.graphBuildDuration,
		m.moduleBuilds,
		m.moduleBuildDuration,
		m.runs,
	)
	return m
}

// ObserveGraph records a completed graph construction.
func (m *Metrics) ObserveGraph(modules int, d time.Duration) {
	if m == nil {
		return
	}
	m.modulesConstructed.Add(float64(modules))
	m.graphBuildDuration.Observe(d.Seconds())
}

// ObserveModule records the outcome of one module build. Skipped modules
// carry no duration.
func (m *Metrics) ObserveModule(kind, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.moduleBuilds.WithLabelValues(kind, result).Inc()
	if result != ResultSkipped {
		m.moduleBuildDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// ObserveRun records how a whole run ended.
func (m *Metrics) ObserveRun(result string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
}

// WriteTextfile writes the current values in the text exposition format, for
// collection by a node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
