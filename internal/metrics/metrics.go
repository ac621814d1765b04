package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters and histograms of one process. Every instance
// owns its registry so tests never collide on global registration.
type Metrics struct {
	registry *prometheus.Registry

	scanChanges      *prometheus.CounterVec
	sourceErrors     prometheus.Counter
	invalidations    *prometheus.CounterVec
	graphWarnings    prometheus.Counter
	scheduleAttempts *prometheus.CounterVec
	scheduleOutcomes *prometheus.CounterVec
	unplacedTopics   prometheus.Gauge
	pipelineTotal    *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
	pipelineInFlight prometheus.Gauge
}

// New creates a Metrics with a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	scanChanges := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "syllabus",
			Subsystem: "manifest",
			Name:      "scan_changes_total",
			Help:      "Source changes detected by scans, by kind.",
		},
		[]string{"kind"},
	)
	sourceErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "syllabus",
			Subsystem: "manifest",
			Name:      "source_read_errors_total",
			Help:      "Sources that could not be read during a scan.",
		},
	)
	invalidations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "syllabus",
			Subsystem: "manifest",
			Name:      "invalidated_artifacts_total",
			Help:      "Artifacts marked stale, by artifact kind.",
		},
		[]string{"kind"},
	)
	graphWarnings := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "syllabus",
			Subsystem: "manifest",
			Name:      "graph_integrity_warnings_total",
			Help:      "Dependency references to unknown sources or artifacts that were skipped.",
		},
	)
	scheduleAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "syllabus",
			Subsystem: "scheduler",
			Name:      "attempts_total",
			Help:      "Scheduling attempts by strategy.",
		},
		[]string{"strategy"},
	)
	scheduleOutcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "syllabus",
			Subsystem: "scheduler",
			Name:      "outcomes_total",
			Help:      "Scheduling results by feasibility tier and completeness.",
		},
		[]string{"tier", "complete"},
	)
	unplacedTopics := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "syllabus",
			Subsystem: "scheduler",
			Name:      "unplaced_topics",
			Help:      "Topics left unplaced by the most recent schedule.",
		},
	)
	pipelineTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "syllabus",
			Subsystem: "pipeline",
			Name:      "source_process_total",
			Help:      "Processed sources by status.",
		},
		[]string{"status"},
	)
	pipelineDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "syllabus",
			Subsystem: "pipeline",
			Name:      "source_process_duration_seconds",
			Help:      "Source processing duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)
	pipelineInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "syllabus",
			Subsystem: "pipeline",
			Name:      "source_process_in_flight",
			Help:      "Number of in-flight source processing tasks.",
		},
	)

	registry.MustRegister(
		scanChanges, sourceErrors, invalidations, graphWarnings,
		scheduleAttempts, scheduleOutcomes, unplacedTopics,
		pipelineTotal, pipelineDuration, pipelineInFlight,
	)

	return &Metrics{
		registry:         registry,
		scanChanges:      scanChanges,
		sourceErrors:     sourceErrors,
		invalidations:    invalidations,
		graphWarnings:    graphWarnings,
		scheduleAttempts: scheduleAttempts,
		scheduleOutcomes: scheduleOutcomes,
		unplacedTopics:   unplacedTopics,
		pipelineTotal:    pipelineTotal,
		pipelineDuration: pipelineDuration,
		pipelineInFlight: pipelineInFlight,
	}
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the registry in the node_exporter textfile format.
// An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) ObserveScan(added, changed, removed, errored int) {
	if m == nil {
		return
	}
	m.scanChanges.WithLabelValues("added").Add(float64(added))
	m.scanChanges.WithLabelValues("changed").Add(float64(changed))
	m.scanChanges.WithLabelValues("removed").Add(float64(removed))
	m.sourceErrors.Add(float64(errored))
}

func (m *Metrics) ObserveInvalidated(kind string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveGraphWarning() {
	if m == nil {
		return
	}
	m.graphWarnings.Inc()
}

func (m *Metrics) ObserveAttempt(strategy string) {
	if m == nil {
		return
	}
	m.scheduleAttempts.WithLabelValues(strategy).Inc()
}

func (m *Metrics) ObserveOutcome(tier string, complete bool, unplaced int) {
	if m == nil {
		return
	}
	label := "false"
	if complete {
		label = "true"
	}
	m.scheduleOutcomes.WithLabelValues(tier, label).Inc()
	m.unplacedTopics.Set(float64(unplaced))
}

func (m *Metrics) StartSource() {
	if m == nil {
		return
	}
	m.pipelineInFlight.Inc()
}

func (m *Metrics) FinishSource(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.pipelineInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.pipelineTotal.WithLabelValues(status).Inc()
	m.pipelineDuration.WithLabelValues(status).Observe(duration.Seconds())
}
