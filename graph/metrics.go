package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the runtime's Prometheus collectors.
type Metrics struct {
	// TurnsTotal counts completed turns by outcome (ok, aborted, cancelled).
	TurnsTotal *prometheus.CounterVec

	// NodeDuration observes per-node execution time.
	NodeDuration *prometheus.HistogramVec

	// ErrorsTotal counts recovered turn errors by kind.
	ErrorsTotal *prometheus.CounterVec

	// ArtifactUpdatesTotal counts merges per artifact key.
	ArtifactUpdatesTotal *prometheus.CounterVec

	// WorkflowStartsTotal counts workflow initializations.
	WorkflowStartsTotal *prometheus.CounterVec
}

// NewMetrics registers the runtime collectors on reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		TurnsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "lisa",
			Subsystem: "graph",
			Name:      "turns_total",
			Help:      "Completed conversation turns by outcome.",
		}, []string{"outcome"}),
		NodeDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lisa",
			Subsystem: "graph",
			Name:      "node_duration_seconds",
			Help:      "Node execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"node"}),
		ErrorsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "lisa",
			Subsystem: "graph",
			Name:      "errors_total",
			Help:      "Recovered turn errors by kind.",
		}, []string{"kind"}),
		ArtifactUpdatesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "lisa",
			Subsystem: "graph",
			Name:      "artifact_updates_total",
			Help:      "Artifact merges by key.",
		}, []string{"key"}),
		WorkflowStartsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "lisa",
			Subsystem: "graph",
			Name:      "workflow_starts_total",
			Help:      "Workflow initializations by id.",
		}, []string{"workflow"}),
	}
}
