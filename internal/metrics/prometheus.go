package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineRunsTotal tracks pipeline runs by outcome
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagepipeline",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by status",
		},
		[]string{"status"},
	)

	// PipelineDuration tracks summed step processing time per run
	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "imagepipeline",
			Subsystem: "pipeline",
			Name:      "processing_seconds",
			Help:      "Summed step processing time of successful runs in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// StepDuration tracks processing time per operation
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imagepipeline",
			Subsystem: "step",
			Name:      "duration_seconds",
			Help:      "Duration of individual operation executions in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"operation"},
	)

	// StepsTotal tracks step outcomes per operation
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagepipeline",
			Subsystem: "step",
			Name:      "total",
			Help:      "Total number of pipeline steps by operation and state",
		},
		[]string{"operation", "state"},
	)

	// ParamUpdatesTotal tracks parameter changes made outside a run
	ParamUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagepipeline",
			Subsystem: "operations",
			Name:      "param_updates_total",
			Help:      "Total number of parameter updates through the API",
		},
		[]string{"operation"},
	)

	// ActiveSessions tracks live session registries
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "imagepipeline",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of live session registries",
		},
	)

	// HTTPRequestsTotal tracks inbound API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagepipeline",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"method", "path", "status_code"},
	)
)
