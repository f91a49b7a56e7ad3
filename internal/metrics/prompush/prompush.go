// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// An import run is a batch job, not a long-lived process, so metrics are
// pushed to a Pushgateway at the end of the run instead of being exposed on a
// scrape endpoint. The package contains all Prometheus-specific dependencies
// so the pipeline itself stays decoupled from the metrics system.
package prompush

import (
	"fmt"

	"geoimport/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	stageCounter  *prometheus.CounterVec // geoimport_stage_total
	stageDuration *prometheus.SummaryVec // geoimport_stage_duration_seconds
	rowCounter    *prometheus.CounterVec // geoimport_rows_total
}

// NewBackend constructs a Prometheus Pushgateway backend.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "geoimport"
	}

	reg := prometheus.NewRegistry()

	stageCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoimport_stage_total",
			Help: "Total number of import stage executions, partitioned by stage and status.",
		},
		[]string{"stage", "status"},
	)
	stageDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "geoimport_stage_duration_seconds",
			Help:       "Duration of import stages in seconds, partitioned by stage and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"stage", "status"},
	)
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoimport_rows_total",
			Help: "Row-level counts per stage and kind (inserted, filtered, malformed).",
		},
		[]string{"stage", "kind"},
	)

	for _, c := range []prometheus.Collector{stageCounter, stageDuration, rowCounter} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register collector: %w", err)
		}
	}

	return &Backend{
		gatewayURL:    gatewayURL,
		jobName:       jobName,
		reg:           reg,
		stageCounter:  stageCounter,
		stageDuration: stageDuration,
		rowCounter:    rowCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "geoimport_stage_total":
		b.stageCounter.WithLabelValues(labels["stage"], labels["status"]).Add(delta)
	case "geoimport_rows_total":
		b.rowCounter.WithLabelValues(labels["stage"], labels["kind"]).Add(delta)
	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveDuration(name string, seconds float64, labels metrics.Labels) {
	if name != "geoimport_stage_duration_seconds" {
		return
	}
	b.stageDuration.WithLabelValues(labels["stage"], labels["status"]).Observe(seconds)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
