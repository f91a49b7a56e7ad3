// Package metrics provides a small, backend-agnostic abstraction for
// recording operational metrics from the import pipeline.
//
// The package is intentionally minimal:
//
//   - It exposes a narrow interface (Backend) focused on counters and timing
//     data.
//   - It provides a global, pluggable backend that defaults to a no-op
//     implementation, so metrics are always safe to call even when no real
//     backend is configured.
//
// The primary use case is instrumentation of the pipeline stages (countries,
// admin codes, places, alternate names, postal, index build) without coupling
// the import logic to a specific metrics system.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveDuration records a duration-style metric in seconds.
	ObserveDuration(name string, seconds float64, labels Labels)
	// Flush pushes or flushes metrics if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)        {}
func (nopBackend) ObserveDuration(name string, seconds float64, labels Labels) {}
func (nopBackend) Flush() error                                                { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStage measures latency + success/failure of one pipeline stage.
func RecordStage(stage string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"stage": stage, "status": status}
	backend.IncCounter("geoimport_stage_total", 1, lbls)
	backend.ObserveDuration("geoimport_stage_duration_seconds", d.Seconds(), lbls)
}

// RecordRows increments a record-level counter for a stage. Typical kinds
// mirror the run report fields: "inserted", "filtered", "malformed".
func RecordRows(stage, kind string, n int64) {
	if n == 0 {
		return
	}
	backend.IncCounter("geoimport_rows_total", float64(n), Labels{
		"stage": stage,
		"kind":  kind,
	})
}
