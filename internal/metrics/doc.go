// Package metrics exposes Prometheus counters for the orchestration core.
// OpenTelemetry instruments live inside the individual services; this
// package is the scrape-friendly aggregate surface.
package metrics
