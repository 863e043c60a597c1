// Package metrics exposes pipeline counters for Prometheus.
package metrics
