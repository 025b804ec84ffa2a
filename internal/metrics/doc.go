// Package metrics exposes gateway counters and gauges for Prometheus scraping.
//
// A nil *Metrics is valid and records nothing, so components can take an
// optional *Metrics without guarding every call site.
package metrics
