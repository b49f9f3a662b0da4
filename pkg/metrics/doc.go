// Package metrics defines and registers the engine's Prometheus metrics:
// operation lifecycle gauges/counters, scheduler and sync tick histograms,
// conflict and compaction counters. Handler exposes them for scraping; the
// Collector polls the durable store for metrics that can't be updated
// incrementally at the point of mutation.
package metrics
