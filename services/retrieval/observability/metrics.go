// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the retrieval
// pipeline.
//
// # Description
//
// Covers the index lifecycle (cycles, fragments, snapshot size), the
// embedding gateway (requests, tokens, truncations), the fragment cache,
// and search latency. Metrics are exposed via the /metrics endpoint of
// the watch process.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics.
const metricsNamespace = "kodiak"

// Subsystem for retrieval metrics.
const retrievalSubsystem = "retrieval"

// Metrics holds all Prometheus metrics for the retrieval pipeline.
//
// # Fields
//
//   - CyclesTotal: Counter of index cycles by outcome
//   - CycleDurationSeconds: Histogram of full cycle duration
//   - FragmentsIndexedTotal: Counter of fragments written, by family
//   - IndexEntries / IndexVersion: Gauges of the published snapshot, by family
//   - EmbeddingRequests / EmbeddingTokens / EmbeddingTruncations: Gauges
//     mirroring the embedding gateway's cumulative usage counters
//   - CacheHits / CacheMisses / CacheEvictions: Gauges mirroring the
//     fragment cache counters
//   - SearchDurationSeconds: Histogram of end-to-end retrieval latency
type Metrics struct {
	// CyclesTotal counts index cycles by outcome.
	// Labels: outcome (success, error)
	CyclesTotal *prometheus.CounterVec

	// CycleDurationSeconds measures full index cycle duration.
	CycleDurationSeconds prometheus.Histogram

	// FragmentsIndexedTotal counts fragments written to the repository.
	// Labels: family (doc, mem)
	FragmentsIndexedTotal *prometheus.CounterVec

	// IndexEntries tracks the published snapshot size.
	// Labels: family (doc, mem)
	IndexEntries *prometheus.GaugeVec

	// IndexVersion tracks the snapshot version counter.
	// Labels: family (doc, mem)
	IndexVersion *prometheus.GaugeVec

	// EmbeddingRequests mirrors the gateway's cumulative request count.
	EmbeddingRequests prometheus.Gauge

	// EmbeddingTokens mirrors the gateway's cumulative token count.
	EmbeddingTokens prometheus.Gauge

	// EmbeddingTruncations mirrors the gateway's truncation count.
	EmbeddingTruncations prometheus.Gauge

	// CacheHits, CacheMisses, and CacheEvictions mirror the fragment
	// cache counters.
	CacheHits      prometheus.Gauge
	CacheMisses    prometheus.Gauge
	CacheEvictions prometheus.Gauge

	// SearchDurationSeconds measures end-to-end retrieval latency.
	// Labels: family (doc, mem)
	SearchDurationSeconds *prometheus.HistogramVec
}

// NewMetrics creates and registers all retrieval metrics on the given
// registerer. Registering twice on the same registerer panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "cycles_total",
				Help:      "Total index cycles by outcome",
			},
			[]string{"outcome"},
		),

		CycleDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "cycle_duration_seconds",
				Help:      "Full index cycle duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
		),

		FragmentsIndexedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "fragments_indexed_total",
				Help:      "Total fragments written to the repository by family",
			},
			[]string{"family"},
		),

		IndexEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "index_entries",
				Help:      "Entries in the published index snapshot by family",
			},
			[]string{"family"},
		),

		IndexVersion: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "index_version",
				Help:      "Version counter of the published index snapshot by family",
			},
			[]string{"family"},
		),

		EmbeddingRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "embedding_requests",
				Help:      "Cumulative embedding API requests",
			},
		),

		EmbeddingTokens: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "embedding_tokens",
				Help:      "Cumulative embedding tokens consumed",
			},
		),

		EmbeddingTruncations: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "embedding_truncations",
				Help:      "Cumulative inputs truncated before embedding",
			},
		),

		CacheHits: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "cache_hits",
				Help:      "Cumulative fragment cache hits",
			},
		),

		CacheMisses: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "cache_misses",
				Help:      "Cumulative fragment cache misses",
			},
		),

		CacheEvictions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "cache_evictions",
				Help:      "Cumulative fragment cache evictions",
			},
		),

		SearchDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "search_duration_seconds",
				Help:      "End-to-end retrieval latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"family"},
		),
	}
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Default returns the singleton Metrics registered on the default
// Prometheus registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordCycle records a completed index cycle.
func (m *Metrics) RecordCycle(success bool, seconds float64) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	m.CycleDurationSeconds.Observe(seconds)
}

// AddFragments records fragments written to a family.
func (m *Metrics) AddFragments(family string, count int) {
	m.FragmentsIndexedTotal.WithLabelValues(family).Add(float64(count))
}

// SetIndexState records the published snapshot shape for a family.
func (m *Metrics) SetIndexState(family string, entries int, version uint64) {
	m.IndexEntries.WithLabelValues(family).Set(float64(entries))
	m.IndexVersion.WithLabelValues(family).Set(float64(version))
}

// SetEmbeddingUsage mirrors the gateway's cumulative usage counters.
func (m *Metrics) SetEmbeddingUsage(requests, tokens, truncations int64) {
	m.EmbeddingRequests.Set(float64(requests))
	m.EmbeddingTokens.Set(float64(tokens))
	m.EmbeddingTruncations.Set(float64(truncations))
}

// SetCacheCounters mirrors the fragment cache counters.
func (m *Metrics) SetCacheCounters(hits, misses, evictions int64) {
	m.CacheHits.Set(float64(hits))
	m.CacheMisses.Set(float64(misses))
	m.CacheEvictions.Set(float64(evictions))
}

// ObserveSearch records one retrieval's latency.
func (m *Metrics) ObserveSearch(family string, seconds float64) {
	m.SearchDurationSeconds.WithLabelValues(family).Observe(seconds)
}
