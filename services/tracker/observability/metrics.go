// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the tracker service.
//
// # Description
//
// Metrics cover the compare-and-swap pipeline:
//   - Update outcomes (committed / conflicted / failed)
//   - Lock-wait latency for the per-key serialization token
//   - Live size of the key lock table
//   - Batch sizes and per-batch success
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting on conflict rates under contention.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "motk"

// Subsystem for the concurrency-control metrics
const trackerSubsystem = "tracker"

// Outcome labels for update metrics.
type Outcome string

const (
	// OutcomeCommitted labels an applied write.
	OutcomeCommitted Outcome = "committed"

	// OutcomeConflicted labels a detected write-write race.
	OutcomeConflicted Outcome = "conflicted"

	// OutcomeFailed labels a storage or internal failure.
	OutcomeFailed Outcome = "failed"
)

// Metrics holds all Prometheus metrics for the tracker service.
//
// # Description
//
// Initialize once at startup via InitMetrics(). All fields are registered
// with the default Prometheus registry through promauto.
//
// # Fields
//
//   - UpdatesTotal: Counter of update intents by outcome.
//   - LockWaitSeconds: Histogram of serialization-token wait time.
//   - ActiveKeyLocks: Gauge of entries currently in the key lock table.
//   - BatchItems: Histogram of batch sizes.
//   - BatchesTotal: Counter of batches by overall success.
//
// # Thread Safety
//
// All operations are thread-safe.
type Metrics struct {
	// UpdatesTotal counts update intents by outcome.
	// Labels: outcome (committed, conflicted, failed)
	UpdatesTotal *prometheus.CounterVec

	// LockWaitSeconds measures time spent waiting for the per-key token.
	LockWaitSeconds prometheus.Histogram

	// ActiveKeyLocks tracks the current size of the key lock table.
	ActiveKeyLocks prometheus.Gauge

	// BatchItems measures the number of items per batch.
	BatchItems prometheus.Histogram

	// BatchesTotal counts batches by overall success.
	// Labels: status (success, partial)
	BatchesTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of Metrics.
// Initialized by InitMetrics().
var DefaultMetrics *Metrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once at
// application startup.
//
// # Outputs
//
//   - *Metrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *Metrics {
	DefaultMetrics = &Metrics{
		UpdatesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: trackerSubsystem,
				Name:      "updates_total",
				Help:      "Total cell update intents by outcome",
			},
			[]string{"outcome"},
		),

		LockWaitSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: trackerSubsystem,
				Name:      "lock_wait_seconds",
				Help:      "Time spent waiting for the per-key serialization token",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
		),

		ActiveKeyLocks: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: trackerSubsystem,
				Name:      "active_key_locks",
				Help:      "Current number of entries in the key lock table",
			},
		),

		BatchItems: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: trackerSubsystem,
				Name:      "batch_items",
				Help:      "Number of items per batch update",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
		),

		BatchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: trackerSubsystem,
				Name:      "batches_total",
				Help:      "Total batch updates by overall status",
			},
			[]string{"status"},
		),
	}

	return DefaultMetrics
}

// RecordUpdate records one update outcome.
//
// # Inputs
//
//   - outcome: The outcome label.
func (m *Metrics) RecordUpdate(outcome Outcome) {
	m.UpdatesTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordLockWait records time spent waiting for a serialization token.
//
// # Inputs
//
//   - seconds: Wait duration in seconds.
func (m *Metrics) RecordLockWait(seconds float64) {
	m.LockWaitSeconds.Observe(seconds)
}

// SetActiveKeyLocks sets the current lock table size.
func (m *Metrics) SetActiveKeyLocks(n int) {
	m.ActiveKeyLocks.Set(float64(n))
}

// RecordBatch records one batch's size and overall status.
//
// # Inputs
//
//   - items: Number of items in the batch.
//   - overallSuccess: Whether every item committed.
func (m *Metrics) RecordBatch(items int, overallSuccess bool) {
	m.BatchItems.Observe(float64(items))
	status := "success"
	if !overallSuccess {
		status = "partial"
	}
	m.BatchesTotal.WithLabelValues(status).Inc()
}
