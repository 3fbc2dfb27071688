// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SchedulerTicksTotal counts scheduler loop iterations.
	SchedulerTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "skylapse",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total number of scheduler ticks",
		},
	)

	// CapturesTotal counts capture outcomes per node and schedule.
	CapturesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skylapse",
			Subsystem: "scheduler",
			Name:      "captures_total",
			Help:      "Total number of capture attempts",
		},
		[]string{"node", "schedule", "status"},
	)

	// NodeFailuresTotal counts per-node capture failures after retries.
	NodeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skylapse",
			Subsystem: "scheduler",
			Name:      "node_failures_total",
			Help:      "Total number of node failures after retries",
		},
		[]string{"node"},
	)

	// BatchOverrunsTotal counts capture batches that missed the tick deadline.
	BatchOverrunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skylapse",
			Subsystem: "scheduler",
			Name:      "batch_overruns_total",
			Help:      "Total number of capture batches that overran the tick deadline",
		},
		[]string{"schedule"},
	)

	// BatchDuration observes capture batch fan-out duration.
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "skylapse",
			Subsystem: "scheduler",
			Name:      "batch_duration_seconds",
			Help:      "Capture batch duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30, 60},
		},
		[]string{"schedule"},
	)

	// SessionsOpenTotal counts session opens per schedule.
	SessionsOpenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skylapse",
			Subsystem: "scheduler",
			Name:      "sessions_open_total",
			Help:      "Total number of sessions opened",
		},
		[]string{"schedule"},
	)

	// JobsProcessedTotal counts worker job outcomes.
	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skylapse",
			Subsystem: "worker",
			Name:      "jobs_processed_total",
			Help:      "Total number of processed jobs",
		},
		[]string{"kind", "status"},
	)

	// EncodeDuration observes assembly encode duration.
	EncodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "skylapse",
			Subsystem: "worker",
			Name:      "encode_duration_seconds",
			Help:      "Video assembly duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"quality"},
	)
)
