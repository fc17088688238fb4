// Package metrics holds the Prometheus collectors for the pipeline:
// chunks processed, retries, watermark lag, and SCD merge outcomes.
// Shaped after the wider corpus's telemetry package — package-level
// collector vars plus an All() for bulk registration.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var ChunksProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "avesa",
		Subsystem: "chunks",
		Name:      "processed_total",
		Help:      "Total number of chunks processed, by terminal status.",
	},
	[]string{"tenant_id", "table", "status"},
)

var ChunkRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "avesa",
		Subsystem: "chunks",
		Name:      "retries_total",
		Help:      "Total number of page-fetch retry attempts within chunks.",
	},
	[]string{"tenant_id", "service"},
)

var ChunkDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "avesa",
		Subsystem: "chunk",
		Name:      "duration_seconds",
		Help:      "Chunk processing wall-clock duration in seconds.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	},
	[]string{"tenant_id", "table"},
)

var WatermarkLagSeconds = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "avesa",
		Subsystem: "watermark",
		Name:      "lag_seconds",
		Help:      "Seconds between now and the table's current watermark.",
	},
	[]string{"tenant_id", "table"},
)

var CanonicalMergesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "avesa",
		Subsystem: "canonical",
		Name:      "merges_total",
		Help:      "Total number of SCD-2 merge outcomes, by decision.",
	},
	// outcome is one of: inserted, unchanged, fresher_update, late_arriving.
	[]string{"tenant_id", "canonical_table", "outcome"},
)

var CanonicalRejectsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "avesa",
		Subsystem: "canonical",
		Name:      "rejects_total",
		Help:      "Total number of raw records rejected during canonical projection.",
	},
	[]string{"tenant_id", "canonical_table"},
)

var JobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "avesa",
		Subsystem: "jobs",
		Name:      "total",
		Help:      "Total number of orchestrator jobs, by run_kind and terminal status.",
	},
	[]string{"run_kind", "status"},
)

// All returns every collector for bulk registration with a
// prometheus.Registerer.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ChunksProcessedTotal,
		ChunkRetriesTotal,
		ChunkDuration,
		WatermarkLagSeconds,
		CanonicalMergesTotal,
		CanonicalRejectsTotal,
		JobsTotal,
	}
}
