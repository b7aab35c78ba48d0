// Package metrics exposes the prometheus gauges and counters a running
// fundingedge service reports: collector health, rollup pass duration, and
// derived-engine row counts. Grounded on the teacher's
// internal/metrics/collector.go, rebuilt on the real client_golang registry
// the teacher's Collector simulated rather than wired.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every metric a service instance reports. One Registry is
// built per process and passed to the scheduler, which observes
// RollupPassDuration and RollupPassErrors into it. The collector, snapshot,
// unified, MA, and arbitrage metrics are registered, but nothing in this
// module updates them.
type Registry struct {
	CollectorReconnects  *prometheus.CounterVec
	CollectorStatus      *prometheus.GaugeVec
	SnapshotsIngested    *prometheus.CounterVec
	RollupPassDuration   *prometheus.HistogramVec
	RollupPassErrors     *prometheus.CounterVec
	UnifiedRowsSynced    prometheus.Counter
	MARowsWritten        prometheus.Counter
	ArbitrageRowsWritten prometheus.Counter
}

// statusValue maps a persistence.CollectorStatusTag to the numeric gauge
// value exported for it, since prometheus gauges carry floats, not enums.
// Higher is healthier: running=3, connected=2, error=1, stopped=0, failed=-1.
var statusValue = map[string]float64{
	"running":   3,
	"connected": 2,
	"error":     1,
	"stopped":   0,
	"failed":    -1,
}

// StatusValue converts a collector status tag to its gauge value.
func StatusValue(tag string) float64 {
	return statusValue[tag]
}

// NewRegistry builds and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		CollectorReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fundingedge",
			Subsystem: "collector",
			Name:      "reconnects_total",
			Help:      "Total reconnect attempts per venue collector.",
		}, []string{"venue"}),
		CollectorStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fundingedge",
			Subsystem: "collector",
			Name:      "status",
			Help:      "Current collector lifecycle state per venue (see StatusValue).",
		}, []string{"venue"}),
		SnapshotsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fundingedge",
			Subsystem: "collector",
			Name:      "snapshots_ingested_total",
			Help:      "Total raw snapshot rows flushed per venue.",
		}, []string{"venue"}),
		RollupPassDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fundingedge",
			Subsystem: "rollup",
			Name:      "pass_duration_seconds",
			Help:      "Wall-clock duration of a rollup/derived-engine pass.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		RollupPassErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fundingedge",
			Subsystem: "rollup",
			Name:      "pass_errors_total",
			Help:      "Failed scheduled-task passes per stage.",
		}, []string{"stage"}),
		UnifiedRowsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fundingedge",
			Subsystem: "unified",
			Name:      "rows_synced_total",
			Help:      "Total rows written by the unified cross-venue sync.",
		}),
		MARowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fundingedge",
			Subsystem: "movingavg",
			Name:      "rows_written_total",
			Help:      "Total moving-average rows written (per-venue + cross-venue).",
		}),
		ArbitrageRowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fundingedge",
			Subsystem: "arbitrage",
			Name:      "rows_written_total",
			Help:      "Total arbitrage rows written.",
		}),
	}

	reg.MustRegister(
		m.CollectorReconnects,
		m.CollectorStatus,
		m.SnapshotsIngested,
		m.RollupPassDuration,
		m.RollupPassErrors,
		m.UnifiedRowsSynced,
		m.MARowsWritten,
		m.ArbitrageRowsWritten,
	)
	return m
}
