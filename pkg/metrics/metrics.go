// Package metrics exposes prometheus collectors for the curator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "curator"

// Metrics holds the collectors of one process. Register them on a registry with MustRegister.
type Metrics struct {
	MoveCounter        *prometheus.CounterVec
	MoveDuration       *prometheus.HistogramVec
	KeyWriteCounter    *prometheus.CounterVec
	SyncErrorCounter   *prometheus.CounterVec
	SnapshotSizeGauge  *prometheus.GaugeVec
	DuplicateKeysGauge *prometheus.GaugeVec
	UnkeyedGauge       *prometheus.GaugeVec
}

func New() *Metrics {
	return &Metrics{
		MoveCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reorder",
				Name:      "moves_total",
				Help:      "Counter of move commands by outcome.",
			}, []string{"collection", "direction", "outcome"}),

		MoveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reorder",
				Name:      "move_duration_seconds",
				Help:      "Bucketed histogram of move latency (s).",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
			}, []string{"collection"}),

		KeyWriteCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backfill",
				Name:      "key_writes_total",
				Help:      "Counter of order key writes issued by backfills and repairs.",
			}, []string{"collection", "operation", "result"}),

		SyncErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "view",
				Name:      "sync_errors_total",
				Help:      "Counter of subscription and refresh failures.",
			}, []string{"collection"}),

		SnapshotSizeGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "view",
				Name:      "snapshot_records",
				Help:      "Number of records in the latest snapshot.",
			}, []string{"collection"}),

		DuplicateKeysGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "duplicate_keys",
				Help:      "Number of order keys held by more than one record at the last audit.",
			}, []string{"collection"}),

		UnkeyedGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "unkeyed_records",
				Help:      "Number of records without an order key at the last audit.",
			}, []string{"collection"}),
	}
}

// Collectors returns every collector, for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MoveCounter,
		m.MoveDuration,
		m.KeyWriteCounter,
		m.SyncErrorCounter,
		m.SnapshotSizeGauge,
		m.DuplicateKeysGauge,
		m.UnkeyedGauge,
	}
}

// MustRegister registers every collector on r.
func (m *Metrics) MustRegister(r prometheus.Registerer) {
	r.MustRegister(m.Collectors()...)
}
