package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storewatch_polls_total",
		Help: "Poll cycles by storage type and result (applied, discarded, read_error)",
	}, []string{"storage", "result"})

	pollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storewatch_poll_duration_seconds",
		Help:    "Snapshot read latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	}, []string{"storage"})

	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storewatch_records_total",
		Help: "Change records appended by storage type and action",
	}, []string{"storage", "action"})

	monitoring = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "storewatch_monitoring",
		Help: "1 while the monitor of a storage type is running",
	}, []string{"storage"})

	batchesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storewatch_batches_dropped_total",
		Help: "Batches dropped because the sink queue was full",
	}, []string{"storage"})
)
