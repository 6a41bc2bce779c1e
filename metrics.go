package replicore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level replication metrics, matching litefs's http/server.go
// convention of package-level promauto vars (serverStreamCountMetric,
// serverFrameSendCountMetricVec) rather than a metrics struct threaded
// through every call site.
var (
	binlogLagGaugeVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "replicore_binlog_lag",
		Help: "Difference between the lowest downstream binlog position and a store's first retained binlog id.",
	}, []string{"store"})

	workerPoolOccupancyGaugeVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "replicore_worker_pool_occupancy",
		Help: "Number of tasks queued or executing in a worker pool.",
	}, []string{"pool"})

	masterStreamCountGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "replicore_master_stream_count",
		Help: "Number of downstream clients currently attached to master push.",
	})

	slaveSyncErrorCountVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replicore_slave_sync_error_count",
		Help: "Number of failed slave sync attempts.",
	}, []string{"store"})

	binlogRecycleCountVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replicore_binlog_recycle_count",
		Help: "Number of binlog entries truncated by the recycler.",
	}, []string{"store"})
)
