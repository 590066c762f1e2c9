// Package metrics provides Prometheus metrics for the vfsd daemon.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Dispatcher metrics
	opsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vfsd_ops_total",
			Help: "Total filesystem operations dispatched, by operation and outcome",
		},
		[]string{"op", "status"},
	)

	opDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vfsd_op_duration_seconds",
			Help:    "Filesystem operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Change watcher metrics
	watcherPollsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vfsd_watcher_polls_total",
			Help: "Total change watcher polls",
		},
	)

	watcherChangesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vfsd_watcher_changes_total",
			Help: "Total externally introduced changes detected",
		},
	)

	watcherPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vfsd_watcher_poll_duration_seconds",
			Help:    "Time to rebuild and compare a tree snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Transport metrics
	connectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vfsd_connections_active",
			Help: "Number of active websocket connections",
		},
	)

	pushEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vfsd_push_events_total",
			Help: "Total unsolicited fileSystemChanged pushes delivered",
		},
	)
)

// RecordOp records one dispatched operation.
func RecordOp(op, status string, duration time.Duration) {
	opsTotal.WithLabelValues(op, status).Inc()
	opDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordWatcherPoll records one watcher poll and whether it found a change.
func RecordWatcherPoll(changed bool, duration time.Duration) {
	watcherPollsTotal.Inc()
	watcherPollDuration.Observe(duration.Seconds())
	if changed {
		watcherChangesTotal.Inc()
	}
}

// SetConnectionsActive updates the active connection gauge.
func SetConnectionsActive(n int64) {
	connectionsActive.Set(float64(n))
}

// RecordPushEvent counts one push delivery.
func RecordPushEvent() {
	pushEventsTotal.Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
