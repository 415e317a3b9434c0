package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gameupdater_updates_total",
			Help: "Total number of update requests by source and final status",
		},
		[]string{"source", "status"},
	)

	UpdateDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gameupdater_update_duration_seconds",
			Help:    "Update tool run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15),
		},
		[]string{"status"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gameupdater_queue_depth",
			Help: "Number of update requests waiting to be processed",
		},
	)

	BusConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gameupdater_bus_connected",
			Help: "1 when the message bus connection is up",
		},
	)

	BusReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gameupdater_bus_reconnect_attempts_total",
			Help: "Total number of bus connection attempts after a failure",
		},
	)

	PendingPublications = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gameupdater_pending_publications",
			Help: "Number of bus messages buffered while disconnected",
		},
	)

	DuplicateEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gameupdater_duplicate_events_total",
			Help: "Remote update events dropped by the deduplicator",
		},
		[]string{"reason"},
	)
)
