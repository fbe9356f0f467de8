// Package metrics holds the relay's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BufferedFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_buffered_files",
		Help: "Files currently held in the in-memory buffer",
	})

	Uploads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_uploads_total",
		Help: "Files accepted by the upload endpoint",
	})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections",
		Help: "Live socket connections",
	})

	ActiveTransfers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_transfers",
		Help: "Transfers between acceptance and a terminal state",
	})

	// TransfersTotal is labelled by terminal outcome:
	// completed, already_downloaded, cancelled, errored, rejected.
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_transfers_total",
		Help: "Transfers by outcome",
	}, []string{"outcome", "mode"})

	ChunksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_chunks_sent_total",
		Help: "file-chunk frames emitted to receivers",
	})

	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_bytes_sent_total",
		Help: "File bytes delivered to receivers (before base64)",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)
