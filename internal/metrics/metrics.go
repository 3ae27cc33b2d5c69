// Package metrics provides Prometheus metrics for the wallsync client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	connectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wallsync_connection_state",
			Help: "Relay connection state (0=disconnected, 1=connecting, 2=connected)",
		},
	)

	connectAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wallsync_connect_attempts_total",
			Help: "Total number of relay connection attempts",
		},
	)

	reconnectDelay = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wallsync_reconnect_delay_seconds",
			Help: "Backoff delay scheduled before the next connection attempt",
		},
	)

	heartbeatTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wallsync_heartbeat_timeouts_total",
			Help: "Connections closed because no PING arrived in time",
		},
	)

	handshakeTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wallsync_handshake_timeouts_total",
			Help: "Connections closed because authentication did not complete in time",
		},
	)

	// Protocol metrics
	framesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallsync_frame_lines_total",
			Help: "Protocol lines sent and received, by direction and key",
		},
		[]string{"direction", "key"},
	)

	protocolErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wallsync_protocol_errors_total",
			Help: "Frames dropped because they could not be parsed",
		},
	)

	// Transfer metrics
	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallsync_transfers_total",
			Help: "File transfers by direction and outcome",
		},
		[]string{"direction", "status"},
	)

	transferBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallsync_transfer_bytes_total",
			Help: "Decoded payload bytes moved, by direction",
		},
		[]string{"direction"},
	)

	pendingUploads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wallsync_pending_uploads",
			Help: "Uploads announced but not yet acknowledged by the relay",
		},
	)

	wallpaperAppliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallsync_wallpaper_applies_total",
			Help: "Wallpaper apply commands started",
		},
		[]string{"status"},
	)

	// Cache metrics
	cacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wallsync_cache_bytes",
			Help: "Bytes held in the local wallpaper cache",
		},
	)

	cacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wallsync_cache_entries",
			Help: "Files held in the local wallpaper cache",
		},
	)

	cacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wallsync_cache_evictions_total",
			Help: "Files evicted from the local cache",
		},
	)
)

// Direction labels.
const (
	Inbound  = "inbound"
	Outbound = "outbound"
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetConnectionState records the numeric connection state.
func SetConnectionState(state int) {
	connectionState.Set(float64(state))
}

// RecordConnectAttempt counts a connection attempt.
func RecordConnectAttempt() {
	connectAttemptsTotal.Inc()
}

// SetReconnectDelay records the currently scheduled backoff.
func SetReconnectDelay(seconds float64) {
	reconnectDelay.Set(seconds)
}

// RecordHeartbeatTimeout counts a heartbeat-forced close.
func RecordHeartbeatTimeout() {
	heartbeatTimeoutsTotal.Inc()
}

// RecordHandshakeTimeout counts a handshake-forced close.
func RecordHandshakeTimeout() {
	handshakeTimeoutsTotal.Inc()
}

// RecordLine counts a protocol line. key should already be collapsed to a
// bounded label set by the caller.
func RecordLine(direction, key string) {
	framesTotal.WithLabelValues(direction, key).Inc()
}

// RecordProtocolError counts a dropped frame.
func RecordProtocolError() {
	protocolErrorsTotal.Inc()
}

// RecordTransfer records the outcome of a transfer.
func RecordTransfer(direction string, bytes int64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	transfersTotal.WithLabelValues(direction, status).Inc()
	if success && bytes > 0 {
		transferBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
}

// SetPendingUploads records the size of the pending upload table.
func SetPendingUploads(n int) {
	pendingUploads.Set(float64(n))
}

// RecordWallpaperApply counts an apply command.
func RecordWallpaperApply(success bool) {
	if success {
		wallpaperAppliesTotal.WithLabelValues("success").Inc()
		return
	}
	wallpaperAppliesTotal.WithLabelValues("error").Inc()
}

// SetCacheUsage records the cache totals after a maintenance pass.
func SetCacheUsage(bytes int64, entries int) {
	cacheBytes.Set(float64(bytes))
	cacheEntries.Set(float64(entries))
}

// RecordCacheEvictions counts evicted files.
func RecordCacheEvictions(n int) {
	cacheEvictionsTotal.Add(float64(n))
}
