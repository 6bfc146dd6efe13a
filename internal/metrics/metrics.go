package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harmony_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harmony_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// RecoverySubmissions counts recovery form submissions by type and outcome
	RecoverySubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harmony_recovery_submissions_total",
			Help: "Recovery request submissions by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// StatusChanges counts admin status transitions
	StatusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harmony_recovery_status_changes_total",
			Help: "Recovery status changes by target status",
		},
		[]string{"status"},
	)

	// ConfirmationDeliveries counts after-commit confirmation attempts
	ConfirmationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harmony_confirmation_deliveries_total",
			Help: "Confirmation email/notification deliveries by outcome",
		},
		[]string{"outcome"},
	)

	// RemoteCalls counts edge function invocations
	RemoteCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harmony_remote_calls_total",
			Help: "Edge function calls by procedure and outcome",
		},
		[]string{"procedure", "outcome"},
	)

	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harmony_job_runs_total",
			Help: "Background job runs by task and outcome",
		},
		[]string{"task", "outcome"},
	)

	// RealtimeClients is the number of connected WebSocket clients
	RealtimeClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harmony_realtime_clients",
			Help: "Connected realtime clients",
		},
	)

	// RealtimeChanges counts published change notifications per table
	RealtimeChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harmony_realtime_changes_total",
			Help: "Change notifications published per table",
		},
		[]string{"table"},
	)
)

// Middleware records request counts and latency per route
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Outcome converts an error into a metrics label
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
