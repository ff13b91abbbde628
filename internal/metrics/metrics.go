// Package metrics provides Prometheus instrumentation for Pesa-Bridge.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pesabridge",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pesabridge",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AuthorizationsTotal counts charge requests by outcome
	// (pending, declined, failed).
	AuthorizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pesabridge",
			Name:      "authorizations_total",
			Help:      "Total authorization attempts by immediate outcome.",
		},
		[]string{"outcome"},
	)

	// DeclinesTotal counts declines by decline code.
	DeclinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pesabridge",
			Name:      "declines_total",
			Help:      "Total declined authorizations by decline code.",
		},
		[]string{"code"},
	)

	// ReconciliationsTotal counts reconciliation results
	// (approved, declined, duplicate, not_found).
	ReconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pesabridge",
			Name:      "reconciliations_total",
			Help:      "Total reconciliation attempts by result.",
		},
		[]string{"result"},
	)

	// ExpiredTotal counts transactions force-expired by the sweeper or the
	// status-query path.
	ExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pesabridge",
		Name:      "expired_total",
		Help:      "Total transactions expired after the push prompt timed out.",
	})

	// FraudIndicatorsTotal counts advisory fraud indicators by kind.
	FraudIndicatorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pesabridge",
			Name:      "fraud_indicators_total",
			Help:      "Total advisory fraud indicators raised by kind.",
		},
		[]string{"indicator"},
	)

	// PushInitiationDuration observes gateway push initiation latency.
	PushInitiationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pesabridge",
		Name:      "push_initiation_duration_seconds",
		Help:      "Gateway push initiation latency in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	// AuthorizationDuration observes time from entry creation to terminal state.
	AuthorizationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pesabridge",
		Name:      "authorization_duration_seconds",
		Help:      "Time from transaction creation to terminal state in seconds.",
		Buckets:   []float64{1, 2, 5, 10, 15, 30, 45, 60, 120},
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pesabridge", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pesabridge", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pesabridge", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pesabridge", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AuthorizationsTotal,
		DeclinesTotal,
		ReconciliationsTotal,
		ExpiredTotal,
		FraudIndicatorsTotal,
		PushInitiationDuration,
		AuthorizationDuration,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
