// Package telemetry provides logging setup and Prometheus metrics for scriptgate.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<SG_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router, so the
// public delivery port never exposes it.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template)
//   - Script delivery outcomes and credit consumption
//   - Access recorder failures
//   - Content cache reloads
//   - Database connection pool gauge (polled every 30 s)
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// The path label holds the Gin route template rather than the raw URL so that
// query strings (which carry credentials on the delivery route) never reach a
// label value.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Delivery metrics, recorded by the delivery gate.
//
// ScriptDeliveriesTotal is a CounterVec with labels {outcome, reason}. outcome is
// "granted" or "denied"; reason is the denial reason or "" for grants. Reasons
// are a fixed vocabulary so cardinality stays bounded.
//
// Example PromQL queries:
//   - Denial rate by reason:  sum by (reason) (rate(script_deliveries_total{outcome="denied"}[5m]))
//   - Grant ratio:            sum(rate(script_deliveries_total{outcome="granted"}[1h])) / sum(rate(script_deliveries_total[1h]))
//
// CreditsConsumedTotal counts successful decrements. CreditRacesLostTotal counts
// consumes that found the counter already at zero after authorization passed,
// i.e. a concurrent request took the last credit.
var (
	ScriptDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "script_deliveries_total",
			Help: "Total number of script delivery attempts, by outcome and denial reason.",
		},
		[]string{"outcome", "reason"},
	)

	CreditsConsumedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credits_consumed_total",
			Help: "Total number of credits consumed by granted deliveries.",
		},
	)

	CreditRacesLostTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credit_races_lost_total",
			Help: "Total number of authorized requests that lost the race for the last credit.",
		},
	)
)

// AccessRecordFailuresTotal counts access records that could not be persisted.
// Recording is fire-and-forget, so this counter and the matching error log line
// are the only signal that the audit trail has gaps.
var AccessRecordFailuresTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "access_record_failures_total",
		Help: "Total number of access records that failed to persist.",
	},
)

// ContentCacheReloadsTotal counts reloads of the cached script, by trigger
// ("ttl", "watch", "publish", "cold").
var ContentCacheReloadsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "content_cache_reloads_total",
		Help: "Total number of protected content reloads from storage, by trigger.",
	},
	[]string{"trigger"},
)

// DBOpenConnections tracks the number of open connections held by the sql.DB
// pool. It is sampled every 30 seconds by StartDBStatsCollector.
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <SG_DATABASE_MAX_CONNECTIONS> * 100
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits when db.Ping fails, which happens after shutdown closes the pool.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
