// Package metrics holds the Prometheus collectors shared by the HTTP layer
// and the ingestion services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gsc_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gsc_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Search Console API calls by outcome (ok or an error kind).
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gsc_upstream_requests_total",
			Help: "Search Console API calls by outcome",
		},
		[]string{"outcome"},
	)

	FetchRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gsc_fetch_retries_total",
			Help: "Rate-limited page fetches that were retried",
		},
	)

	ImportRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gsc_import_rows_total",
			Help: "Analytics rows written by imports",
		},
	)

	ImportJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gsc_import_jobs_total",
			Help: "Import jobs by final status",
		},
		[]string{"status"},
	)

	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gsc_token_refresh_total",
			Help: "OAuth access token refreshes by outcome",
		},
		[]string{"outcome"},
	)

	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gsc_cache_requests_total",
			Help: "Cache lookups by result",
		},
		[]string{"result"},
	)
)

const (
	OutcomeOK = "ok"

	RefreshSuccess       = "success"
	RefreshRevoked       = "revoked"
	RefreshTransient     = "transient"
	RefreshMisconfigured = "misconfigured"

	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)
