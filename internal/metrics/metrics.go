// Package metrics declares the Prometheus collectors of the content pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeNotFound = "not_found"
	OutcomeSkipped  = "skipped"
	OutcomeStale    = "stale"
	OutcomePartial  = "partial"
)

var RepositoryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "spacetraveling_repository_requests_total",
	Help: "Requests issued to the content repository",
}, []string{"op", "outcome"})

var RepositoryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "spacetraveling_repository_request_duration_seconds",
	Help:    "Latency of content repository requests",
	Buckets: prometheus.DefBuckets,
}, []string{"op"})

var PaginationLoads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "spacetraveling_pagination_loads_total",
	Help: "Listing load-more attempts by outcome",
}, []string{"outcome"})

var PaginationSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "spacetraveling_pagination_sessions",
	Help: "Live listing sessions",
})

var Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "spacetraveling_resolutions_total",
	Help: "Detail page resolutions by resulting state",
}, []string{"state"})

var Revalidations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "spacetraveling_revalidations_total",
	Help: "Background detail refreshes by outcome",
}, []string{"outcome"})

var Builds = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "spacetraveling_builds_total",
	Help: "Static builds by outcome",
}, []string{"outcome"})

var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "spacetraveling_http_requests_total",
	Help: "HTTP requests by route pattern and status code",
}, []string{"route", "method", "code"})

var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "spacetraveling_http_request_duration_seconds",
	Help:    "HTTP request latency by route pattern",
	Buckets: prometheus.DefBuckets,
}, []string{"route"})
