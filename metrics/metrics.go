// Package metrics exposes the Prometheus collectors shared across the map
// controller, the cluster API and the session hub.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RebuildsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapkit_rebuilds_total",
		Help: "Total clustering index rebuilds performed by controllers",
	})
	RebuildDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mapkit_rebuild_duration_ms",
		Help:    "Rebuild duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
	RebuildRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapkit_rebuild_retries_total",
		Help: "Total rebuild attempts retried because the engine was not ready",
	})
	RebuildAbandonedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapkit_rebuild_abandoned_total",
		Help: "Total rebuilds abandoned after exhausting retries",
	})
	BadgeShowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapkit_badge_shows_total",
		Help: "Total badge reveal passes",
	})
	BadgeHidesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapkit_badge_hides_total",
		Help: "Total badge hide passes",
	})
	ClusterQueriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapkit_cluster_queries_total",
		Help: "Total viewport cluster queries served",
	})
	ClusterQueryDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mapkit_cluster_query_duration_ms",
		Help:    "Viewport cluster query duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
	LiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapkit_live_sessions",
		Help: "Currently connected map sessions",
	})
	HTTPRequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mapkit_http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"path", "status"})
)

func init() {
	prometheus.MustRegister(RebuildsTotal)
	prometheus.MustRegister(RebuildDurationMs)
	prometheus.MustRegister(RebuildRetriesTotal)
	prometheus.MustRegister(RebuildAbandonedTotal)
	prometheus.MustRegister(BadgeShowsTotal)
	prometheus.MustRegister(BadgeHidesTotal)
	prometheus.MustRegister(ClusterQueriesTotal)
	prometheus.MustRegister(ClusterQueryDurationMs)
	prometheus.MustRegister(LiveSessions)
	prometheus.MustRegister(HTTPRequestDurationMs)
}

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
