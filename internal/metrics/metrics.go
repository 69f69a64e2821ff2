package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// API metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runcoach_http_requests_total",
			Help: "Total number of API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runcoach_http_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Vault metrics
	TokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runcoach_token_refresh_total",
			Help: "External token refresh attempts by result",
		},
		[]string{"result"},
	)

	// Sync metrics
	SyncActivitiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runcoach_sync_activities_total",
			Help: "Remote activities processed by sync, by outcome",
		},
		[]string{"outcome"},
	)

	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runcoach_sync_runs_total",
			Help: "Sync runs by result",
		},
		[]string{"result"},
	)

	// Messaging metrics
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runcoach_messages_total",
			Help: "Messages sent by transport",
		},
		[]string{"transport"},
	)

	LiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "runcoach_live_connections",
			Help: "Open live channel connections on this instance",
		},
	)
)

// Label values.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultRaced    = "raced"
	OutcomeSynced  = "inserted"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
	OutcomeLinked  = "linked"
	TransportHTTP  = "http"
	TransportLive  = "live"
)

func init() {
	// Register all metrics
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(TokenRefreshTotal)
	prometheus.MustRegister(SyncActivitiesTotal)
	prometheus.MustRegister(SyncRunsTotal)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(LiveConnections)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
