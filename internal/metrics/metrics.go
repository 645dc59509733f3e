package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rooms_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rooms_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rooms_cache_hits_total",
			Help: "Total cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rooms_cache_misses_total",
			Help: "Total cache misses",
		},
	)

	CacheOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rooms_cache_op_duration_seconds",
			Help:    "Cache operation duration",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
		[]string{"op"},
	)

	// Business metrics
	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rooms_created_total",
			Help: "Total rooms created",
		},
	)

	MembershipChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rooms_membership_changes_total",
			Help: "Total membership changes",
		},
		[]string{"change"}, // "join", "leave", "kick"
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rooms_events_published_total",
			Help: "Total room events published",
		},
		[]string{"type"},
	)

	// Presence is best-effort; errors are counted, never surfaced.
	PresenceErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rooms_presence_errors_total",
			Help: "Total presence tracker errors",
		},
	)

	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rooms_ws_connected_clients",
			Help: "Currently connected WebSocket clients",
		},
	)
)
