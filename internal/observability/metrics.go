package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_hailing"

var (
	RidesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rides_created_total", Help: "Rides created by service type"},
		[]string{"service_type", "vehicle_type"},
	)
	PoolMerges = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "pool_merges_total", Help: "Pooled requests merged into an existing ride"})
	DispatchCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_candidates",
		Help:      "Captains notified per dispatched ride",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	})
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "match_latency_seconds", Help: "Ride creation and dispatch latency seconds"})
	Transitions  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Lifecycle transitions by outcome"},
		[]string{"transition", "result"},
	)
	CaptainsOnline = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "captains_online", Help: "Online captains by vehicle type"},
		[]string{"vehicle_type"},
	)
	ForcedOffline = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "captains_forced_offline_total", Help: "Captains taken offline by a service toggle"})
	GeoErrors     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "geo_errors_total", Help: "Geo provider and index failures"},
		[]string{"op"},
	)
	SessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "ws_sessions_active", Help: "Joined realtime sessions by role"},
		[]string{"role"},
	)
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_total", Help: "Realtime events by delivery result"},
		[]string{"event", "result"},
	)
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Records written to the event stream"},
		[]string{"topic", "result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Result labels an operation outcome.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
