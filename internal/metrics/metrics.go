// Package metrics defines the Prometheus collectors docrel updates.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	GatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrel_gateway_requests_total",
			Help: "Document store requests by method and response status class",
		},
		[]string{"method", "status"},
	)

	PushdownFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrel_gateway_pushdown_fallbacks_total",
			Help: "Listings retried without server-side queries after the store rejected them",
		},
		[]string{"collection"},
	)

	PagesFetched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docrel_gateway_pages_fetched_total",
			Help: "Pages fetched by paginated listings",
		},
	)

	AccessDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrel_access_denied_total",
			Help: "Requests rejected by the access guard",
		},
		[]string{"table", "operation"},
	)

	RealtimeSubscriptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrel_realtime_subscriptions_total",
			Help: "Channel subscriptions by delivery mode (push or poll)",
		},
		[]string{"mode"},
	)

	ListenerFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docrel_realtime_listener_failures_total",
			Help: "Realtime listener callbacks that panicked",
		},
	)

	EmulatorRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrel_emulator_requests_total",
			Help: "Requests served by the local emulator by route pattern and status",
		},
		[]string{"route", "status"},
	)
)

var registerOnce sync.Once

// Register adds every docrel collector to reg. Only the first call has effect.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			GatewayRequests,
			PushdownFallbacks,
			PagesFetched,
			AccessDenied,
			RealtimeSubscriptions,
			ListenerFailures,
			EmulatorRequests,
		)
	})
}
