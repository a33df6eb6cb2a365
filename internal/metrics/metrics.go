// Package metrics holds the process wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "duochat"

var (
	MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_appended_total",
		Help:      "Messages durably appended to the store.",
	})

	AppendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "append_failures_total",
		Help:      "Rejected or failed appends by error kind.",
	}, []string{"kind"})

	Pushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pushes_total",
		Help:      "Push attempts to live connections by outcome.",
	}, []string{"outcome"})

	RouteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "route_duration_seconds",
		Help:      "Time from routing a message until every push settled.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	})

	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_connections",
		Help:      "Connections registered in the presence registry.",
	})

	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "online_users",
		Help:      "Users with at least one live connection.",
	})

	Sessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_closed_total",
		Help:      "Real-time sessions closed, by reason.",
	}, []string{"reason"})

	StoreHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "store_healthy",
		Help:      "1 while the store session passes health checks.",
	})

	StoreReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_reconnects_total",
		Help:      "Store redial attempts by result.",
	}, []string{"result"})
)

// Outcome labels for Pushes.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

// Result labels for StoreReconnects.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
