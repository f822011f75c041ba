// Package metrics holds the prometheus collectors for the lobby service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quiz"

type Metrics struct {
	Connections     prometheus.Gauge
	Lobbies         prometheus.Gauge
	EventsPublished *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec
	SlowClients     prometheus.Counter
	RequestDuration *prometheus.HistogramVec
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open websocket connections",
		}),
		Lobbies: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "lobbies",
			Help:      "Session channels with a live fan-out actor",
		}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "events_published_total",
			Help:      "Events handed to the fan-out layer",
		}, []string{"type"}),
		PublishFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "publish_failures_total",
			Help:      "Events that could not be published",
		}, []string{"type"}),
		SlowClients: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "slow_clients_dropped_total",
			Help:      "Subscribers dropped because their outbox was full",
		}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Nop returns collectors bound to a throwaway registry.
func Nop() *Metrics { return New(prometheus.NewRegistry()) }
