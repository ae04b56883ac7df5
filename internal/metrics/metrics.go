// Package metrics exposes bot and notification counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signalbot"

type Metrics struct {
	MessagesReceived  prometheus.Counter
	ReceiptsSent      prometheus.Counter
	ReactionsSent     *prometheus.CounterVec // emoji
	RoutesHandled     *prometheus.CounterVec // route name, "unknown", "no_body"
	TransportErrors   *prometheus.CounterVec // op
	NotificationsSent *prometheus.CounterVec // kind: notification, alert, fallback
	CollectorFailures *prometheus.CounterVec // account label

	gatherer prometheus.Gatherer
}

// New registers the counters on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_received_total",
			Help: "Messages delivered to the bot by the transport.",
		}),
		ReceiptsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "receipts_sent_total",
			Help: "Receipts successfully sent.",
		}),
		ReactionsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reactions_sent_total",
			Help: "Reactions successfully sent, by emoji.",
		}, []string{"emoji"}),
		RoutesHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "routes_handled_total",
			Help: "Messages classified by the command router, by route.",
		}, []string{"route"}),
		TransportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transport_errors_total",
			Help: "Failed transport calls, by operation.",
		}, []string{"op"}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_sent_total",
			Help: "Scheduled-path messages sent, by kind.",
		}, []string{"kind"}),
		CollectorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "collector_failures_total",
			Help: "Recoverable collector failures, by watched account.",
		}, []string{"account"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.MessagesReceived,
		m.ReceiptsSent,
		m.ReactionsSent,
		m.RoutesHandled,
		m.TransportErrors,
		m.NotificationsSent,
		m.CollectorFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}
