// Package metrics holds the Prometheus collectors for the kiosk daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kiosk"

// Drop reasons for DroppedMessages.
const (
	ReasonOrigin    = "origin"
	ReasonMalformed = "malformed"
	ReasonUnknown   = "unknown"
)

var (
	// Activations counts Idle→Live transitions.
	Activations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "activations_total",
		Help:      "Total Idle to Live transitions.",
	})

	// Deactivations counts Live→Idle transitions by reason.
	Deactivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deactivations_total",
		Help:      "Total Live to Idle transitions by reason.",
	}, []string{"reason"})

	// ProvisionFailures counts sessions that failed to provision, by adapter.
	ProvisionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provision_failures_total",
		Help:      "Total session provisioning failures by delivery adapter.",
	}, []string{"adapter"})

	// ProvisionDuration tracks how long provisioning takes, by adapter.
	ProvisionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provision_duration_seconds",
		Help:      "Session provisioning latency by delivery adapter.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"adapter"})

	// DroppedMessages counts inbound messages that were not trusted or not
	// understood.
	DroppedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_messages_total",
		Help:      "Inbound messages dropped by reason.",
	}, []string{"reason"})

	// LiveSessions is 1 while a session is provisioned.
	LiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_sessions",
		Help:      "Number of provisioned sessions (0 or 1).",
	})

	// Renderers tracks connected renderer sockets.
	Renderers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "websocket",
		Name:      "renderers",
		Help:      "Number of connected renderer WebSockets.",
	})
)
