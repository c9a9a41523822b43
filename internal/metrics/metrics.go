// Package metrics exposes Prometheus instruments for the companion pipeline
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reply outcomes
const (
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
	OutcomeStale    = "stale"
)

// Speech outcomes
const (
	SpeechPlayed    = "played"
	SpeechSkipped   = "skipped"
	SpeechFailed    = "failed"
	SpeechCancelled = "cancelled"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_companion_requests_total",
			Help: "Total number of submitted messages by reply outcome",
		},
		[]string{"outcome"},
	)

	BackendLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cortex_companion_backend_latency_seconds",
			Help:    "Text generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SpeechCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_companion_speech_total",
			Help: "Speech pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	SynthesisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "cortex_companion_synthesis_latency_seconds",
			Help: "Speech synthesis latency in seconds",
		},
	)

	ActionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_companion_actions_total",
			Help: "Executed action tokens",
		},
		[]string{"token"},
	)

	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_companion_state_transitions_total",
			Help: "Companion state transitions by target state",
		},
		[]string{"state"},
	)

	Affection = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortex_companion_affection",
			Help: "Current affection level",
		},
	)

	ActiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortex_companion_active_clients",
			Help: "Number of connected websocket clients",
		},
	)
)
