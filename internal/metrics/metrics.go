// Package metrics provides Prometheus metrics for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "aria"

var (
	// TurnsTotal counts completed turns by outcome
	// (spoken, photo_requested, clinicians, aborted, failed).
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Completed conversation turns by outcome.",
	}, []string{"outcome"})

	// ModelCalls counts model invocations by kind.
	ModelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_calls_total",
		Help:      "Language model invocations by kind.",
	}, []string{"kind"})

	// SpeakRetries counts avatar speak retries after a session reconnect.
	SpeakRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "speak_retries_total",
		Help:      "Avatar speak attempts retried after reconnect.",
	})

	// SessionsActive tracks currently running conversation sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Conversation sessions currently active.",
	})
)
