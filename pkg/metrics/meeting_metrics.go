// Package metrics provides Prometheus metrics for monitoring the meeting engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveMeetings tracks how many sessions are currently in the Active state.
	ActiveMeetings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentmeet_active_meetings",
			Help: "Number of meeting sessions currently active",
		},
	)

	// StateTransitionsTotal counts session lifecycle transitions.
	// Labels: from, to (lifecycle state names).
	StateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentmeet_state_transitions_total",
			Help: "Total number of meeting session state transitions",
		},
		[]string{"from", "to"},
	)

	// TranscriptEntriesTotal counts transcript entries appended to sessions.
	// Labels: provider (speech provider name), kind (partial/final).
	TranscriptEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentmeet_transcript_entries_total",
			Help: "Total number of transcript entries appended by provider",
		},
		[]string{"provider", "kind"},
	)

	// ProviderFallbacksTotal counts speech provider substitutions.
	// Labels: from, to (provider names).
	ProviderFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentmeet_provider_fallbacks_total",
			Help: "Total number of speech provider fallback events",
		},
		[]string{"from", "to"},
	)

	// ProviderHealthy reports the latest health probe result per provider
	// (0=unhealthy, 1=healthy).
	ProviderHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentmeet_provider_healthy",
			Help: "Speech provider health status (0=unhealthy, 1=healthy)",
		},
		[]string{"provider"},
	)

	// AudioProcessingDuration observes per-chunk audio processing latency.
	// Labels: provider. Buckets follow the expected range of a streaming
	// push: sub-millisecond mock up to multi-second HTTP round trips.
	AudioProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentmeet_audio_processing_duration_seconds",
			Help:    "Audio chunk processing duration in seconds by provider",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider"},
	)

	// SessionErrorsTotal counts terminal and recoverable engine errors.
	// Labels: component (orchestrator/session/speech/conversation), error_code.
	SessionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentmeet_session_errors_total",
			Help: "Total number of engine errors by component and error code",
		},
		[]string{"component", "error_code"},
	)
)

// RecordTransition records one session lifecycle transition and keeps the
// active-meetings gauge in step with entries to and exits from Active.
func RecordTransition(from, to string) {
	StateTransitionsTotal.WithLabelValues(from, to).Inc()
	if to == "active" {
		ActiveMeetings.Inc()
	}
	if from == "active" {
		ActiveMeetings.Dec()
	}
}

// RecordTranscriptEntry records a transcript entry delivered by a provider.
func RecordTranscriptEntry(provider string, final bool) {
	kind := "partial"
	if final {
		kind = "final"
	}
	TranscriptEntriesTotal.WithLabelValues(provider, kind).Inc()
}

// RecordFallback records a provider substitution event.
func RecordFallback(from, to string) {
	ProviderFallbacksTotal.WithLabelValues(from, to).Inc()
}

// RecordProviderHealth records the latest health probe result for a provider.
func RecordProviderHealth(provider string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	ProviderHealthy.WithLabelValues(provider).Set(v)
}

// RecordError records an engine error by component and code.
func RecordError(component, errorCode string) {
	SessionErrorsTotal.WithLabelValues(component, errorCode).Inc()
}
