// Package speech provides the speech-to-text layer of the meeting engine.
// It defines a uniform streaming provider contract and ships a closed set of
// implementations (Azure-style HTTP, Google-style HTTP, local whisper, and a
// degraded-mode mock). The Manager in this package owns provider selection,
// fallback, per-meeting speech sessions, and diarization mapping.
package speech

import (
	"context"
	"time"
)

// StreamConfig describes one transcription stream. Providers validate the
// language and sample rate at stream open and reject unsupported combinations
// with CodeUnsupportedConfig.
type StreamConfig struct {
	// MeetingID identifies the meeting this stream belongs to.
	MeetingID string

	// Language is an ISO 639-1 code; empty means provider auto-detection.
	Language string

	// SampleRate is the PCM sample rate of pushed audio in Hz (e.g. 16000).
	SampleRate int

	// EnableDiarization requests provider-side speaker separation. Providers
	// without diarization ignore the flag and tag all speech with one tag.
	EnableDiarization bool

	// EnablePartials requests interim (non-final) results where supported.
	EnablePartials bool
}

// Result is a single transcription result emitted by a provider.
//
// SpeakerTag is provider-local ("guest-1", "spk_0", ...); the Manager maps it
// to a meeting participant identifier before delivery. Partial results may be
// revised (same tag, updated text/confidence); final results are immutable.
type Result struct {
	SpeakerTag string    `json:"speaker_tag"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Final      bool      `json:"final"`
	Timestamp  time.Time `json:"timestamp"`
}

// Stream is an open transcription stream on a single provider.
//
// Implementations are not required to be safe for concurrent use; the Manager
// serializes access per meeting.
type Stream interface {
	// Push forwards one audio chunk and returns any results the provider has
	// ready. A transient delivery failure surfaces as CodeStreamInterrupted;
	// the caller may reopen the stream and retry.
	Push(ctx context.Context, chunk []byte) ([]Result, error)

	// Stop finalizes the stream and returns the remaining results. The stream
	// must not be used afterwards.
	Stop(ctx context.Context) ([]Result, error)
}

// Provider is the uniform contract over speech-to-text backends.
//
// Failure conditions at StartStream:
//   - CodeProviderUnavailable: connection or auth failure, permanent for this
//     call; the caller should try the next provider.
//   - CodeUnsupportedConfig: the requested language/sample rate cannot be
//     served; fatal, no retry against this provider.
//
// Providers perform no side effects beyond their own network calls.
type Provider interface {
	// Name returns the stable identifier used in logs, metrics, and fallback
	// configuration (e.g. "azure", "google", "whisper", "mock").
	Name() string

	// StartStream opens a transcription stream for the given configuration.
	StartStream(ctx context.Context, cfg StreamConfig) (Stream, error)

	// HealthCheck reports whether the backend is reachable and ready.
	// It should be lightweight (single probe request, bounded by ctx).
	HealthCheck(ctx context.Context) (bool, error)
}
