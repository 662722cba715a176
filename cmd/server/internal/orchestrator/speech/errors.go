package speech

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies speech pipeline failures.
type ErrorCode string

const (
	// CodeProviderUnavailable means the provider could not be reached or
	// refused the connection (auth, DNS, 5xx). Permanent for this call.
	CodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"

	// CodeUnsupportedConfig means the requested language/sample rate is not
	// served by the provider. Fatal, never retried.
	CodeUnsupportedConfig ErrorCode = "UNSUPPORTED_CONFIG"

	// CodeStreamInterrupted means an open stream dropped mid-flight. Transient;
	// the Manager reopens the stream once before falling back.
	CodeStreamInterrupted ErrorCode = "STREAM_INTERRUPTED"

	// CodeAllProvidersExhausted means the preferred provider and every
	// fallback candidate failed to open a stream.
	CodeAllProvidersExhausted ErrorCode = "ALL_PROVIDERS_EXHAUSTED"

	// CodeNoActiveSession means audio arrived for a meeting without an open
	// speech session.
	CodeNoActiveSession ErrorCode = "NO_ACTIVE_SESSION"
)

// ProviderError is the typed error for the speech pipeline.
type ProviderError struct {
	Code      ErrorCode `json:"code"`
	Provider  string    `json:"provider"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s (%s): %v", e.Code, e.Message, e.Provider, e.Cause)
	}
	return fmt.Sprintf("[%s] %s (%s)", e.Code, e.Message, e.Provider)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a speech pipeline error.
func NewProviderError(code ErrorCode, provider, message string, cause error) *ProviderError {
	return &ProviderError{
		Code:      code,
		Provider:  provider,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// IsCode reports whether err carries the given speech error code.
func IsCode(err error, code ErrorCode) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
