package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies engine-level failures.
type ErrorCode string

const (
	// INVALID_MEETING_CONFIG caller error, rejected before any state is created
	INVALID_MEETING_CONFIG ErrorCode = "INVALID_MEETING_CONFIG"

	// JOIN_ERROR platform join handshake failed
	JOIN_ERROR ErrorCode = "JOIN_ERROR"

	// JOIN_TIMEOUT session stuck in joining beyond the grace period
	JOIN_TIMEOUT ErrorCode = "JOIN_TIMEOUT"

	// MEETING_NOT_FOUND no session registered under the identifier
	MEETING_NOT_FOUND ErrorCode = "MEETING_NOT_FOUND"

	// FINALIZE_FAILED meeting finalization failed unrecoverably
	FINALIZE_FAILED ErrorCode = "FINALIZE_FAILED"

	// ENGINE_CLOSED operation arrived after shutdown began
	ENGINE_CLOSED ErrorCode = "ENGINE_CLOSED"
)

// EngineError is the engine's error envelope.
type EngineError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// NewEngineError creates an EngineError.
func NewEngineError(code ErrorCode, message string, cause error) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// NewInvalidConfigError rejects a bad scheduling request.
func NewInvalidConfigError(message string) *EngineError {
	return NewEngineError(INVALID_MEETING_CONFIG, message, nil)
}

// NewJoinError wraps a platform join failure.
func NewJoinError(cause error) *EngineError {
	return NewEngineError(JOIN_ERROR, "platform join failed", cause)
}

// NewJoinTimeoutError marks a join that exceeded the grace period.
func NewJoinTimeoutError(grace time.Duration) *EngineError {
	return NewEngineError(JOIN_TIMEOUT, fmt.Sprintf("join not acknowledged within %s", grace), nil)
}

// NewMeetingNotFoundError marks an unknown meeting identifier.
func NewMeetingNotFoundError(meetingID string) *EngineError {
	return NewEngineError(MEETING_NOT_FOUND, fmt.Sprintf("meeting %s not found", meetingID), nil)
}

// NewFinalizeFailedError wraps an unrecoverable finalization failure.
func NewFinalizeFailedError(cause error) *EngineError {
	return NewEngineError(FINALIZE_FAILED, "meeting finalization failed", cause)
}

// IsCode reports whether err carries the given engine error code.
func IsCode(err error, code ErrorCode) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}
