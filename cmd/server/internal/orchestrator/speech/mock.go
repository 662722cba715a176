package speech

import (
	"context"
	"log"
)

// MockProvider implements Provider as the degraded-mode fallback. It accepts
// every stream and swallows audio without producing results, so a meeting can
// keep running when every real backend is down.
//
// Behavior:
//   - StartStream: always succeeds, logs a WARN for monitoring
//   - Push/Stop: never return results, never fail
//   - HealthCheck: always false (the mock itself represents a degraded state)
type MockProvider struct{}

// NewMockProvider creates a MockProvider. It has no configuration or state.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Name implements Provider.
func (m *MockProvider) Name() string { return "mock" }

// StartStream implements Provider and always succeeds.
func (m *MockProvider) StartStream(ctx context.Context, cfg StreamConfig) (Stream, error) {
	log.Printf("[WARN] MockProvider: opening degraded-mode stream for meeting %s; no transcription will be produced", cfg.MeetingID)
	return &mockStream{}, nil
}

// HealthCheck always reports unhealthy so the mock never wins provider
// selection on health grounds; it is only used as an explicit last fallback.
func (m *MockProvider) HealthCheck(ctx context.Context) (bool, error) {
	return false, nil
}

type mockStream struct{}

func (s *mockStream) Push(ctx context.Context, chunk []byte) ([]Result, error) {
	return nil, nil
}

func (s *mockStream) Stop(ctx context.Context) ([]Result, error) {
	return nil, nil
}
