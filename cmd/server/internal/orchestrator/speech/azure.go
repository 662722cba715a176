package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// AzureProvider implements Provider against an Azure-style streaming speech
// REST gateway. A stream is opened with a POST carrying the session config,
// audio chunks are POSTed against the returned stream ID, and results come
// back inline in each push response.
//
// Capabilities: speaker diarization and partial results.
type AzureProvider struct {
	endpoint   string       // Base URL of the speech gateway (e.g. "https://eastus.stt.example.com")
	apiKey     string       // Subscription key sent as Ocp-Apim-Subscription-Key
	httpClient *http.Client // Reusable HTTP client with configured timeout
}

// azureSupportedRates lists the PCM sample rates the gateway accepts.
var azureSupportedRates = map[int]bool{8000: true, 16000: true, 44100: true, 48000: true}

// NewAzureProvider creates an AzureProvider for the given gateway endpoint.
// The HTTP client timeout is per request; streaming longevity is handled by
// the per-chunk push model, not a held connection.
func NewAzureProvider(endpoint, apiKey string) *AzureProvider {
	return &AzureProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name implements Provider.
func (p *AzureProvider) Name() string { return "azure" }

type azureStartRequest struct {
	Language          string `json:"language,omitempty"`
	SampleRate        int    `json:"sample_rate"`
	EnableDiarization bool   `json:"enable_diarization"`
	EnablePartials    bool   `json:"enable_partials"`
}

type azureStartResponse struct {
	StreamID string `json:"stream_id"`
}

// StartStream implements Provider. Connection and auth failures map to
// CodeProviderUnavailable; a 400 response means the gateway rejected the
// config and maps to CodeUnsupportedConfig.
func (p *AzureProvider) StartStream(ctx context.Context, cfg StreamConfig) (Stream, error) {
	if !azureSupportedRates[cfg.SampleRate] {
		return nil, NewProviderError(CodeUnsupportedConfig, p.Name(),
			fmt.Sprintf("unsupported sample rate %d Hz", cfg.SampleRate), nil)
	}

	payload, err := json.Marshal(azureStartRequest{
		Language:          cfg.Language,
		SampleRate:        cfg.SampleRate,
		EnableDiarization: cfg.EnableDiarization,
		EnablePartials:    cfg.EnablePartials,
	})
	if err != nil {
		return nil, NewProviderError(CodeProviderUnavailable, p.Name(), "failed to encode start request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/speech/streams", bytes.NewReader(payload))
	if err != nil {
		return nil, NewProviderError(CodeProviderUnavailable, p.Name(), "failed to build start request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, NewProviderError(CodeProviderUnavailable, p.Name(), "stream open failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return nil, NewProviderError(CodeUnsupportedConfig, p.Name(),
			fmt.Sprintf("gateway rejected stream config: HTTP %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return nil, NewProviderError(CodeProviderUnavailable, p.Name(),
			fmt.Sprintf("stream open returned HTTP %d", resp.StatusCode), nil)
	}

	var started azureStartResponse
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		return nil, NewProviderError(CodeProviderUnavailable, p.Name(), "failed to decode start response", err)
	}

	return &azureStream{provider: p, streamID: started.StreamID}, nil
}

// HealthCheck probes the gateway's health endpoint.
func (p *AzureProvider) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/health", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// azureStream is one open stream on the Azure-style gateway.
type azureStream struct {
	provider *AzureProvider
	streamID string
}

type azurePushResponse struct {
	Results []Result `json:"results"`
}

// Push implements Stream. Connection drops and 409 (stream expired on the
// gateway side) map to CodeStreamInterrupted so the Manager can reopen.
func (s *azureStream) Push(ctx context.Context, chunk []byte) ([]Result, error) {
	url := fmt.Sprintf("%s/speech/streams/%s/audio", s.provider.endpoint, s.streamID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(chunk))
	if err != nil {
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(), "failed to build push request", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Ocp-Apim-Subscription-Key", s.provider.apiKey)

	resp, err := s.provider.httpClient.Do(req)
	if err != nil {
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(), "audio push failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusGone {
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(),
			fmt.Sprintf("stream dropped by gateway: HTTP %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(),
			fmt.Sprintf("audio push returned HTTP %d", resp.StatusCode), nil)
	}

	var pushed azurePushResponse
	if err := json.NewDecoder(resp.Body).Decode(&pushed); err != nil {
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(), "failed to decode push response", err)
	}
	return pushed.Results, nil
}

// Stop implements Stream. The gateway returns any buffered results as finals.
func (s *azureStream) Stop(ctx context.Context) ([]Result, error) {
	url := fmt.Sprintf("%s/speech/streams/%s/stop", s.provider.endpoint, s.streamID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(), "failed to build stop request", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", s.provider.apiKey)

	resp, err := s.provider.httpClient.Do(req)
	if err != nil {
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(), "stream stop failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(),
			fmt.Sprintf("stream stop returned HTTP %d", resp.StatusCode), nil)
	}

	var stopped azurePushResponse
	if err := json.NewDecoder(resp.Body).Decode(&stopped); err != nil {
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(), "failed to decode stop response", err)
	}
	return stopped.Results, nil
}
