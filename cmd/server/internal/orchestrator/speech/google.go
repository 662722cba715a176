package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// GoogleProvider implements Provider against a Google-style recognize
// gateway. Unlike the Azure-style gateway it has no server-side stream
// object: each audio chunk is posted to a recognize endpoint together with
// the session identifier, and the gateway correlates chunks internally.
//
// Capabilities: speaker diarization and partial results.
type GoogleProvider struct {
	endpoint   string
	model      string // recognition model, e.g. "latest_long"
	httpClient *http.Client
}

// NewGoogleProvider creates a GoogleProvider for the given gateway endpoint.
func NewGoogleProvider(endpoint, model string) *GoogleProvider {
	if model == "" {
		model = "latest_long"
	}
	return &GoogleProvider{
		endpoint: endpoint,
		model:    model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name implements Provider.
func (p *GoogleProvider) Name() string { return "google" }

type googleRecognizeRequest struct {
	SessionID         string `json:"session_id"`
	Model             string `json:"model"`
	LanguageCode      string `json:"language_code,omitempty"`
	SampleRateHertz   int    `json:"sample_rate_hertz"`
	EnableDiarization bool   `json:"enable_speaker_diarization"`
	InterimResults    bool   `json:"interim_results"`
	AudioContent      []byte `json:"audio_content,omitempty"` // base64 via encoding/json
	Finalize          bool   `json:"finalize,omitempty"`
}

type googleRecognizeResponse struct {
	Results []Result `json:"results"`
}

// StartStream implements Provider. The gateway is probed with an empty
// recognize call so config rejection surfaces before any audio is pushed.
func (p *GoogleProvider) StartStream(ctx context.Context, cfg StreamConfig) (Stream, error) {
	if cfg.SampleRate != 0 && (cfg.SampleRate < 8000 || cfg.SampleRate > 48000) {
		return nil, NewProviderError(CodeUnsupportedConfig, p.Name(),
			fmt.Sprintf("sample rate %d Hz out of supported range", cfg.SampleRate), nil)
	}

	st := &googleStream{provider: p, cfg: cfg}
	if _, err := st.recognize(ctx, nil, false); err != nil {
		return nil, err
	}
	return st, nil
}

// HealthCheck probes the gateway root.
func (p *GoogleProvider) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/v1/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

type googleStream struct {
	provider *GoogleProvider
	cfg      StreamConfig
}

func (s *googleStream) recognize(ctx context.Context, chunk []byte, finalize bool) ([]Result, error) {
	// Start-path errors are permanent (unavailable/unsupported); push-path
	// errors are transient. opening distinguishes the two.
	opening := chunk == nil && !finalize

	payload, err := json.Marshal(googleRecognizeRequest{
		SessionID:         s.cfg.MeetingID,
		Model:             s.provider.model,
		LanguageCode:      s.cfg.Language,
		SampleRateHertz:   s.cfg.SampleRate,
		EnableDiarization: s.cfg.EnableDiarization,
		InterimResults:    s.cfg.EnablePartials,
		AudioContent:      chunk,
		Finalize:          finalize,
	})
	if err != nil {
		return nil, NewProviderError(CodeProviderUnavailable, s.provider.Name(), "failed to encode recognize request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.provider.endpoint+"/v1/speech:recognize", bytes.NewReader(payload))
	if err != nil {
		return nil, NewProviderError(CodeProviderUnavailable, s.provider.Name(), "failed to build recognize request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.provider.httpClient.Do(req)
	if err != nil {
		if opening {
			return nil, NewProviderError(CodeProviderUnavailable, s.provider.Name(), "recognize call failed", err)
		}
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(), "recognize call failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return nil, NewProviderError(CodeUnsupportedConfig, s.provider.Name(),
			fmt.Sprintf("gateway rejected recognition config: HTTP %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		if opening {
			return nil, NewProviderError(CodeProviderUnavailable, s.provider.Name(),
				fmt.Sprintf("recognize returned HTTP %d", resp.StatusCode), nil)
		}
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(),
			fmt.Sprintf("recognize returned HTTP %d", resp.StatusCode), nil)
	}

	var recognized googleRecognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&recognized); err != nil {
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(), "failed to decode recognize response", err)
	}
	return recognized.Results, nil
}

// Push implements Stream.
func (s *googleStream) Push(ctx context.Context, chunk []byte) ([]Result, error) {
	return s.recognize(ctx, chunk, false)
}

// Stop implements Stream.
func (s *googleStream) Stop(ctx context.Context) ([]Result, error) {
	return s.recognize(ctx, nil, true)
}
