package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// WhisperProvider implements Provider against a local whisper HTTP service
// (the mutablelogic/go-whisper container). Whisper is batch-oriented: pushed
// chunks are buffered in memory and transcribed in one request at Stop.
//
// Capabilities: no diarization (all speech gets one tag), no partials. It
// only accepts 16 kHz mono PCM, so other sample rates are rejected as
// unsupported at stream open.
type WhisperProvider struct {
	apiURL     string
	model      string // whisper model name, e.g. "ggml-base"
	httpClient *http.Client
}

// NewWhisperProvider creates a WhisperProvider for the given service URL.
// The client timeout is generous because transcription time is roughly
// proportional to buffered audio duration.
func NewWhisperProvider(apiURL, model string) *WhisperProvider {
	if model == "" {
		model = "ggml-base"
	}
	return &WhisperProvider{
		apiURL: apiURL,
		model:  model,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

// Name implements Provider.
func (p *WhisperProvider) Name() string { return "whisper" }

// StartStream implements Provider. The service is probed so unavailability
// surfaces at open, matching the streaming providers.
func (p *WhisperProvider) StartStream(ctx context.Context, cfg StreamConfig) (Stream, error) {
	if cfg.SampleRate != 0 && cfg.SampleRate != 16000 {
		return nil, NewProviderError(CodeUnsupportedConfig, p.Name(),
			fmt.Sprintf("whisper requires 16000 Hz audio, got %d Hz", cfg.SampleRate), nil)
	}

	ok, err := p.HealthCheck(ctx)
	if err != nil || !ok {
		return nil, NewProviderError(CodeProviderUnavailable, p.Name(), "whisper service unreachable", err)
	}

	return &whisperStream{provider: p, cfg: cfg, opened: time.Now()}, nil
}

// HealthCheck probes the whisper models endpoint.
func (p *WhisperProvider) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+"/api/whisper/models", nil)
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

type whisperStream struct {
	provider *WhisperProvider
	cfg      StreamConfig
	buf      bytes.Buffer
	opened   time.Time
}

// Push buffers the chunk; whisper has no incremental results.
func (s *whisperStream) Push(ctx context.Context, chunk []byte) ([]Result, error) {
	s.buf.Write(chunk)
	return nil, nil
}

type whisperSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type whisperResponse struct {
	Text     string           `json:"text"`
	Segments []whisperSegment `json:"segments"`
	Language string           `json:"language"`
}

// Stop transcribes the buffered audio in one multipart request and maps each
// returned segment to a final result under the single "whisper-0" tag.
func (s *whisperStream) Stop(ctx context.Context) ([]Result, error) {
	if s.buf.Len() == 0 {
		return nil, nil
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", s.cfg.MeetingID+".wav")
	if err != nil {
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(), "failed to create form file", err)
	}
	if _, err := io.Copy(part, &s.buf); err != nil {
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(), "failed to copy audio buffer", err)
	}
	if err := writer.WriteField("model", s.provider.model); err != nil {
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(), "failed to write model field", err)
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(), "failed to write response_format field", err)
	}
	if s.cfg.Language != "" {
		if err := writer.WriteField("language", s.cfg.Language); err != nil {
			return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(), "failed to write language field", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(), "failed to close multipart writer", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.provider.apiURL+"/api/whisper/transcribe", body)
	if err != nil {
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(), "failed to build transcribe request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.provider.httpClient.Do(req)
	if err != nil {
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(), "transcribe request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(),
			fmt.Sprintf("transcribe returned HTTP %d", resp.StatusCode), nil)
	}

	var decoded whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, NewProviderError(CodeStreamInterrupted, s.provider.Name(), "failed to decode transcribe response", err)
	}

	results := make([]Result, 0, len(decoded.Segments))
	for _, seg := range decoded.Segments {
		results = append(results, Result{
			SpeakerTag: "whisper-0",
			Text:       seg.Text,
			Confidence: 1.0, // whisper reports no per-segment confidence
			Final:      true,
			Timestamp:  s.opened.Add(time.Duration(seg.Start * float64(time.Second))),
		})
	}
	if len(results) == 0 && decoded.Text != "" {
		results = append(results, Result{
			SpeakerTag: "whisper-0",
			Text:       decoded.Text,
			Confidence: 1.0,
			Final:      true,
			Timestamp:  s.opened,
		})
	}
	return results, nil
}
