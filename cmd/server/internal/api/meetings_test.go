package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/agent"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/platform"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/postmeeting"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/speech"
)

type staticProvider struct{ name string }

func (p *staticProvider) Name() string { return p.name }

func (p *staticProvider) StartStream(ctx context.Context, cfg speech.StreamConfig) (speech.Stream, error) {
	return &staticStream{}, nil
}

func (p *staticProvider) HealthCheck(ctx context.Context) (bool, error) { return true, nil }

type staticStream struct{}

func (s *staticStream) Push(ctx context.Context, chunk []byte) ([]speech.Result, error) {
	return []speech.Result{{
		SpeakerTag: "spk-0",
		Text:       string(chunk),
		Confidence: 0.95,
		Final:      true,
		Timestamp:  time.Now(),
	}}, nil
}

func (s *staticStream) Stop(ctx context.Context) ([]speech.Result, error) { return nil, nil }

func newTestRouter(t *testing.T) (*gin.Engine, *orchestrator.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	pm := platform.NewManager()
	engine := orchestrator.New(orchestrator.Config{
		SchedulerTick: 10 * time.Millisecond,
		JoinGrace:     2 * time.Second,
	}, log, orchestrator.NopAuditor{}, pm, speech.NewManager(log),
		postmeeting.NewProcessor(log), agent.NewRegistry(),
		[]speech.Provider{&staticProvider{name: "static"}})

	ctx, cancel := context.WithCancel(context.Background())
	go engine.Run(ctx)
	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		engine.Close(closeCtx)
		closeCancel()
		cancel()
	})

	providers := []speech.Provider{&staticProvider{name: "static"}}
	watcher := speech.NewHealthWatcher(providers, time.Minute, 3)
	return NewRouter(engine, watcher, log), engine
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func scheduleViaAPI(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := doJSON(r, http.MethodPost, "/api/v1/meetings", map[string]any{
		"title":            "standup",
		"participants":     []string{"alice", "bob"},
		"duration_minutes": 5,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create meeting status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		MeetingID string `json:"meeting_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if resp.MeetingID == "" {
		t.Fatal("create response has no meeting_id")
	}
	return resp.MeetingID
}

func waitForActive(t *testing.T, engine *orchestrator.Orchestrator, id string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st, err := engine.GetMeetingStatus(id)
		if err != nil {
			t.Fatalf("GetMeetingStatus: %v", err)
		}
		if st.State == orchestrator.StateActive {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("meeting %s never became active", id)
}

func TestCreateMeetingValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/meetings", strings.NewReader("{not json"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("no participants", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/v1/meetings", map[string]any{
			"title":            "empty",
			"duration_minutes": 5,
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400, body = %s", w.Code, w.Body.String())
		}
	})

	t.Run("bad strategy", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/v1/meetings", map[string]any{
			"title":            "bad",
			"participants":     []string{"alice"},
			"duration_minutes": 5,
			"strategy":         "loudest_first",
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("bad scheduled start", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/v1/meetings", map[string]any{
			"title":            "bad",
			"participants":     []string{"alice"},
			"duration_minutes": 5,
			"scheduled_start":  "next tuesday",
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}

func TestMeetingLifecycleViaAPI(t *testing.T) {
	r, engine := newTestRouter(t)

	id := scheduleViaAPI(t, r)
	waitForActive(t, engine, id)

	w := doJSON(r, http.MethodGet, "/api/v1/meetings/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get meeting status = %d", w.Code)
	}
	var status orchestrator.MeetingStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State != orchestrator.StateActive {
		t.Errorf("state = %s, want active", status.State)
	}

	w = doJSON(r, http.MethodGet, "/api/v1/meetings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list meetings status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), id) {
		t.Errorf("meeting list does not contain %s", id)
	}

	w = doJSON(r, http.MethodPost, "/api/v1/meetings/"+id+"/end", map[string]any{"reason": "wrap up"})
	if w.Code != http.StatusOK {
		t.Fatalf("end meeting status = %d", w.Code)
	}

	// Ending twice stays 200.
	w = doJSON(r, http.MethodPost, "/api/v1/meetings/"+id+"/end", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("second end status = %d", w.Code)
	}
}

func TestUnknownMeetingRoutes(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, path := range []string{
		"/api/v1/meetings/mtg-ghost",
		"/api/v1/meetings/mtg-ghost/transcript",
		"/api/v1/meetings/mtg-ghost/summary",
	} {
		w := doJSON(r, http.MethodGet, path, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, w.Code)
		}
	}

	w := doJSON(r, http.MethodPost, "/api/v1/meetings/mtg-ghost/end", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("end unknown meeting status = %d, want 404", w.Code)
	}
}

func TestAudioAndTranscriptViaAPI(t *testing.T) {
	r, engine := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/meetings", map[string]any{
		"title":            "standup",
		"participants":     []string{"alice", "bob"},
		"duration_minutes": 5,
		"transcription": map[string]any{
			"enabled":     true,
			"sample_rate": 16000,
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create meeting status = %d, body = %s", w.Code, w.Body.String())
	}
	var created struct {
		MeetingID string `json:"meeting_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	waitForActive(t, engine, created.MeetingID)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/meetings/"+created.MeetingID+"/audio",
		bytes.NewReader([]byte("rollout is on track")))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("post audio status = %d, body = %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w = doJSON(r, http.MethodGet, "/api/v1/meetings/"+created.MeetingID+"/transcript", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("get transcript status = %d", w.Code)
		}
		if strings.Contains(w.Body.String(), "rollout is on track") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("transcript never contained the pushed audio text")
}

func TestEmptyAudioRejected(t *testing.T) {
	r, engine := newTestRouter(t)
	id := scheduleViaAPI(t, r)
	waitForActive(t, engine, id)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/meetings/"+id+"/audio", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty audio status = %d, want 400", rec.Code)
	}
}

func TestSummaryNotReadyReturns202(t *testing.T) {
	r, engine := newTestRouter(t)
	id := scheduleViaAPI(t, r)
	waitForActive(t, engine, id)

	w := doJSON(r, http.MethodGet, "/api/v1/meetings/"+id+"/summary", nil)
	if w.Code != http.StatusAccepted {
		t.Errorf("summary while active status = %d, want 202", w.Code)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "static") {
		t.Errorf("healthz body missing provider snapshot: %s", w.Body.String())
	}

	w = doJSON(r, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "agentmeet_active_meetings") {
		t.Errorf("metrics body missing engine metrics")
	}
}
