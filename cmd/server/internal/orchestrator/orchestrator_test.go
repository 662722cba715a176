package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/agent"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/conversation"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/platform"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/postmeeting"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/speech"
)

// echoProvider turns every pushed chunk into one final transcript result.
type echoProvider struct {
	name     string
	startErr error
}

func (p *echoProvider) Name() string { return p.name }

func (p *echoProvider) StartStream(ctx context.Context, cfg speech.StreamConfig) (speech.Stream, error) {
	if p.startErr != nil {
		return nil, p.startErr
	}
	return &echoStream{}, nil
}

func (p *echoProvider) HealthCheck(ctx context.Context) (bool, error) { return true, nil }

type echoStream struct{}

func (s *echoStream) Push(ctx context.Context, chunk []byte) ([]speech.Result, error) {
	return []speech.Result{{
		SpeakerTag: "tag-0",
		Text:       string(chunk),
		Confidence: 0.9,
		Final:      true,
		Timestamp:  time.Now(),
	}}, nil
}

func (s *echoStream) Stop(ctx context.Context) ([]speech.Result, error) { return nil, nil }

// recordingAuditor captures transitions for lifecycle assertions.
type recordingAuditor struct {
	mu          sync.Mutex
	transitions map[string][]State
}

func newRecordingAuditor() *recordingAuditor {
	return &recordingAuditor{transitions: make(map[string][]State)}
}

func (r *recordingAuditor) RecordTransition(meetingID string, from, to State, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.transitions[meetingID]) == 0 {
		r.transitions[meetingID] = append(r.transitions[meetingID], from)
	}
	r.transitions[meetingID] = append(r.transitions[meetingID], to)
}

func (r *recordingAuditor) sequence(meetingID string) []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.transitions[meetingID]...)
}

type testEngine struct {
	orch   *Orchestrator
	sim    *platform.SimulatedAdapter
	audit  *recordingAuditor
	agents *agent.Registry
}

func newTestEngine(t *testing.T, cfg Config, providers ...speech.Provider) *testEngine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sim := platform.NewSimulatedAdapter()
	pm := platform.NewManager()
	pm.Register(sim)

	if len(providers) == 0 {
		providers = []speech.Provider{&echoProvider{name: "echo"}}
	}
	if cfg.SchedulerTick == 0 {
		cfg.SchedulerTick = 10 * time.Millisecond
	}
	if cfg.JoinGrace == 0 {
		cfg.JoinGrace = 2 * time.Second
	}

	audit := newRecordingAuditor()
	agents := agent.NewRegistry()
	orch := New(cfg, logger, audit, pm, speech.NewManager(logger),
		postmeeting.NewProcessor(logger), agents, providers)

	ctx, cancel := context.WithCancel(context.Background())
	go orch.Run(ctx)
	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		orch.Close(closeCtx)
		closeCancel()
		cancel()
	})

	return &testEngine{orch: orch, sim: sim, audit: audit, agents: agents}
}

func baseConfig() MeetingConfig {
	return MeetingConfig{
		Title:          "standup",
		Participants:   []string{"alice", "bob"},
		Duration:       5 * time.Minute,
		ScheduledStart: time.Now(),
	}
}

func waitForState(t *testing.T, o *Orchestrator, id string, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st, err := o.GetMeetingStatus(id)
		if err != nil {
			t.Fatalf("GetMeetingStatus(%s): %v", id, err)
		}
		if st.State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	st, _ := o.GetMeetingStatus(id)
	t.Fatalf("meeting %s never reached %s, stuck at %s (err=%q)", id, want, st.State, st.Error)
}

func TestScheduleMeetingValidation(t *testing.T) {
	e := newTestEngine(t, Config{})

	t.Run("empty participants", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Participants = nil
		if _, err := e.orch.ScheduleMeeting(cfg); !IsCode(err, INVALID_MEETING_CONFIG) {
			t.Errorf("error = %v, want INVALID_MEETING_CONFIG", err)
		}
	})

	t.Run("duration out of range", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Duration = 10 * time.Hour
		if _, err := e.orch.ScheduleMeeting(cfg); !IsCode(err, INVALID_MEETING_CONFIG) {
			t.Errorf("error = %v, want INVALID_MEETING_CONFIG", err)
		}
		cfg.Duration = 10 * time.Second
		if _, err := e.orch.ScheduleMeeting(cfg); !IsCode(err, INVALID_MEETING_CONFIG) {
			t.Errorf("error = %v, want INVALID_MEETING_CONFIG", err)
		}
	})

	t.Run("start too far in the past", func(t *testing.T) {
		cfg := baseConfig()
		cfg.ScheduledStart = time.Now().Add(-time.Hour)
		if _, err := e.orch.ScheduleMeeting(cfg); !IsCode(err, INVALID_MEETING_CONFIG) {
			t.Errorf("error = %v, want INVALID_MEETING_CONFIG", err)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Transcription = TranscriptionConfig{Enabled: true, Provider: "nonexistent"}
		if _, err := e.orch.ScheduleMeeting(cfg); !IsCode(err, INVALID_MEETING_CONFIG) {
			t.Errorf("error = %v, want INVALID_MEETING_CONFIG", err)
		}
	})

	t.Run("valid config starts scheduled", func(t *testing.T) {
		cfg := baseConfig()
		cfg.ScheduledStart = time.Now().Add(time.Hour)
		id, err := e.orch.ScheduleMeeting(cfg)
		if err != nil {
			t.Fatalf("ScheduleMeeting() error = %v", err)
		}
		st, err := e.orch.GetMeetingStatus(id)
		if err != nil || st.State != StateScheduled {
			t.Errorf("status = %+v/%v, want scheduled", st, err)
		}
	})
}

func TestMeetingLifecycle(t *testing.T) {
	e := newTestEngine(t, Config{})

	id, err := e.orch.ScheduleMeeting(baseConfig())
	if err != nil {
		t.Fatalf("ScheduleMeeting() error = %v", err)
	}

	waitForState(t, e.orch, id, StateActive)
	if err := e.orch.EndMeeting(id, "test done"); err != nil {
		t.Fatalf("EndMeeting() error = %v", err)
	}
	waitForState(t, e.orch, id, StateCompleted)

	want := []State{StateScheduled, StateJoining, StateActive, StateEnding, StateCompleted}
	got := e.audit.sequence(id)
	if len(got) != len(want) {
		t.Fatalf("transition sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition sequence = %v, want %v", got, want)
		}
	}

	st, _ := e.orch.GetMeetingStatus(id)
	if st.EndReason != "test done" {
		t.Errorf("end reason = %q, want %q", st.EndReason, "test done")
	}
}

func TestEndMeetingIdempotent(t *testing.T) {
	e := newTestEngine(t, Config{})

	id, err := e.orch.ScheduleMeeting(baseConfig())
	if err != nil {
		t.Fatalf("ScheduleMeeting() error = %v", err)
	}
	waitForState(t, e.orch, id, StateActive)

	if err := e.orch.EndMeeting(id, "first"); err != nil {
		t.Fatalf("first EndMeeting() error = %v", err)
	}
	waitForState(t, e.orch, id, StateCompleted)
	if err := e.orch.EndMeeting(id, "second"); err != nil {
		t.Fatalf("second EndMeeting() error = %v", err)
	}

	st, _ := e.orch.GetMeetingStatus(id)
	if st.State != StateCompleted || st.EndReason != "first" {
		t.Errorf("status after double end = %+v, want completed via first reason", st)
	}

	// Exactly one Ending entry in the lifecycle, so one finalize and one
	// summary handoff.
	endings := 0
	for _, s := range e.audit.sequence(id) {
		if s == StateEnding {
			endings++
		}
	}
	if endings != 1 {
		t.Errorf("Ending appeared %d times in lifecycle, want 1", endings)
	}
}

func TestEndMeetingUnknown(t *testing.T) {
	e := newTestEngine(t, Config{})
	if err := e.orch.EndMeeting("ghost", "x"); !IsCode(err, MEETING_NOT_FOUND) {
		t.Errorf("error = %v, want MEETING_NOT_FOUND", err)
	}
}

func TestCancelScheduledMeeting(t *testing.T) {
	e := newTestEngine(t, Config{})

	cfg := baseConfig()
	cfg.ScheduledStart = time.Now().Add(time.Hour)
	id, err := e.orch.ScheduleMeeting(cfg)
	if err != nil {
		t.Fatalf("ScheduleMeeting() error = %v", err)
	}

	if err := e.orch.EndMeeting(id, "cancelled by organizer"); err != nil {
		t.Fatalf("EndMeeting() error = %v", err)
	}
	waitForState(t, e.orch, id, StateCompleted)

	got := e.audit.sequence(id)
	want := []State{StateScheduled, StateEnding, StateCompleted}
	if len(got) != len(want) {
		t.Fatalf("transition sequence = %v, want %v (no join for cancelled meeting)", got, want)
	}
}

func TestConcurrencyCap(t *testing.T) {
	e := newTestEngine(t, Config{MaxConcurrentMeetings: 1})

	first, err := e.orch.ScheduleMeeting(baseConfig())
	if err != nil {
		t.Fatalf("schedule first: %v", err)
	}
	second, err := e.orch.ScheduleMeeting(baseConfig())
	if err != nil {
		t.Fatalf("schedule second: %v", err)
	}

	waitForState(t, e.orch, first, StateActive)

	// The second session stays Scheduled while the slot is held.
	time.Sleep(100 * time.Millisecond)
	st, _ := e.orch.GetMeetingStatus(second)
	if st.State != StateScheduled {
		t.Fatalf("second meeting state = %s, want scheduled while cap is full", st.State)
	}

	if err := e.orch.EndMeeting(first, "free the slot"); err != nil {
		t.Fatalf("EndMeeting(first): %v", err)
	}
	waitForState(t, e.orch, first, StateCompleted)
	waitForState(t, e.orch, second, StateActive)
}

func TestJoinFailure(t *testing.T) {
	e := newTestEngine(t, Config{})
	e.sim.FailNextJoin(errors.New("gateway rejected the bot"))

	id, err := e.orch.ScheduleMeeting(baseConfig())
	if err != nil {
		t.Fatalf("ScheduleMeeting() error = %v", err)
	}
	waitForState(t, e.orch, id, StateFailed)

	st, _ := e.orch.GetMeetingStatus(id)
	if st.Error == "" {
		t.Error("failed meeting has no error cause")
	}
}

func TestJoinTimeout(t *testing.T) {
	e := newTestEngine(t, Config{JoinGrace: 50 * time.Millisecond})
	e.sim.SetJoinLatency(time.Minute)

	id, err := e.orch.ScheduleMeeting(baseConfig())
	if err != nil {
		t.Fatalf("ScheduleMeeting() error = %v", err)
	}
	waitForState(t, e.orch, id, StateFailed)

	st, _ := e.orch.GetMeetingStatus(id)
	if st.Error == "" || !IsCode(mustStatusErr(e.orch, id), JOIN_TIMEOUT) {
		t.Errorf("failure = %q, want JOIN_TIMEOUT", st.Error)
	}
}

// mustStatusErr digs the session failure back out for code assertions.
func mustStatusErr(o *Orchestrator, id string) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e := o.sessions[id]
	if e == nil {
		return nil
	}
	e.session.mu.RLock()
	defer e.session.mu.RUnlock()
	return e.session.failure
}

func TestMandatoryTranscriptionFailureFailsSession(t *testing.T) {
	down := &echoProvider{
		name:     "down",
		startErr: speech.NewProviderError(speech.CodeProviderUnavailable, "down", "dead", nil),
	}
	e := newTestEngine(t, Config{}, down)

	cfg := baseConfig()
	cfg.Transcription = TranscriptionConfig{Enabled: true, Mandatory: true, SampleRate: 16000}
	id, err := e.orch.ScheduleMeeting(cfg)
	if err != nil {
		t.Fatalf("ScheduleMeeting() error = %v", err)
	}
	waitForState(t, e.orch, id, StateFailed)
}

func TestOptionalTranscriptionFailureDegrades(t *testing.T) {
	down := &echoProvider{
		name:     "down",
		startErr: speech.NewProviderError(speech.CodeProviderUnavailable, "down", "dead", nil),
	}
	e := newTestEngine(t, Config{}, down)

	cfg := baseConfig()
	cfg.Transcription = TranscriptionConfig{Enabled: true, Mandatory: false, SampleRate: 16000}
	id, err := e.orch.ScheduleMeeting(cfg)
	if err != nil {
		t.Fatalf("ScheduleMeeting() error = %v", err)
	}

	// The meeting runs without transcription.
	waitForState(t, e.orch, id, StateActive)
	st, _ := e.orch.GetMeetingStatus(id)
	if st.Provider != "" {
		t.Errorf("provider = %q, want none after degradation", st.Provider)
	}
}

func TestAudioFlowsToTranscript(t *testing.T) {
	e := newTestEngine(t, Config{})

	cfg := baseConfig()
	cfg.Transcription = TranscriptionConfig{Enabled: true, SampleRate: 16000}
	id, err := e.orch.ScheduleMeeting(cfg)
	if err != nil {
		t.Fatalf("ScheduleMeeting() error = %v", err)
	}
	waitForState(t, e.orch, id, StateActive)

	if err := e.orch.RouteAudio(id, []byte("we finished the rollout")); err != nil {
		t.Fatalf("RouteAudio() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := e.orch.GetTranscript(id)
		if err != nil {
			t.Fatalf("GetTranscript() error = %v", err)
		}
		if len(entries) > 0 {
			if entries[0].Text != "we finished the rollout" {
				t.Errorf("transcript text = %q", entries[0].Text)
			}
			if entries[0].Speaker != "alice" {
				t.Errorf("transcript speaker = %q, want alice", entries[0].Speaker)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no transcript entry arrived")
}

// meetingHistory digs the conversation history back out, mirroring
// mustStatusErr.
func meetingHistory(o *Orchestrator, id string) []conversation.Turn {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e := o.sessions[id]
	if e == nil {
		return nil
	}
	return e.session.conv.History()
}

func TestAgentRespondsToTranscribedTurn(t *testing.T) {
	e := newTestEngine(t, Config{})
	e.agents.Register(agent.NewRuleAgent("bob", agent.WorkContext{
		CurrentFocus: "migrating the billing service",
		ActiveTasks:  4,
		HighPriority: 2,
	}))

	cfg := baseConfig()
	cfg.Transcription = TranscriptionConfig{Enabled: true, SampleRate: 16000}
	id, err := e.orch.ScheduleMeeting(cfg)
	if err != nil {
		t.Fatalf("ScheduleMeeting() error = %v", err)
	}
	waitForState(t, e.orch, id, StateActive)

	// The chunk is attributed to alice (first unseen diarization tag); bob is
	// next under round-robin and his agent answers the status request.
	if err := e.orch.RouteAudio(id, []byte("can we get a status update")); err != nil {
		t.Fatalf("RouteAudio() error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, turn := range meetingHistory(e.orch, id) {
			if turn.Speaker != "bob" {
				continue
			}
			if turn.Kind != conversation.KindStatusUpdate {
				t.Errorf("agent turn kind = %q, want %q", turn.Kind, conversation.KindStatusUpdate)
			}
			if !strings.Contains(turn.Content, "4 tasks") {
				t.Errorf("agent turn content = %q, want work context in the answer", turn.Content)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("agent turn never appeared in the conversation")
}

func TestEndMeetingWhileJoining(t *testing.T) {
	e := newTestEngine(t, Config{JoinGrace: time.Minute})
	e.sim.SetJoinLatency(30 * time.Second)

	id, err := e.orch.ScheduleMeeting(baseConfig())
	if err != nil {
		t.Fatalf("ScheduleMeeting() error = %v", err)
	}
	waitForState(t, e.orch, id, StateJoining)

	// The end request must cut the join handshake short, well inside
	// waitForState's deadline rather than after the grace period.
	if err := e.orch.EndMeeting(id, "organizer cancelled"); err != nil {
		t.Fatalf("EndMeeting() error = %v", err)
	}
	waitForState(t, e.orch, id, StateCompleted)

	want := []State{StateScheduled, StateJoining, StateEnding, StateCompleted}
	got := e.audit.sequence(id)
	if len(got) != len(want) {
		t.Fatalf("transition sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition sequence = %v, want %v", got, want)
		}
	}

	st, _ := e.orch.GetMeetingStatus(id)
	if st.EndReason != "organizer cancelled" || st.Error != "" {
		t.Errorf("status = %+v, want clean completion via organizer cancelled", st)
	}
}

func TestAllParticipantsLeaving(t *testing.T) {
	e := newTestEngine(t, Config{})

	id, err := e.orch.ScheduleMeeting(baseConfig())
	if err != nil {
		t.Fatalf("ScheduleMeeting() error = %v", err)
	}
	waitForState(t, e.orch, id, StateActive)

	e.sim.EmitLeave(id, "alice")
	e.sim.EmitLeave(id, "bob")
	waitForState(t, e.orch, id, StateCompleted)

	st, _ := e.orch.GetMeetingStatus(id)
	if st.EndReason != "all participants left" {
		t.Errorf("end reason = %q, want all participants left", st.EndReason)
	}
}

func TestMeetingEventCallbacks(t *testing.T) {
	e := newTestEngine(t, Config{})

	var mu sync.Mutex
	events := make(map[string][]string)
	e.orch.SetEventCallback(func(meetingID, event string) {
		mu.Lock()
		events[meetingID] = append(events[meetingID], event)
		mu.Unlock()
	})

	id, err := e.orch.ScheduleMeeting(baseConfig())
	if err != nil {
		t.Fatalf("ScheduleMeeting() error = %v", err)
	}
	waitForState(t, e.orch, id, StateActive)
	e.orch.EndMeeting(id, "done")
	waitForState(t, e.orch, id, StateCompleted)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := append([]string(nil), events[id]...)
		mu.Unlock()
		if len(got) == 2 {
			if got[0] != "meeting_started" || got[1] != "meeting_ended" {
				t.Fatalf("events = %v, want [meeting_started meeting_ended]", got)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("event callback never saw both lifecycle events")
}

func TestSummaryGeneratedAfterCompletion(t *testing.T) {
	e := newTestEngine(t, Config{})

	cfg := baseConfig()
	cfg.Transcription = TranscriptionConfig{Enabled: true, SampleRate: 16000}
	id, err := e.orch.ScheduleMeeting(cfg)
	if err != nil {
		t.Fatalf("ScheduleMeeting() error = %v", err)
	}
	waitForState(t, e.orch, id, StateActive)

	e.orch.RouteAudio(id, []byte("action item: alice will update the runbook by friday"))
	time.Sleep(50 * time.Millisecond)
	e.orch.EndMeeting(id, "done")
	waitForState(t, e.orch, id, StateCompleted)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sum, err := e.orch.GetSummary(id)
		if err != nil {
			t.Fatalf("GetSummary() error = %v", err)
		}
		if sum != nil {
			if sum.MeetingID != id {
				t.Errorf("summary meeting id = %q, want %q", sum.MeetingID, id)
			}
			if len(sum.ActionItems) != 1 {
				t.Errorf("action items = %d, want 1", len(sum.ActionItems))
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("summary never became available")
}
