package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/agent"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/conversation"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/platform"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/postmeeting"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/speech"
	"github.com/agentframe/agentmeet/pkg/metrics"
)

// TranscriptionConfig controls the speech pipeline for one meeting.
type TranscriptionConfig struct {
	Enabled    bool   `json:"enabled"`
	Mandatory  bool   `json:"mandatory"` // pipeline failure fails the session instead of degrading
	Language   string `json:"language"`
	SampleRate int    `json:"sample_rate"`
	Provider   string `json:"provider"` // preferred provider name, engine default when empty
}

// MeetingConfig is a scheduling request.
type MeetingConfig struct {
	Title          string                `json:"title"`
	MeetingURL     string                `json:"meeting_url"`
	Participants   []string              `json:"participants"`
	Facilitator    string                `json:"facilitator"`
	Strategy       conversation.Strategy `json:"strategy"`
	ScheduledStart time.Time             `json:"scheduled_start"`
	Duration       time.Duration         `json:"duration"`
	Transcription  TranscriptionConfig   `json:"transcription"`
}

// sessionDeps is everything a session borrows from the engine.
type sessionDeps struct {
	platform  *platform.Manager
	speech    *speech.Manager
	post      *postmeeting.Processor
	agents    *agent.Registry
	audit     TransitionAuditor
	logger    *slog.Logger
	joinGrace time.Duration
	preferred speech.Provider
	fallbacks []speech.Provider
	// onTerminal fires exactly once when the session reaches Completed or
	// Failed, after its concurrency slot can be released.
	onTerminal func(*Session)
	// onEvent fires on meeting_started and meeting_ended; nil disables it.
	onEvent func(meetingID, event string)
}

// Session is one scheduled meeting running as an independent worker. All
// cross-session coordination goes through the Orchestrator; sessions share
// no mutable state with each other.
type Session struct {
	id   string
	cfg  MeetingConfig
	deps sessionDeps

	mu             sync.RWMutex
	state          State
	stateChangedAt time.Time
	createdAt      time.Time
	activeSince    time.Time
	transcript     []speech.TranscriptEntry
	present        map[string]bool
	failure        error
	endReason      string
	summary        *postmeeting.Summary
	summaryErr     error

	conv    *conversation.Manager
	endOnce sync.Once
	endCh   chan string
	audioCh chan []byte
	done    chan struct{}
}

func newSession(id string, cfg MeetingConfig, deps sessionDeps) (*Session, error) {
	conv := conversation.New(cfg.Strategy)
	if err := conv.Initialize(cfg.Participants, cfg.Facilitator); err != nil {
		return nil, NewInvalidConfigError(err.Error())
	}

	present := make(map[string]bool, len(cfg.Participants))
	for _, p := range cfg.Participants {
		present[p] = true
	}

	return &Session{
		id:             id,
		cfg:            cfg,
		deps:           deps,
		state:          StateScheduled,
		stateChangedAt: time.Now(),
		createdAt:      time.Now(),
		present:        present,
		conv:           conv,
		endCh:          make(chan string, 1),
		audioCh:        make(chan []byte, 64),
		done:           make(chan struct{}),
	}, nil
}

// ID returns the meeting identifier.
func (s *Session) ID() string { return s.id }

// State returns the last-committed lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// transition commits a lifecycle step. Illegal transitions are refused and
// logged; the session keeps its committed state.
func (s *Session) transition(to State, reason string) bool {
	s.mu.Lock()
	from := s.state
	if !CanTransition(from, to) {
		s.mu.Unlock()
		s.deps.logger.Error("illegal state transition refused",
			"meeting_id", s.id, "from", from, "to", to, "reason", reason)
		return false
	}
	s.state = to
	s.stateChangedAt = time.Now()
	if to == StateActive {
		s.activeSince = s.stateChangedAt
	}
	s.mu.Unlock()

	metrics.RecordTransition(string(from), string(to))
	s.deps.audit.RecordTransition(s.id, from, to, reason)
	s.deps.logger.Info("meeting state changed",
		"meeting_id", s.id, "from", from, "to", to, "reason", reason)
	return true
}

// RequestEnd asks the session to wind down. The first reason wins; repeats
// are no-ops, which is what makes endMeeting idempotent.
func (s *Session) RequestEnd(reason string) {
	s.endOnce.Do(func() { s.endCh <- reason })
}

// SubmitAudio hands an audio chunk to the session worker. Chunks arriving
// after the session is terminal are discarded with a warning.
func (s *Session) SubmitAudio(chunk []byte) {
	if s.State().Terminal() {
		s.deps.logger.Warn("discarding audio for terminal meeting", "meeting_id", s.id)
		return
	}
	select {
	case s.audioCh <- chunk:
	default:
		s.deps.logger.Warn("audio buffer full, dropping chunk", "meeting_id", s.id)
	}
}

// run drives the session from Joining to a terminal state. The orchestrator
// calls it on its own goroutine once a concurrency slot is acquired.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	if !s.transition(StateJoining, "scheduled start reached") {
		return
	}

	// An end request must cut the join handshake short: the watcher cancels
	// the handshake context and the session winds down through Ending rather
	// than waiting out the grace period.
	joinCtx, cancelJoin := context.WithCancel(ctx)
	endDuringJoin := make(chan string, 1)
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case reason := <-s.endCh:
			endDuringJoin <- reason
			cancelJoin()
		case <-joinCtx.Done():
		}
	}()

	events, transcribing, err := s.join(joinCtx)
	cancelJoin()
	<-watcherDone

	select {
	case reason := <-endDuringJoin:
		s.finalize(reason, err == nil && transcribing)
		return
	default:
	}
	if err != nil {
		s.fail(err)
		return
	}

	s.transition(StateActive, "platform join acknowledged")
	s.notifyEvent("meeting_started")

	durationTimer := time.NewTimer(s.cfg.Duration)
	defer durationTimer.Stop()

	endReason := ""
loop:
	for {
		select {
		case <-ctx.Done():
			endReason = "engine shutdown"
			break loop
		case reason := <-s.endCh:
			endReason = reason
			break loop
		case <-durationTimer.C:
			endReason = "scheduled duration reached"
			break loop
		case chunk := <-s.audioCh:
			if stop, why := s.processAudio(ctx, chunk, transcribing); stop {
				endReason = why
				break loop
			}
		case ev, ok := <-events:
			if !ok {
				endReason = "platform event feed closed"
				break loop
			}
			if stop, why := s.handleEvent(ctx, ev, transcribing); stop {
				endReason = why
				break loop
			}
		}
	}

	s.finalize(endReason, transcribing)
}

// join runs the platform handshake and the transcription start concurrently
// under the join grace deadline. A mandatory transcription failure or a join
// failure aborts both; an optional transcription failure degrades to a
// meeting without transcription.
func (s *Session) join(ctx context.Context) (<-chan platform.Event, bool, error) {
	joinCtx, cancel := context.WithTimeout(ctx, s.deps.joinGrace)
	defer cancel()

	var events <-chan platform.Event
	transcribing := false

	g, gctx := errgroup.WithContext(joinCtx)
	g.Go(func() error {
		ev, err := s.deps.platform.Join(gctx, platform.JoinRequest{
			MeetingID:    s.id,
			MeetingURL:   s.cfg.MeetingURL,
			Title:        s.cfg.Title,
			Participants: s.cfg.Participants,
		})
		if err != nil {
			return NewJoinError(err)
		}
		events = ev
		return nil
	})
	if s.cfg.Transcription.Enabled {
		g.Go(func() error {
			_, err := s.deps.speech.StartMeetingTranscription(gctx, speech.StreamConfig{
				MeetingID:         s.id,
				Language:          s.cfg.Transcription.Language,
				SampleRate:        s.cfg.Transcription.SampleRate,
				EnableDiarization: true,
				EnablePartials:    true,
			}, s.cfg.Participants, s.deps.preferred, s.deps.fallbacks, s.onTranscript)
			if err != nil {
				if s.cfg.Transcription.Mandatory {
					return err
				}
				s.deps.logger.Warn("transcription unavailable, continuing without it",
					"meeting_id", s.id, "error", err)
				return nil
			}
			transcribing = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// The surviving half of the handshake must not leak.
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.deps.speech.StopMeetingTranscription(stopCtx, s.id)
		s.deps.platform.Leave(stopCtx, s.id)
		stopCancel()

		if errors.Is(err, context.DeadlineExceeded) || joinCtx.Err() != nil && ctx.Err() == nil {
			return nil, false, NewJoinTimeoutError(s.deps.joinGrace)
		}
		return nil, false, err
	}
	return events, transcribing, nil
}

// fail moves a joining session to Failed and records the cause.
func (s *Session) fail(err error) {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()
	metrics.RecordError("session", failureCode(err))
	s.transition(StateFailed, err.Error())
	if s.deps.onTerminal != nil {
		s.deps.onTerminal(s)
	}
	s.notifyEvent("meeting_ended")
}

func (s *Session) notifyEvent(event string) {
	if s.deps.onEvent != nil {
		s.deps.onEvent(s.id, event)
	}
}

func failureCode(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return string(ee.Code)
	}
	var pe *speech.ProviderError
	if errors.As(err, &pe) {
		return string(pe.Code)
	}
	return "UNKNOWN"
}

// onTranscript receives every transcription result for this meeting. Final
// entries by known participants become conversation turns, which in turn may
// prompt one agent response.
func (s *Session) onTranscript(meetingID string, entry speech.TranscriptEntry) {
	s.mu.Lock()
	s.transcript = append(s.transcript, entry)
	known := s.present[entry.Speaker]
	s.mu.Unlock()

	if !entry.Final || !known {
		return
	}
	if err := s.conv.AddTurn(conversation.Turn{
		Speaker:   entry.Speaker,
		Content:   entry.Text,
		Kind:      conversation.KindGeneral,
		Timestamp: entry.Timestamp,
	}); err != nil {
		s.deps.logger.Warn("transcript turn rejected", "meeting_id", s.id, "error", err)
		return
	}
	s.driveAgent()
}

// driveAgent lets at most one agent answer the latest turn. Bounding agent
// chatter to one response per stimulus keeps round-robin strategies from
// talking to themselves forever.
func (s *Session) driveAgent() {
	next, ok := s.conv.NextSpeaker()
	if !ok {
		return
	}
	ag, ok := s.deps.agents.Get(next)
	if !ok {
		return
	}
	last, ok := s.conv.LastTurn()
	if !ok {
		return
	}

	// Hint the diarizer that this participant speaks next, so the next
	// unseen provider tag binds to them.
	s.deps.speech.SetMeetingSpeaker(s.id, next)

	respCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	turn, err := ag.RespondTo(respCtx, last)
	if err != nil {
		s.deps.logger.Warn("agent response failed", "meeting_id", s.id, "agent", next, "error", err)
		return
	}
	if err := s.conv.AddTurn(turn); err != nil {
		s.deps.logger.Warn("agent turn rejected", "meeting_id", s.id, "agent", next, "error", err)
	}
}

// processAudio forwards a chunk to the speech pipeline. Exhausting every
// provider mid-meeting ends the session; whether it then fails or completes
// depends on whether transcription was mandatory.
func (s *Session) processAudio(ctx context.Context, chunk []byte, transcribing bool) (bool, string) {
	if !transcribing {
		return false, ""
	}
	err := s.deps.speech.ProcessMeetingAudio(ctx, s.id, chunk)
	if err == nil {
		return false, ""
	}
	s.deps.logger.Error("audio processing failed", "meeting_id", s.id, "error", err)
	if speech.IsCode(err, speech.CodeAllProvidersExhausted) {
		if s.cfg.Transcription.Mandatory {
			s.mu.Lock()
			s.failure = err
			s.mu.Unlock()
		}
		return true, "speech providers exhausted"
	}
	return false, ""
}

// handleEvent reacts to one platform event. The second return is the end
// reason when the event ends the meeting.
func (s *Session) handleEvent(ctx context.Context, ev platform.Event, transcribing bool) (bool, string) {
	switch ev.Type {
	case platform.EventAudioChunk:
		return s.processAudio(ctx, ev.Audio, transcribing)
	case platform.EventParticipantJoin:
		s.mu.Lock()
		s.present[ev.Participant] = true
		s.mu.Unlock()
		s.conv.SetAvailability(ev.Participant, true)
	case platform.EventParticipantLeft:
		s.mu.Lock()
		delete(s.present, ev.Participant)
		empty := len(s.present) == 0
		s.mu.Unlock()
		s.conv.SetAvailability(ev.Participant, false)
		if empty {
			return true, "all participants left"
		}
	case platform.EventMeetingEnded:
		return true, "platform reported meeting ended"
	}
	return false, ""
}

// finalize winds the session down: stop transcription, leave the platform,
// hand the summary off asynchronously, and commit the terminal state.
func (s *Session) finalize(endReason string, transcribing bool) {
	s.mu.Lock()
	s.endReason = endReason
	failure := s.failure
	s.mu.Unlock()

	s.transition(StateEnding, endReason)

	fctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var finalizeErr error
	if transcribing {
		if _, err := s.deps.speech.StopMeetingTranscription(fctx, s.id); err != nil {
			finalizeErr = err
		}
	}
	if err := s.deps.platform.Leave(fctx, s.id); err != nil {
		s.deps.logger.Warn("platform leave failed", "meeting_id", s.id, "error", err)
	}

	// Summary generation is handed off, not awaited: Ending -> Completed
	// only requires the handoff.
	go s.generateSummary()

	switch {
	case failure != nil:
		metrics.RecordError("session", failureCode(failure))
		s.transition(StateFailed, failure.Error())
	case finalizeErr != nil:
		err := NewFinalizeFailedError(finalizeErr)
		s.mu.Lock()
		s.failure = err
		s.mu.Unlock()
		metrics.RecordError("session", string(FINALIZE_FAILED))
		s.transition(StateFailed, err.Error())
	default:
		s.transition(StateCompleted, endReason)
	}

	if s.deps.onTerminal != nil {
		s.deps.onTerminal(s)
	}
	s.notifyEvent("meeting_ended")
}

func (s *Session) generateSummary() {
	s.mu.RLock()
	transcriptLines := make([]string, 0, len(s.transcript))
	for _, e := range s.transcript {
		if e.Final {
			transcriptLines = append(transcriptLines, e.Speaker+": "+e.Text)
		}
	}
	s.mu.RUnlock()

	sctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	sum, err := s.deps.post.ProcessCompletion(sctx, postmeeting.Request{
		MeetingID:    s.id,
		Title:        s.cfg.Title,
		Participants: s.cfg.Participants,
		Turns:        s.conv.History(),
		Transcript:   transcriptLines,
		TopKeywords:  s.conv.GetSummary().TopKeywords,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.summaryErr = err
		return
	}
	s.summary = &sum
}

// MeetingStatus is a read-only snapshot for status queries.
type MeetingStatus struct {
	MeetingID      string        `json:"meeting_id"`
	Title          string        `json:"title"`
	State          State         `json:"state"`
	Participants   []string      `json:"participants"`
	TranscriptLen  int           `json:"transcript_len"`
	Elapsed        time.Duration `json:"elapsed"`
	ScheduledStart time.Time     `json:"scheduled_start"`
	Provider       string        `json:"provider,omitempty"`
	EndReason      string        `json:"end_reason,omitempty"`
	Error          string        `json:"error,omitempty"`
	SummaryReady   bool          `json:"summary_ready"`
}

// Status returns the last-committed snapshot without blocking on in-flight
// transitions.
func (s *Session) Status() MeetingStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := MeetingStatus{
		MeetingID:      s.id,
		Title:          s.cfg.Title,
		State:          s.state,
		Participants:   append([]string(nil), s.cfg.Participants...),
		TranscriptLen:  len(s.transcript),
		ScheduledStart: s.cfg.ScheduledStart,
		EndReason:      s.endReason,
		SummaryReady:   s.summary != nil,
	}
	if !s.activeSince.IsZero() {
		if s.state == StateActive {
			st.Elapsed = time.Since(s.activeSince)
		} else {
			st.Elapsed = s.stateChangedAt.Sub(s.activeSince)
		}
	}
	if s.failure != nil {
		st.Error = s.failure.Error()
	}
	if name, ok := s.deps.speech.ActiveProvider(s.id); ok {
		st.Provider = name
	}
	return st
}

// Transcript returns a copy of the transcript so far.
func (s *Session) Transcript() []speech.TranscriptEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]speech.TranscriptEntry(nil), s.transcript...)
}

// Summary returns the post-meeting summary once generation finished.
func (s *Session) Summary() (*postmeeting.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary, s.summaryErr
}

// cancelScheduled terminates a session that never started running. No
// platform or speech resources exist yet, and no summary handoff happens.
func (s *Session) cancelScheduled(reason string) {
	s.transition(StateEnding, reason)
	s.transition(StateCompleted, reason)
	close(s.done)
	if s.deps.onTerminal != nil {
		s.deps.onTerminal(s)
	}
	s.notifyEvent("meeting_ended")
}
