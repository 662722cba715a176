// Package orchestrator is the meeting engine core: it owns the session
// registry, enforces the concurrency cap, runs each meeting's lifecycle as an
// independent worker, and routes platform and audio events to the right
// session.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/agent"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/platform"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/postmeeting"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/speech"
)

const (
	minMeetingDuration = time.Minute
	maxMeetingDuration = 480 * time.Minute
)

// Config tunes the engine.
type Config struct {
	// MaxConcurrentMeetings caps sessions in Joining/Active/Ending at once.
	MaxConcurrentMeetings int

	// JoinGrace bounds the platform join handshake; exceeding it fails the
	// session with JOIN_TIMEOUT.
	JoinGrace time.Duration

	// SchedulerTick is the cadence at which due Scheduled sessions are
	// promoted.
	SchedulerTick time.Duration

	// ScheduleGrace is how far in the past a scheduled start may lie and
	// still be accepted.
	ScheduleGrace time.Duration

	// DefaultProvider names the preferred speech provider when a meeting
	// does not pick one.
	DefaultProvider string
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentMeetings <= 0 {
		c.MaxConcurrentMeetings = 10
	}
	if c.JoinGrace <= 0 {
		c.JoinGrace = 30 * time.Second
	}
	if c.SchedulerTick <= 0 {
		c.SchedulerTick = time.Second
	}
	if c.ScheduleGrace <= 0 {
		c.ScheduleGrace = 5 * time.Minute
	}
	return c
}

// entry pairs a session with its scheduling bookkeeping.
type entry struct {
	session   *Session
	launched  bool
	cancelled bool // cancelled while still Scheduled; never launches
}

// Orchestrator owns every meeting session. The registry is the only mutable
// structure shared across sessions and is guarded by one mutex; readers get
// consistent snapshots, writers serialize.
type Orchestrator struct {
	cfg      Config
	logger   *slog.Logger
	audit    TransitionAuditor
	platform *platform.Manager
	speech   *speech.Manager
	post     *postmeeting.Processor
	agents   *agent.Registry

	providers map[string]speech.Provider
	order     []string // provider fallback order

	onEvent func(meetingID, event string)

	mu       sync.RWMutex
	sessions map[string]*entry
	fifo     []string // meeting IDs in scheduling order

	slots    *semaphore.Weighted
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
	closed   bool
}

// New creates an Orchestrator. providerOrder lists speech providers from
// most to least preferred; it doubles as the fallback chain.
func New(cfg Config, logger *slog.Logger, audit TransitionAuditor,
	platformMgr *platform.Manager, speechMgr *speech.Manager,
	post *postmeeting.Processor, agents *agent.Registry,
	providerOrder []speech.Provider) *Orchestrator {

	cfg = cfg.withDefaults()

	providers := make(map[string]speech.Provider, len(providerOrder))
	order := make([]string, 0, len(providerOrder))
	for _, p := range providerOrder {
		providers[p.Name()] = p
		order = append(order, p.Name())
	}

	return &Orchestrator{
		cfg:       cfg,
		logger:    logger,
		audit:     audit,
		platform:  platformMgr,
		speech:    speechMgr,
		post:      post,
		agents:    agents,
		providers: providers,
		order:     order,
		sessions:  make(map[string]*entry),
		slots:     semaphore.NewWeighted(int64(cfg.MaxConcurrentMeetings)),
		stopCh:    make(chan struct{}),
	}
}

// SetEventCallback registers a callback fired on meeting_started and
// meeting_ended. Set it before the first ScheduleMeeting call; the callback
// runs on session goroutines and must not block.
func (o *Orchestrator) SetEventCallback(cb func(meetingID, event string)) {
	o.onEvent = cb
}

func (o *Orchestrator) notifyEvent(meetingID, event string) {
	if o.onEvent != nil {
		o.onEvent(meetingID, event)
	}
}

// ScheduleMeeting validates the config, registers a Scheduled session, and
// returns its identifier. The session starts running on a scheduler tick at
// or after its scheduled start, concurrency cap permitting.
func (o *Orchestrator) ScheduleMeeting(cfg MeetingConfig) (string, error) {
	if len(cfg.Participants) == 0 {
		return "", NewInvalidConfigError("participant list is empty")
	}
	if cfg.Duration < minMeetingDuration || cfg.Duration > maxMeetingDuration {
		return "", NewInvalidConfigError(fmt.Sprintf(
			"duration %s outside [%s, %s]", cfg.Duration, minMeetingDuration, maxMeetingDuration))
	}
	if cfg.ScheduledStart.IsZero() {
		cfg.ScheduledStart = time.Now()
	}
	if time.Since(cfg.ScheduledStart) > o.cfg.ScheduleGrace {
		return "", NewInvalidConfigError(fmt.Sprintf(
			"scheduled start %s is more than %s in the past", cfg.ScheduledStart.Format(time.RFC3339), o.cfg.ScheduleGrace))
	}
	if _, err := o.resolveProviders(cfg.Transcription.Provider); cfg.Transcription.Enabled && err != nil {
		return "", NewInvalidConfigError(err.Error())
	}

	id := "mtg-" + uuid.NewString()
	preferred, fallbacks := o.providerChain(cfg.Transcription.Provider)
	sess, err := newSession(id, cfg, sessionDeps{
		platform:   o.platform,
		speech:     o.speech,
		post:       o.post,
		agents:     o.agents,
		audit:      o.audit,
		logger:     o.logger,
		joinGrace:  o.cfg.JoinGrace,
		preferred:  preferred,
		fallbacks:  fallbacks,
		onTerminal: o.onSessionTerminal,
		onEvent:    o.notifyEvent,
	})
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", NewEngineError(ENGINE_CLOSED, "engine is shutting down", nil)
	}
	o.sessions[id] = &entry{session: sess}
	o.fifo = append(o.fifo, id)
	o.mu.Unlock()

	o.logger.Info("meeting scheduled",
		"meeting_id", id, "title", cfg.Title,
		"participants", len(cfg.Participants), "start", cfg.ScheduledStart)
	return id, nil
}

// resolveProviders validates a preferred provider name.
func (o *Orchestrator) resolveProviders(preferred string) (speech.Provider, error) {
	if len(o.order) == 0 {
		return nil, fmt.Errorf("no speech providers configured")
	}
	if preferred == "" {
		preferred = o.cfg.DefaultProvider
	}
	if preferred == "" {
		return o.providers[o.order[0]], nil
	}
	p, ok := o.providers[preferred]
	if !ok {
		return nil, fmt.Errorf("unknown speech provider %q", preferred)
	}
	return p, nil
}

// providerChain returns the preferred provider and the remaining fallbacks
// in configured order.
func (o *Orchestrator) providerChain(preferred string) (speech.Provider, []speech.Provider) {
	p, err := o.resolveProviders(preferred)
	if err != nil || p == nil {
		return nil, nil
	}
	fallbacks := make([]speech.Provider, 0, len(o.order)-1)
	for _, name := range o.order {
		if name != p.Name() {
			fallbacks = append(fallbacks, o.providers[name])
		}
	}
	return p, fallbacks
}

// Run drives the scheduler loop until ctx is cancelled or Close is called.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.SchedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// tick promotes due Scheduled sessions to running workers in FIFO order.
// When the concurrency cap is reached the scan stops at the first deferred
// session, so later arrivals never overtake it.
func (o *Orchestrator) tick(ctx context.Context) {
	now := time.Now()

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, id := range o.fifo {
		e := o.sessions[id]
		if e == nil || e.launched || e.cancelled || e.session.State() != StateScheduled {
			continue
		}
		if e.session.cfg.ScheduledStart.After(now) {
			continue
		}
		if !o.slots.TryAcquire(1) {
			// Cap reached; this session keeps its place in line.
			return
		}
		e.launched = true
		o.wg.Add(1)
		go func(s *Session) {
			defer o.wg.Done()
			s.run(ctx)
		}(e.session)
	}
}

// onSessionTerminal releases the session's concurrency slot. Sessions
// cancelled while still Scheduled never held one.
func (o *Orchestrator) onSessionTerminal(s *Session) {
	o.mu.RLock()
	e := o.sessions[s.ID()]
	o.mu.RUnlock()
	if e != nil && e.launched {
		o.slots.Release(1)
	}
}

// GetMeetingStatus returns the last-committed snapshot for a meeting.
func (o *Orchestrator) GetMeetingStatus(meetingID string) (MeetingStatus, error) {
	o.mu.RLock()
	e := o.sessions[meetingID]
	o.mu.RUnlock()
	if e == nil {
		return MeetingStatus{}, NewMeetingNotFoundError(meetingID)
	}
	return e.session.Status(), nil
}

// GetTranscript returns the transcript accumulated so far.
func (o *Orchestrator) GetTranscript(meetingID string) ([]speech.TranscriptEntry, error) {
	o.mu.RLock()
	e := o.sessions[meetingID]
	o.mu.RUnlock()
	if e == nil {
		return nil, NewMeetingNotFoundError(meetingID)
	}
	return e.session.Transcript(), nil
}

// GetSummary returns the post-meeting summary once available.
func (o *Orchestrator) GetSummary(meetingID string) (*postmeeting.Summary, error) {
	o.mu.RLock()
	e := o.sessions[meetingID]
	o.mu.RUnlock()
	if e == nil {
		return nil, NewMeetingNotFoundError(meetingID)
	}
	return e.session.Summary()
}

// EndMeeting forces the meeting toward Ending regardless of its natural
// triggers. Idempotent: ending an already Ending or terminal meeting is a
// no-op, and the post-meeting handoff happens at most once.
func (o *Orchestrator) EndMeeting(meetingID, reason string) error {
	o.mu.Lock()
	e := o.sessions[meetingID]
	if e == nil {
		o.mu.Unlock()
		return NewMeetingNotFoundError(meetingID)
	}
	sess := e.session
	state := sess.State()
	cancelling := state == StateScheduled && !e.launched && !e.cancelled
	if cancelling {
		// Claim the session under the registry lock so a concurrent
		// scheduler tick cannot launch it.
		e.cancelled = true
	}
	alreadyCancelled := e.cancelled && !cancelling
	o.mu.Unlock()

	switch {
	case state.Terminal() || state == StateEnding || alreadyCancelled:
		o.logger.Info("end requested for finished meeting", "meeting_id", meetingID, "state", state)
		return nil
	case cancelling:
		sess.cancelScheduled(reason)
		return nil
	default:
		sess.RequestEnd(reason)
		return nil
	}
}

// RouteAudio forwards an audio chunk to the meeting's session worker.
func (o *Orchestrator) RouteAudio(meetingID string, chunk []byte) error {
	o.mu.RLock()
	e := o.sessions[meetingID]
	o.mu.RUnlock()
	if e == nil {
		return NewMeetingNotFoundError(meetingID)
	}
	e.session.SubmitAudio(chunk)
	return nil
}

// ListMeetings returns status snapshots for every registered meeting in
// scheduling order.
func (o *Orchestrator) ListMeetings() []MeetingStatus {
	o.mu.RLock()
	ids := append([]string(nil), o.fifo...)
	entries := make([]*entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, o.sessions[id])
	}
	o.mu.RUnlock()

	out := make([]MeetingStatus, 0, len(entries))
	for _, e := range entries {
		if e != nil {
			out = append(out, e.session.Status())
		}
	}
	return out
}

// ActiveCount reports how many sessions currently hold a concurrency slot.
func (o *Orchestrator) ActiveCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	n := 0
	for _, e := range o.sessions {
		if e.launched && !e.session.State().Terminal() {
			n++
		}
	}
	return n
}

// Close stops the scheduler, ends every running meeting, and waits for the
// workers to finish.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.stopOnce.Do(func() { close(o.stopCh) })

	o.mu.Lock()
	o.closed = true
	ids := append([]string(nil), o.fifo...)
	o.mu.Unlock()

	for _, id := range ids {
		// Best effort; unknown or finished meetings are fine here.
		o.EndMeeting(id, "engine shutdown")
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	o.speech.Close(ctx)
	return nil
}
