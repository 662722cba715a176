package speech

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentframe/agentmeet/pkg/metrics"
)

// streamReopenBackoff is the pause before the single same-provider reopen
// after a STREAM_INTERRUPTED push failure. There is no backoff between
// fallback candidates: start-path failures are permanent for the call.
const streamReopenBackoff = 200 * time.Millisecond

// TranscriptEntry is one transcription result after diarization mapping,
// attributed to a meeting participant (or "unknown-N").
type TranscriptEntry struct {
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
	Final      bool      `json:"final"`
	Provider   string    `json:"provider"`
}

// Callback receives transcription results in arrival order. Partial entries
// may be revised out of speech order (diarization can reattribute overlapping
// speech after the fact); final entries never reorder and their timestamps
// are monotonically non-decreasing per meeting.
type Callback func(meetingID string, entry TranscriptEntry)

// session is the per-meeting binding between a meeting and an active
// provider stream. A meeting has at most one session at a time.
type session struct {
	meetingID   string
	cfg         StreamConfig
	provider    Provider
	stream      Stream
	fallbacks   []Provider // remaining candidates, in order
	callback    Callback
	diar        *speakerMap
	partials    []TranscriptEntry // buffered partials flushed as finals at stop
	lastFinalTS time.Time
	interrupted bool // a reopen has been consumed for the current incident
	startedAt   time.Time
	mu          sync.Mutex
}

// Manager owns provider selection, fallback, and per-meeting transcription
// streams, fanning results to subscribers. Callers never see which concrete
// provider serves a meeting except through ActiveProvider.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session
	starting map[string]chan struct{} // meeting IDs with a start in flight
	global   Callback
	logger   *slog.Logger
}

// NewManager creates a Manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*session),
		starting: make(map[string]chan struct{}),
		logger:   logger,
	}
}

// SetGlobalCallback registers the optional cross-meeting callback. It runs
// after the per-meeting callback for every delivered entry.
func (m *Manager) SetGlobalCallback(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.global = cb
}

// StartMeetingTranscription opens a speech session for a meeting. The
// preferred provider is tried first; on PROVIDER_UNAVAILABLE or
// UNSUPPORTED_CONFIG each fallback candidate is tried in order. When the
// whole list fails the call returns ALL_PROVIDERS_EXHAUSTED.
//
// participants (registration order) seeds the diarization heuristic. The
// call is idempotent: a second start for an already-transcribing meeting
// returns the active provider's name without side effects.
func (m *Manager) StartMeetingTranscription(ctx context.Context, cfg StreamConfig, participants []string, preferred Provider, fallbacks []Provider, cb Callback) (string, error) {
	// Reserve the meeting ID before dialing so two concurrent starts cannot
	// both open streams. A concurrent duplicate waits for the winner and
	// returns its provider, preserving idempotency.
	var reserved chan struct{}
	for {
		m.mu.Lock()
		if existing, ok := m.sessions[cfg.MeetingID]; ok {
			m.mu.Unlock()
			m.logger.Warn("transcription already active", "meeting_id", cfg.MeetingID, "provider", existing.provider.Name())
			return existing.provider.Name(), nil
		}
		inflight, ok := m.starting[cfg.MeetingID]
		if !ok {
			reserved = make(chan struct{})
			m.starting[cfg.MeetingID] = reserved
			m.mu.Unlock()
			break
		}
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-inflight:
		}
	}
	defer func() {
		m.mu.Lock()
		delete(m.starting, cfg.MeetingID)
		m.mu.Unlock()
		close(reserved)
	}()

	candidates := append([]Provider{preferred}, fallbacks...)
	var lastErr error
	for i, p := range candidates {
		stream, err := p.StartStream(ctx, cfg)
		if err == nil {
			if i > 0 {
				metrics.RecordFallback(candidates[i-1].Name(), p.Name())
			}
			sess := &session{
				meetingID: cfg.MeetingID,
				cfg:       cfg,
				provider:  p,
				stream:    stream,
				fallbacks: candidates[i+1:],
				callback:  cb,
				diar:      newSpeakerMap(participants),
				startedAt: time.Now(),
			}
			m.mu.Lock()
			m.sessions[cfg.MeetingID] = sess
			m.mu.Unlock()
			m.logger.Info("transcription started", "meeting_id", cfg.MeetingID, "provider", p.Name())
			return p.Name(), nil
		}

		lastErr = err
		if !IsCode(err, CodeProviderUnavailable) && !IsCode(err, CodeUnsupportedConfig) {
			// Unexpected start failure; treat it like unavailability and keep
			// walking the list rather than wedging the meeting.
			m.logger.Warn("unclassified stream open failure", "meeting_id", cfg.MeetingID, "provider", p.Name(), "error", err)
		}
		m.logger.Warn("provider failed to open stream", "meeting_id", cfg.MeetingID, "provider", p.Name(), "error", err)
	}

	metrics.RecordError("speech", string(CodeAllProvidersExhausted))
	return "", NewProviderError(CodeAllProvidersExhausted, "",
		fmt.Sprintf("no provider could open a stream for meeting %s", cfg.MeetingID), lastErr)
}

// ProcessMeetingAudio forwards a chunk to the meeting's active stream. On
// STREAM_INTERRUPTED the stream is transparently reopened once with the same
// provider; a second consecutive interruption triggers fallback through the
// remaining candidates (as in start). Results are delivered to callbacks in
// arrival order before the call returns.
func (m *Manager) ProcessMeetingAudio(ctx context.Context, meetingID string, chunk []byte) error {
	m.mu.RLock()
	sess, ok := m.sessions[meetingID]
	m.mu.RUnlock()
	if !ok {
		return NewProviderError(CodeNoActiveSession, "",
			fmt.Sprintf("no active transcription for meeting %s", meetingID), nil)
	}

	entries, err := m.pushChunk(ctx, sess, chunk)
	if err != nil {
		return err
	}
	m.dispatch(sess, entries)
	return nil
}

// pushChunk runs the push/reopen/failover sequence under sess.mu and returns
// the mapped entries. Callbacks run after the lock is released: they may
// re-enter the manager (speaker hints, status queries).
func (m *Manager) pushChunk(ctx context.Context, sess *session, chunk []byte) ([]TranscriptEntry, error) {
	meetingID := sess.meetingID

	sess.mu.Lock()
	defer sess.mu.Unlock()

	start := time.Now()
	results, err := sess.stream.Push(ctx, chunk)
	metrics.AudioProcessingDuration.WithLabelValues(sess.provider.Name()).Observe(time.Since(start).Seconds())

	if err != nil && IsCode(err, CodeStreamInterrupted) {
		if !sess.interrupted {
			// First interruption: reopen with the same provider once.
			sess.interrupted = true
			m.logger.Warn("stream interrupted, reopening", "meeting_id", meetingID, "provider", sess.provider.Name())
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(streamReopenBackoff):
			}
			stream, openErr := sess.provider.StartStream(ctx, sess.cfg)
			if openErr == nil {
				sess.stream = stream
				results, err = sess.stream.Push(ctx, chunk)
			} else {
				err = openErr
			}
		}
		if err != nil {
			// Second consecutive incident: fall back down the remaining list.
			if fbErr := m.failoverLocked(ctx, sess); fbErr != nil {
				return nil, fbErr
			}
			results, err = sess.stream.Push(ctx, chunk)
		}
	}
	if err != nil {
		metrics.RecordError("speech", string(CodeStreamInterrupted))
		return nil, err
	}

	sess.interrupted = false
	return m.mapLocked(sess, results), nil
}

// failoverLocked replaces the session's provider with the next working
// fallback candidate. Caller holds sess.mu.
func (m *Manager) failoverLocked(ctx context.Context, sess *session) error {
	prev := sess.provider.Name()
	for len(sess.fallbacks) > 0 {
		next := sess.fallbacks[0]
		sess.fallbacks = sess.fallbacks[1:]
		stream, err := next.StartStream(ctx, sess.cfg)
		if err != nil {
			m.logger.Warn("fallback provider failed to open stream", "meeting_id", sess.meetingID, "provider", next.Name(), "error", err)
			continue
		}
		sess.provider = next
		sess.stream = stream
		sess.interrupted = false
		metrics.RecordFallback(prev, next.Name())
		m.logger.Warn("transcription failed over", "meeting_id", sess.meetingID, "from", prev, "to", next.Name())
		return nil
	}
	metrics.RecordError("speech", string(CodeAllProvidersExhausted))
	return NewProviderError(CodeAllProvidersExhausted, prev,
		fmt.Sprintf("stream lost and no fallback left for meeting %s", sess.meetingID), nil)
}

// mapLocked maps speaker tags, enforces final-timestamp monotonicity, and
// buffers partials. Caller holds sess.mu. The returned entries have not been
// delivered yet; callers hand them to dispatch after releasing the lock.
func (m *Manager) mapLocked(sess *session, results []Result) []TranscriptEntry {
	var entries []TranscriptEntry
	for _, r := range results {
		entry := TranscriptEntry{
			Speaker:    sess.diar.resolve(r.SpeakerTag),
			Text:       r.Text,
			Timestamp:  r.Timestamp,
			Confidence: r.Confidence,
			Final:      r.Final,
			Provider:   sess.provider.Name(),
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now()
		}
		if entry.Final {
			// Final timestamps never go backwards within a meeting.
			if entry.Timestamp.Before(sess.lastFinalTS) {
				entry.Timestamp = sess.lastFinalTS
			}
			sess.lastFinalTS = entry.Timestamp
		} else {
			sess.partials = append(sess.partials, entry)
		}
		metrics.RecordTranscriptEntry(entry.Provider, entry.Final)
		entries = append(entries, entry)
	}
	return entries
}

// dispatch invokes the per-meeting and global callbacks for each entry.
// Must be called without sess.mu held: callbacks may re-enter the manager
// (speaker hints, status queries) on the same goroutine.
func (m *Manager) dispatch(sess *session, entries []TranscriptEntry) {
	if len(entries) == 0 {
		return
	}
	m.mu.RLock()
	global := m.global
	m.mu.RUnlock()
	for _, entry := range entries {
		if sess.callback != nil {
			sess.callback(sess.meetingID, entry)
		}
		if global != nil {
			global(sess.meetingID, entry)
		}
	}
}

// StopMeetingTranscription finalizes the stream, flushes buffered partial
// results as finals, releases the speech session, and returns the flushed
// entries. Stopping a meeting with no active session is a warning, not an
// error.
func (m *Manager) StopMeetingTranscription(ctx context.Context, meetingID string) ([]TranscriptEntry, error) {
	m.mu.Lock()
	sess, ok := m.sessions[meetingID]
	if ok {
		delete(m.sessions, meetingID)
	}
	m.mu.Unlock()
	if !ok {
		m.logger.Warn("no active transcription to stop", "meeting_id", meetingID)
		return nil, nil
	}

	sess.mu.Lock()

	remaining, err := sess.stream.Stop(ctx)
	if err != nil {
		m.logger.Error("stream stop failed", "meeting_id", meetingID, "provider", sess.provider.Name(), "error", err)
	}

	var flushed []TranscriptEntry
	for _, r := range remaining {
		entry := TranscriptEntry{
			Speaker:    sess.diar.resolve(r.SpeakerTag),
			Text:       r.Text,
			Timestamp:  r.Timestamp,
			Confidence: r.Confidence,
			Final:      true,
			Provider:   sess.provider.Name(),
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now()
		}
		if entry.Timestamp.Before(sess.lastFinalTS) {
			entry.Timestamp = sess.lastFinalTS
		}
		sess.lastFinalTS = entry.Timestamp
		metrics.RecordTranscriptEntry(entry.Provider, true)
		flushed = append(flushed, entry)
	}

	// Any partial still buffered becomes final with its last known text.
	for _, p := range sess.partials {
		p.Final = true
		if p.Timestamp.Before(sess.lastFinalTS) {
			p.Timestamp = sess.lastFinalTS
		}
		sess.lastFinalTS = p.Timestamp
		flushed = append(flushed, p)
	}
	sess.partials = nil
	sess.mu.Unlock()

	m.dispatch(sess, flushed)

	m.logger.Info("transcription stopped", "meeting_id", meetingID, "provider", sess.provider.Name(), "flushed", len(flushed))
	return flushed, err
}

// SetMeetingSpeaker records a voice-print hint: the next unseen provider
// speaker tag for this meeting will be attributed to the given participant.
func (m *Manager) SetMeetingSpeaker(meetingID, participant string) {
	m.mu.RLock()
	sess, ok := m.sessions[meetingID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	sess.diar.hint(participant)
	sess.mu.Unlock()
}

// ActiveProvider reports which provider currently serves a meeting.
func (m *Manager) ActiveProvider(meetingID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[meetingID]
	if !ok {
		return "", false
	}
	return sess.provider.Name(), true
}

// ActiveTranscriptions returns the meeting IDs with open speech sessions.
func (m *Manager) ActiveTranscriptions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close stops every open speech session. Used on engine shutdown.
func (m *Manager) Close(ctx context.Context) {
	for _, id := range m.ActiveTranscriptions() {
		if _, err := m.StopMeetingTranscription(ctx, id); err != nil {
			m.logger.Error("failed to stop transcription during shutdown", "meeting_id", id, "error", err)
		}
	}
}
