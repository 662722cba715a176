package platform

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SimulatedAdapter is the in-process platform used when a meeting URL matches
// no real platform, and by tests. Joins succeed (or fail, when scripted) and
// callers inject events through EmitAudio / EmitLeave / EndMeeting.
type SimulatedAdapter struct {
	mu       sync.Mutex
	meetings map[string]chan Event
	joinErr  error         // next Join returns this when set
	joinWait time.Duration // artificial join latency
}

// NewSimulatedAdapter creates a SimulatedAdapter with no scripted failures.
func NewSimulatedAdapter() *SimulatedAdapter {
	return &SimulatedAdapter{meetings: make(map[string]chan Event)}
}

// Kind implements Adapter.
func (s *SimulatedAdapter) Kind() Kind { return KindSimulated }

// FailNextJoin scripts the next Join call to fail with err.
func (s *SimulatedAdapter) FailNextJoin(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinErr = err
}

// SetJoinLatency scripts an artificial delay before Join acknowledges,
// for exercising join timeouts.
func (s *SimulatedAdapter) SetJoinLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinWait = d
}

// Join implements Adapter.
func (s *SimulatedAdapter) Join(ctx context.Context, req JoinRequest) (<-chan Event, error) {
	s.mu.Lock()
	failErr := s.joinErr
	s.joinErr = nil
	wait := s.joinWait
	s.mu.Unlock()

	if wait > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	if failErr != nil {
		return nil, failErr
	}

	ch := make(chan Event, 64)
	s.mu.Lock()
	s.meetings[req.MeetingID] = ch
	s.mu.Unlock()
	return ch, nil
}

// Leave implements Adapter. Leaving closes the meeting's event channel.
func (s *SimulatedAdapter) Leave(ctx context.Context, meetingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.meetings[meetingID]
	if !ok {
		return nil
	}
	delete(s.meetings, meetingID)
	close(ch)
	return nil
}

// EmitAudio injects an audio chunk event into a joined meeting.
func (s *SimulatedAdapter) EmitAudio(meetingID string, chunk []byte) error {
	return s.emit(Event{Type: EventAudioChunk, MeetingID: meetingID, Audio: chunk, Timestamp: time.Now()})
}

// EmitLeave injects a participant-left event.
func (s *SimulatedAdapter) EmitLeave(meetingID, participant string) error {
	return s.emit(Event{Type: EventParticipantLeft, MeetingID: meetingID, Participant: participant, Timestamp: time.Now()})
}

// EndMeeting injects a meeting-ended event and closes the feed.
func (s *SimulatedAdapter) EndMeeting(meetingID string) error {
	if err := s.emit(Event{Type: EventMeetingEnded, MeetingID: meetingID, Timestamp: time.Now()}); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.meetings[meetingID]; ok {
		delete(s.meetings, meetingID)
		close(ch)
	}
	return nil
}

func (s *SimulatedAdapter) emit(ev Event) error {
	s.mu.Lock()
	ch, ok := s.meetings[ev.MeetingID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("meeting %s not joined on simulated platform", ev.MeetingID)
	}
	ch <- ev
	return nil
}
