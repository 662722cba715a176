// Package platform abstracts the meeting platforms the engine joins. Each
// platform exposes the same adapter surface: join, leave, and a stream of
// events (audio chunks, participant changes). The engine never talks to a
// platform API outside this package.
package platform

import (
	"context"
	"strings"
	"time"
)

// Kind identifies a meeting platform.
type Kind string

const (
	KindTeams     Kind = "teams"
	KindMeet      Kind = "google_meet"
	KindSimulated Kind = "simulated"
)

// DetectKind infers the platform from a meeting URL. Unrecognized URLs fall
// through to the simulated platform so local runs and tests need no real
// meeting link.
func DetectKind(meetingURL string) Kind {
	u := strings.ToLower(meetingURL)
	switch {
	case strings.Contains(u, "teams.microsoft.com"):
		return KindTeams
	case strings.Contains(u, "meet.google.com"):
		return KindMeet
	default:
		return KindSimulated
	}
}

// EventType classifies events flowing from a joined meeting.
type EventType string

const (
	EventAudioChunk      EventType = "audio_chunk"
	EventParticipantJoin EventType = "participant_join"
	EventParticipantLeft EventType = "participant_left"
	EventMeetingEnded    EventType = "meeting_ended"
)

// Event is one occurrence inside a joined meeting.
type Event struct {
	Type        EventType `json:"type"`
	MeetingID   string    `json:"meeting_id"`
	Participant string    `json:"participant,omitempty"`
	Audio       []byte    `json:"-"`
	Timestamp   time.Time `json:"timestamp"`
}

// JoinRequest carries everything an adapter needs to enter a meeting.
type JoinRequest struct {
	MeetingID    string
	MeetingURL   string
	Title        string
	Participants []string
}

// Adapter is one platform integration. Join blocks until the platform
// acknowledges (or ctx expires) and returns the event channel for the joined
// meeting; the adapter closes the channel when the meeting ends or after
// Leave.
type Adapter interface {
	Kind() Kind
	Join(ctx context.Context, req JoinRequest) (<-chan Event, error)
	Leave(ctx context.Context, meetingID string) error
}
