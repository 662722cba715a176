package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDetectKind(t *testing.T) {
	tests := []struct {
		url  string
		want Kind
	}{
		{"https://teams.microsoft.com/l/meetup-join/abc", KindTeams},
		{"https://meet.google.com/xyz-abcd-efg", KindMeet},
		{"https://zoom.us/j/123", KindSimulated},
		{"", KindSimulated},
	}
	for _, tt := range tests {
		if got := DetectKind(tt.url); got != tt.want {
			t.Errorf("DetectKind(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestSimulatedAdapter(t *testing.T) {
	ctx := context.Background()

	t.Run("join and emit events", func(t *testing.T) {
		sim := NewSimulatedAdapter()
		events, err := sim.Join(ctx, JoinRequest{MeetingID: "m1"})
		if err != nil {
			t.Fatalf("Join() error = %v", err)
		}

		if err := sim.EmitAudio("m1", []byte("pcm")); err != nil {
			t.Fatalf("EmitAudio: %v", err)
		}
		ev := <-events
		if ev.Type != EventAudioChunk || string(ev.Audio) != "pcm" {
			t.Errorf("event = %+v, want audio chunk", ev)
		}

		if err := sim.EmitLeave("m1", "alice"); err != nil {
			t.Fatalf("EmitLeave: %v", err)
		}
		ev = <-events
		if ev.Type != EventParticipantLeft || ev.Participant != "alice" {
			t.Errorf("event = %+v, want alice left", ev)
		}

		if err := sim.EndMeeting("m1"); err != nil {
			t.Fatalf("EndMeeting: %v", err)
		}
		ev, ok := <-events
		if !ok || ev.Type != EventMeetingEnded {
			t.Errorf("event = %+v/%v, want meeting ended", ev, ok)
		}
		if _, ok := <-events; ok {
			t.Error("channel still open after meeting end")
		}
	})

	t.Run("scripted join failure", func(t *testing.T) {
		sim := NewSimulatedAdapter()
		wantErr := errors.New("room full")
		sim.FailNextJoin(wantErr)
		if _, err := sim.Join(ctx, JoinRequest{MeetingID: "m1"}); !errors.Is(err, wantErr) {
			t.Errorf("Join() error = %v, want scripted failure", err)
		}
		// The failure is consumed; the next join succeeds.
		if _, err := sim.Join(ctx, JoinRequest{MeetingID: "m1"}); err != nil {
			t.Errorf("second Join() error = %v, want nil", err)
		}
	})

	t.Run("join latency honors context", func(t *testing.T) {
		sim := NewSimulatedAdapter()
		sim.SetJoinLatency(time.Minute)
		shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		if _, err := sim.Join(shortCtx, JoinRequest{MeetingID: "m1"}); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Join() error = %v, want deadline exceeded", err)
		}
	})

	t.Run("emit to unjoined meeting fails", func(t *testing.T) {
		sim := NewSimulatedAdapter()
		if err := sim.EmitAudio("ghost", nil); err == nil {
			t.Error("expected error for unjoined meeting")
		}
	})
}

func TestManager(t *testing.T) {
	ctx := context.Background()

	t.Run("routes unknown urls to simulated", func(t *testing.T) {
		m := NewManager()
		events, err := m.Join(ctx, JoinRequest{MeetingID: "m1", MeetingURL: "local://standup"})
		if err != nil {
			t.Fatalf("Join() error = %v", err)
		}
		if events == nil {
			t.Fatal("nil event channel")
		}
		if err := m.Leave(ctx, "m1"); err != nil {
			t.Errorf("Leave() error = %v", err)
		}
	})

	t.Run("unregistered platform is an error", func(t *testing.T) {
		m := NewManager()
		_, err := m.Join(ctx, JoinRequest{MeetingID: "m1", MeetingURL: "https://teams.microsoft.com/l/x"})
		if err == nil {
			t.Error("expected error for unregistered teams adapter")
		}
	})

	t.Run("leave of unjoined meeting is a no-op", func(t *testing.T) {
		m := NewManager()
		if err := m.Leave(ctx, "never-joined"); err != nil {
			t.Errorf("Leave() error = %v, want nil", err)
		}
	})
}

func TestGatewayAdapter(t *testing.T) {
	ctx := context.Background()

	t.Run("join polls events until meeting ends", func(t *testing.T) {
		polls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/bots/join":
				w.WriteHeader(http.StatusOK)
			case "/bots/m1/events":
				polls++
				feed := gatewayEventsResponse{Cursor: polls}
				if polls == 1 {
					feed.Events = []Event{{Type: EventAudioChunk, Audio: []byte("x")}}
				} else {
					feed.Events = []Event{{Type: EventMeetingEnded}}
				}
				json.NewEncoder(w).Encode(feed)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer server.Close()

		g := NewGatewayAdapter(KindTeams, server.URL)
		g.pollInterval = 5 * time.Millisecond

		events, err := g.Join(ctx, JoinRequest{MeetingID: "m1", MeetingURL: "https://teams.microsoft.com/x"})
		if err != nil {
			t.Fatalf("Join() error = %v", err)
		}

		var got []Event
		for ev := range events {
			got = append(got, ev)
		}
		if len(got) != 2 {
			t.Fatalf("received %d events, want 2", len(got))
		}
		if got[0].Type != EventAudioChunk || got[1].Type != EventMeetingEnded {
			t.Errorf("events = %+v, want audio then ended", got)
		}
		if got[0].MeetingID != "m1" {
			t.Errorf("meeting id = %q, want m1 (stamped by poller)", got[0].MeetingID)
		}
	})

	t.Run("join rejection surfaces as error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		g := NewGatewayAdapter(KindMeet, server.URL)
		if _, err := g.Join(ctx, JoinRequest{MeetingID: "m1"}); err == nil {
			t.Error("expected join error")
		}
	})

	t.Run("leave posts to gateway", func(t *testing.T) {
		var gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
		}))
		defer server.Close()

		g := NewGatewayAdapter(KindTeams, server.URL)
		if err := g.Leave(ctx, "m1"); err != nil {
			t.Fatalf("Leave() error = %v", err)
		}
		if want := fmt.Sprintf("/bots/%s/leave", "m1"); gotPath != want {
			t.Errorf("leave path = %q, want %q", gotPath, want)
		}
	})
}
