package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// GatewayAdapter drives a real platform (Teams, Google Meet) through a bot
// gateway service that handles the platform SDK on our behalf. The adapter
// joins via REST and long-polls the gateway's event feed into the Event
// channel.
type GatewayAdapter struct {
	kind         Kind
	endpoint     string
	httpClient   *http.Client
	pollInterval time.Duration

	mu      sync.Mutex
	pollers map[string]context.CancelFunc // meetingID -> poller cancel
}

// NewGatewayAdapter creates an adapter for one platform behind a gateway.
func NewGatewayAdapter(kind Kind, endpoint string) *GatewayAdapter {
	return &GatewayAdapter{
		kind:     kind,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		pollInterval: time.Second,
		pollers:      make(map[string]context.CancelFunc),
	}
}

// Kind implements Adapter.
func (g *GatewayAdapter) Kind() Kind { return g.kind }

type gatewayJoinRequest struct {
	MeetingID    string   `json:"meeting_id"`
	MeetingURL   string   `json:"meeting_url"`
	Title        string   `json:"title,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

type gatewayEventsResponse struct {
	Events []Event `json:"events"`
	Cursor int     `json:"cursor"`
}

// Join implements Adapter. A non-2xx join response is returned as an error;
// on success a poller goroutine feeds the returned channel until the gateway
// reports the meeting ended or Leave is called. The ctx bounds only the join
// handshake, not the poller: the feed outlives the caller's join deadline.
func (g *GatewayAdapter) Join(ctx context.Context, req JoinRequest) (<-chan Event, error) {
	payload, err := json.Marshal(gatewayJoinRequest{
		MeetingID:    req.MeetingID,
		MeetingURL:   req.MeetingURL,
		Title:        req.Title,
		Participants: req.Participants,
	})
	if err != nil {
		return nil, fmt.Errorf("encode join request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/bots/join", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build join request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("platform join failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("platform join returned HTTP %d", resp.StatusCode)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	g.mu.Lock()
	g.pollers[req.MeetingID] = cancel
	g.mu.Unlock()

	events := make(chan Event, 64)
	go g.poll(pollCtx, req.MeetingID, events)
	return events, nil
}

// stopPoller cancels the meeting's poll loop, if one is running.
func (g *GatewayAdapter) stopPoller(meetingID string) {
	g.mu.Lock()
	cancel, ok := g.pollers[meetingID]
	if ok {
		delete(g.pollers, meetingID)
	}
	g.mu.Unlock()
	if ok {
		cancel()
	}
}

// poll drains the gateway event feed into the channel. Transient poll errors
// are logged and retried on the next tick; the channel closes on meeting end
// or cancellation.
func (g *GatewayAdapter) poll(ctx context.Context, meetingID string, events chan<- Event) {
	defer close(events)
	defer g.stopPoller(meetingID)

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	cursor := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		url := fmt.Sprintf("%s/bots/%s/events?cursor=%d", g.endpoint, meetingID, cursor)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return
		}
		resp, err := g.httpClient.Do(req)
		if err != nil {
			log.Printf("[WARN] GatewayAdapter(%s): event poll failed for %s: %v", g.kind, meetingID, err)
			continue
		}

		var feed gatewayEventsResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&feed)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || decodeErr != nil {
			log.Printf("[WARN] GatewayAdapter(%s): bad event feed for %s: HTTP %d, %v", g.kind, meetingID, resp.StatusCode, decodeErr)
			continue
		}

		cursor = feed.Cursor
		for _, ev := range feed.Events {
			ev.MeetingID = meetingID
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Type == EventMeetingEnded {
				return
			}
		}
	}
}

// Leave implements Adapter. The poller is stopped before notifying the
// gateway so no events arrive after Leave returns.
func (g *GatewayAdapter) Leave(ctx context.Context, meetingID string) error {
	g.stopPoller(meetingID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/bots/%s/leave", g.endpoint, meetingID), nil)
	if err != nil {
		return fmt.Errorf("build leave request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("platform leave failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("platform leave returned HTTP %d", resp.StatusCode)
	}
	return nil
}
