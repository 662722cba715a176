package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/conversation"
)

// MeetingHandler exposes the meeting engine over HTTP.
type MeetingHandler struct {
	engine *orchestrator.Orchestrator
}

// NewMeetingHandler creates a MeetingHandler.
func NewMeetingHandler(engine *orchestrator.Orchestrator) *MeetingHandler {
	return &MeetingHandler{engine: engine}
}

type createMeetingRequest struct {
	Title           string   `json:"title"`
	MeetingURL      string   `json:"meeting_url"`
	Participants    []string `json:"participants"`
	Facilitator     string   `json:"facilitator"`
	Strategy        string   `json:"strategy"`
	ScheduledStart  string   `json:"scheduled_start"` // RFC3339, empty means now
	DurationMinutes int      `json:"duration_minutes"`

	Transcription struct {
		Enabled    bool   `json:"enabled"`
		Mandatory  bool   `json:"mandatory"`
		Language   string `json:"language"`
		SampleRate int    `json:"sample_rate"`
		Provider   string `json:"provider"`
	} `json:"transcription"`
}

// CreateMeeting handles POST /api/v1/meetings.
func (h *MeetingHandler) CreateMeeting(c *gin.Context) {
	var req createMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	strategy, err := conversation.ParseStrategy(req.Strategy)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	var start time.Time
	if req.ScheduledStart != "" {
		start, err = time.Parse(time.RFC3339, req.ScheduledStart)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "invalid scheduled_start: "+err.Error())
			return
		}
	}

	cfg := orchestrator.MeetingConfig{
		Title:          req.Title,
		MeetingURL:     req.MeetingURL,
		Participants:   req.Participants,
		Facilitator:    req.Facilitator,
		Strategy:       strategy,
		ScheduledStart: start,
		Duration:       time.Duration(req.DurationMinutes) * time.Minute,
		Transcription: orchestrator.TranscriptionConfig{
			Enabled:    req.Transcription.Enabled,
			Mandatory:  req.Transcription.Mandatory,
			Language:   req.Transcription.Language,
			SampleRate: req.Transcription.SampleRate,
			Provider:   req.Transcription.Provider,
		},
	}

	id, err := h.engine.ScheduleMeeting(cfg)
	if err != nil {
		engineErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"meeting_id": id,
		"state":      orchestrator.StateScheduled,
	})
}

// ListMeetings handles GET /api/v1/meetings.
func (h *MeetingHandler) ListMeetings(c *gin.Context) {
	successResponse(c, gin.H{
		"meetings": h.engine.ListMeetings(),
	})
}

// GetMeeting handles GET /api/v1/meetings/:id.
func (h *MeetingHandler) GetMeeting(c *gin.Context) {
	status, err := h.engine.GetMeetingStatus(c.Param("id"))
	if err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, status)
}

// GetTranscript handles GET /api/v1/meetings/:id/transcript.
func (h *MeetingHandler) GetTranscript(c *gin.Context) {
	entries, err := h.engine.GetTranscript(c.Param("id"))
	if err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, gin.H{
		"meeting_id": c.Param("id"),
		"entries":    entries,
	})
}

// GetSummary handles GET /api/v1/meetings/:id/summary. Returns 202 while the
// summary is still being generated.
func (h *MeetingHandler) GetSummary(c *gin.Context) {
	summary, err := h.engine.GetSummary(c.Param("id"))
	if err != nil {
		engineErrorResponse(c, err)
		return
	}
	if summary == nil {
		c.JSON(http.StatusAccepted, gin.H{
			"meeting_id": c.Param("id"),
			"status":     "summary not ready",
		})
		return
	}
	successResponse(c, summary)
}

type endMeetingRequest struct {
	Reason string `json:"reason"`
}

// EndMeeting handles POST /api/v1/meetings/:id/end. Idempotent: ending a
// finished meeting succeeds without side effects.
func (h *MeetingHandler) EndMeeting(c *gin.Context) {
	var req endMeetingRequest
	// Body is optional; a bare POST ends with a default reason.
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "ended via API"
	}

	if err := h.engine.EndMeeting(c.Param("id"), req.Reason); err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, gin.H{
		"meeting_id": c.Param("id"),
		"message":    "end requested",
	})
}

// PostAudio handles POST /api/v1/meetings/:id/audio. The body is a raw PCM
// chunk routed to the meeting's speech pipeline.
func (h *MeetingHandler) PostAudio(c *gin.Context) {
	chunk, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "read audio body: "+err.Error())
		return
	}
	if len(chunk) == 0 {
		errorResponse(c, http.StatusBadRequest, "empty audio chunk")
		return
	}

	if err := h.engine.RouteAudio(c.Param("id"), chunk); err != nil {
		engineErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"meeting_id": c.Param("id"),
		"bytes":      len(chunk),
	})
}
