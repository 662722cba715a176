// Package api exposes the meeting engine over HTTP: meeting scheduling and
// control under /api/v1/meetings, plus health and Prometheus metrics
// endpoints.
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentframe/agentmeet/cmd/server/internal/middleware"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator"
	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/speech"
)

// NewRouter builds the engine's HTTP surface. watcher may be nil when no
// speech providers are configured.
func NewRouter(engine *orchestrator.Orchestrator, watcher *speech.HealthWatcher, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))

	r.GET("/healthz", HandleHealthCheck(watcher))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewMeetingHandler(engine)
	v1 := r.Group("/api/v1")
	{
		meetings := v1.Group("/meetings")
		meetings.POST("", h.CreateMeeting)
		meetings.GET("", h.ListMeetings)
		meetings.GET("/:id", h.GetMeeting)
		meetings.GET("/:id/transcript", h.GetTranscript)
		meetings.GET("/:id/summary", h.GetSummary)
		meetings.POST("/:id/end", h.EndMeeting)
		meetings.POST("/:id/audio", h.PostAudio)
	}

	return r
}
