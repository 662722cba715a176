package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/speech"
)

// HandleHealthCheck reports engine liveness plus the speech provider health
// snapshot. The endpoint stays 200 as long as the process serves requests;
// degraded providers show up in the body, not the status code.
//
// Response format:
//
//	{
//	  "status": "ok",
//	  "providers": {
//	    "azure": {
//	      "is_healthy": true,
//	      "last_check_time": "2026-08-30T10:00:00Z",
//	      "consecutive_fails": 0,
//	      "error_message": ""
//	    }
//	  }
//	}
func HandleHealthCheck(watcher *speech.HealthWatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := gin.H{"status": "ok"}
		if watcher != nil {
			resp["providers"] = watcher.Snapshot()
		}
		c.JSON(http.StatusOK, resp)
	}
}
