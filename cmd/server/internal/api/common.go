package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator"
)

// errorResponse returns a JSON error body.
func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"error": message,
	})
}

// engineErrorResponse maps engine error codes onto HTTP statuses.
func engineErrorResponse(c *gin.Context, err error) {
	switch {
	case orchestrator.IsCode(err, orchestrator.MEETING_NOT_FOUND):
		errorResponse(c, http.StatusNotFound, err.Error())
	case orchestrator.IsCode(err, orchestrator.INVALID_MEETING_CONFIG):
		errorResponse(c, http.StatusBadRequest, err.Error())
	case orchestrator.IsCode(err, orchestrator.ENGINE_CLOSED):
		errorResponse(c, http.StatusServiceUnavailable, err.Error())
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "internal server error",
			"detail": err.Error(),
		})
	}
}

// successResponse returns the payload with HTTP 200.
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}
