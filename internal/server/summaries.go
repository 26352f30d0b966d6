package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/ecopoints/internal/summary"
)

func (s *Server) ListSummaries(c *gin.Context) {
	userID, err := parsePathID(c, "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}
	if _, err := s.users.Get(c.Request.Context(), userID); err != nil {
		AbortWithError(c, err)
		return
	}

	n := 0
	if limit != nil {
		n = *limit
	}
	rows, err := s.summaries.List(c.Request.Context(), userID, n)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if rows == nil {
		rows = []summary.WeeklySummary{}
	}

	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// TriggerSummary queues an immediate summary for the user. The job runs on
// the worker; the response carries only its id.
func (s *Server) TriggerSummary(c *gin.Context) {
	userID, err := parsePathID(c, "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.scheduler.TriggerSummary(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": result})
}
