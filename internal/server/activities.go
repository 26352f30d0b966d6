package server

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/ecopoints/internal/activity"
	"github.com/smallbiznis/ecopoints/internal/emission"
	"github.com/smallbiznis/ecopoints/pkg/db/pagination"
)

type logActivityRequest struct {
	ActivityType string         `json:"activity_type"`
	Details      map[string]any `json:"details"`
	ActivityDate string         `json:"activity_date"`
}

func (s *Server) LogActivity(c *gin.Context) {
	userID, err := parsePathID(c, "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if res := s.limiter.Allow(c.Request.Context(), userID); !res.Allowed {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
		AbortWithError(c, ErrRateLimited)
		return
	}

	var req logActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	date, err := parseOptionalTime(req.ActivityDate)
	if err != nil {
		AbortWithError(c, newValidationError("activity_date", "invalid_activity_date", "invalid activity_date"))
		return
	}
	var activityDate time.Time
	if date != nil {
		activityDate = *date
	}

	item, err := s.activities.Log(c.Request.Context(), activity.LogRequest{
		UserID:       userID,
		ActivityType: req.ActivityType,
		Details:      emission.Details(req.Details),
		ActivityDate: activityDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) ListActivities(c *gin.Context) {
	userID, err := parsePathID(c, "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.activities.List(c.Request.Context(), activity.ListRequest{
		UserID:     userID,
		Pagination: query,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if resp.Activities == nil {
		resp.Activities = []activity.Activity{}
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
