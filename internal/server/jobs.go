package server

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/ecopoints/internal/jobqueue"
	"github.com/smallbiznis/ecopoints/pkg/db/pagination"
	"go.uber.org/zap"
)

type failedJobsResponse struct {
	pagination.PageInfo
	Jobs []jobqueue.Job `json:"jobs"`
}

func (s *Server) ListFailedJobs(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Queue string `form:"queue"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	queue := strings.TrimSpace(query.Queue)
	if queue != "" && !slices.Contains(jobqueue.Queues, queue) {
		AbortWithError(c, jobqueue.ErrInvalidQueue)
		return
	}

	jobs, info, err := s.queue.ListFailed(c.Request.Context(), queue, query.Pagination)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if jobs == nil {
		jobs = []jobqueue.Job{}
	}

	c.JSON(http.StatusOK, gin.H{"data": failedJobsResponse{PageInfo: info, Jobs: jobs}})
}

func (s *Server) GetJob(c *gin.Context) {
	jobID, err := parsePathID(c, "job_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	job, err := s.queue.Get(c.Request.Context(), jobID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": job})
}

func (s *Server) RetryJob(c *gin.Context) {
	jobID, err := parsePathID(c, "job_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.queue.Retry(c.Request.Context(), jobID); err != nil {
		AbortWithError(c, err)
		return
	}
	s.log.Info("operator.job.retry", zap.String("job_id", jobID.String()), zap.String("remote_ip", c.ClientIP()))

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"job_id": jobID.String(), "status": jobqueue.StatusQueued}})
}

// JobStats reports per-status counts for one queue, or for every queue when
// none is named.
func (s *Server) JobStats(c *gin.Context) {
	queue := strings.TrimSpace(c.Query("queue"))
	queues := jobqueue.Queues
	if queue != "" {
		if !slices.Contains(jobqueue.Queues, queue) {
			AbortWithError(c, jobqueue.ErrInvalidQueue)
			return
		}
		queues = []string{queue}
	}

	out := make(map[string]map[jobqueue.Status]int64, len(queues))
	for _, name := range queues {
		stats, err := s.queue.Stats(c.Request.Context(), name)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		out[name] = stats
	}

	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) ReloadCatalog(c *gin.Context) {
	if err := s.catalog.Reload(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"factors": s.catalog.Size()}})
}
