package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/queue"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/store"
)

type JobHandler struct {
	Store     *store.Store
	Scheduler *queue.Scheduler
}

func NewJobHandler(s *store.Store, sched *queue.Scheduler) *JobHandler {
	return &JobHandler{Store: s, Scheduler: sched}
}

// GET /jobs/:jobId
func (h *JobHandler) Get(c *gin.Context) {
	job, err := h.Store.GetJob(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// DELETE /jobs/:jobId — cancel, valid for pending/queued only.
func (h *JobHandler) Cancel(c *gin.Context) {
	err := h.Scheduler.Cancel(c.Param("jobId"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	case errors.Is(err, store.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, store.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "only pending or queued jobs can be cancelled"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// POST /jobs/:jobId/retry — valid for failed only.
func (h *JobHandler) Retry(c *gin.Context) {
	job, position, err := h.Scheduler.Retry(c.Request.Context(), c.Param("jobId"))
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{
			"job_id":         job.ID,
			"status":         job.Status,
			"queue_position": position,
		})
	case errors.Is(err, store.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, store.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "only failed jobs can be retried"})
	case errors.Is(err, store.ErrBuildInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "website already has an active build"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// GET /jobs/:jobId/queue-position
func (h *JobHandler) QueuePosition(c *gin.Context) {
	position, err := h.Scheduler.QueuePosition(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue_position": position})
}

// GET /queue/stats
func (h *JobHandler) Stats(c *gin.Context) {
	stats, err := h.Scheduler.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
