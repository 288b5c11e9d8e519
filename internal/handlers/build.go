package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/models"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/procs"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/queue"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/store"
)

type BuildHandler struct {
	Store     *store.Store
	Scheduler *queue.Scheduler
	Registry  *procs.Registry
}

func NewBuildHandler(s *store.Store, sched *queue.Scheduler, reg *procs.Registry) *BuildHandler {
	return &BuildHandler{Store: s, Scheduler: sched, Registry: reg}
}

type enqueueRequest struct {
	WebsiteID string `json:"website_id" binding:"required"`
	UserID    string `json:"user_id"`
	Priority  int    `json:"priority"`
}

// POST /builds
func (h *BuildHandler) Enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	job, position, err := h.Scheduler.Enqueue(c.Request.Context(), req.WebsiteID, req.UserID, req.Priority)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrWebsiteNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "website not found"})
		case errors.Is(err, store.ErrBuildInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": "website already has an active build"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":         job.ID,
		"status":         job.Status,
		"queue_position": position,
	})
}

// GET /builds/:websiteId/status
func (h *BuildHandler) Status(c *gin.Context) {
	websiteID := c.Param("websiteId")
	website, err := h.Store.GetWebsite(websiteID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "website not found"})
		return
	}

	resp := gin.H{"website": website}
	if job, err := h.Store.LatestJobForWebsite(websiteID); err == nil {
		resp["job"] = job
	}
	if handle, ok := h.Registry.Get(websiteID); ok {
		resp["process"] = gin.H{
			"pid":            handle.PID,
			"port":           handle.Port,
			"uptime_seconds": int(time.Since(handle.StartedAt).Seconds()),
			"exited":         handle.Exited(),
		}
	}
	c.JSON(http.StatusOK, resp)
}

// POST /builds/:websiteId/stop
func (h *BuildHandler) Stop(c *gin.Context) {
	websiteID := c.Param("websiteId")
	if _, err := h.Store.GetWebsite(websiteID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "website not found"})
		return
	}
	if err := h.Scheduler.StopBuild(websiteID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

type restartRequest struct {
	UserID   string `json:"user_id"`
	Priority int    `json:"priority"`
}

// POST /builds/:websiteId/restart
func (h *BuildHandler) Restart(c *gin.Context) {
	websiteID := c.Param("websiteId")
	var req restartRequest
	_ = c.ShouldBindJSON(&req)

	job, position, err := h.Scheduler.Restart(c.Request.Context(), websiteID, req.UserID, req.Priority)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrWebsiteNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "website not found"})
		case errors.Is(err, store.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "restart only valid from failed or stopped"})
		case errors.Is(err, store.ErrBuildInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": "website already has an active build"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":         job.ID,
		"status":         models.JobStatusQueued,
		"queue_position": position,
	})
}
