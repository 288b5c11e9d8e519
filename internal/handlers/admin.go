package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/reaper"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/store"
)

type AdminHandler struct {
	Reaper *reaper.Reaper
}

func NewAdminHandler(r *reaper.Reaper) *AdminHandler {
	return &AdminHandler{Reaper: r}
}

// POST /admin/cleanup/:websiteId
func (h *AdminHandler) ForceCleanup(c *gin.Context) {
	err := h.Reaper.ForceCleanup(c.Param("websiteId"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "cleaned"})
	case errors.Is(err, store.ErrWebsiteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "website not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// POST /admin/cleanup — run a full sweep on demand.
func (h *AdminHandler) Sweep(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.Reaper.Sweep(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.Reaper.SweepOrphans(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "swept"})
}

// GET /admin/disk-usage
func (h *AdminHandler) DiskUsage(c *gin.Context) {
	bytes, err := h.Reaper.ReportDiskUsage(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bytes": bytes})
}
