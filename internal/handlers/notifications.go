package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/notify"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/store"
)

type NotificationHandler struct {
	Store   *store.Store
	Emitter *notify.Emitter
}

func NewNotificationHandler(s *store.Store, em *notify.Emitter) *NotificationHandler {
	return &NotificationHandler{Store: s, Emitter: em}
}

// GET /notifications?user_id=&unread=true
func (h *NotificationHandler) List(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	notifications, err := h.Store.ListNotifications(userID, c.Query("unread") == "true")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, notifications)
}

// POST /notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	err := h.Store.MarkNotificationRead(c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "read"})
	case errors.Is(err, store.ErrNotificationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// DELETE /notifications/:id
func (h *NotificationHandler) Delete(c *gin.Context) {
	err := h.Store.DeleteNotification(c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	case errors.Is(err, store.ErrNotificationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// GET /notifications/stream?user_id= — SSE over the redis channel.
// Clients that cannot hold the stream poll the list endpoint instead.
func (h *NotificationHandler) Stream(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	pubsub := h.Emitter.Subscribe(c.Request.Context(), userID)
	if pubsub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live notifications unavailable"})
		return
	}
	defer pubsub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ch := pubsub.Channel()
	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("notification", msg.Payload)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
