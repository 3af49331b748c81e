package handler

import (
	"net/http"

	"paybridge/internal/repository"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	repo *repository.NotificationRepository
}

func NewNotificationHandler(repo *repository.NotificationRepository) *NotificationHandler {
	return &NotificationHandler{repo: repo}
}

// ListByBooking returns every notification sent for a booking, newest first.
func (h *NotificationHandler) ListByBooking(c *gin.Context) {
	list, err := h.repo.ListByBooking(c.Request.Context(), c.Param("reference"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}
