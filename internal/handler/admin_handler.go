package handler

import (
	"net/http"
	"strconv"

	"paybridge/internal/repository"

	"github.com/gin-gonic/gin"
)

// AdminHandler exposes the transaction log for operator review.
type AdminHandler struct {
	auditRepo *repository.AuditLogRepository
}

func NewAdminHandler(auditRepo *repository.AuditLogRepository) *AdminHandler {
	return &AdminHandler{auditRepo: auditRepo}
}

// ListFlagged returns audit entries that need review: malformed or unknown
// callbacks, late successes, duplicate settlements and failed effects.
func (h *AdminHandler) ListFlagged(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	list, err := h.auditRepo.ListFlagged(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": list, "limit": limit, "offset": offset})
}

// Trail returns every audit entry for one checkout request id, oldest first.
func (h *AdminHandler) Trail(c *gin.Context) {
	list, err := h.auditRepo.ListByCorrelationID(c.Request.Context(), c.Param("correlation_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": list})
}
