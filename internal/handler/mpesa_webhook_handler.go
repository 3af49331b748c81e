package handler

import (
	"io"
	"net/http"

	"paybridge/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxCallbackBody = 64 << 10

type MpesaWebhookHandler struct {
	recon *service.ReconciliationService
	log   *zap.Logger
}

func NewMpesaWebhookHandler(recon *service.ReconciliationService, log *zap.Logger) *MpesaWebhookHandler {
	return &MpesaWebhookHandler{recon: recon, log: log.Named("mpesa_callback")}
}

// Handle receives Daraja STK callbacks. Every delivery is answered with the
// accepted acknowledgement so Daraja stops retrying.
func (h *MpesaWebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		h.log.Warn("read body", zap.Error(err))
	}
	h.log.Debug("raw body", zap.ByteString("body", body))
	ack := h.recon.HandleCallback(c.Request.Context(), body, service.RequestMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	c.JSON(http.StatusOK, ack)
}
