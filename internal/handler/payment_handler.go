package handler

import (
	"errors"
	"net/http"

	"paybridge/internal/domain"
	"paybridge/internal/middleware"
	"paybridge/internal/service"
	"paybridge/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	initiation *service.InitiationService
	recon      *service.ReconciliationService
	log        *zap.Logger
}

func NewPaymentHandler(initiation *service.InitiationService, recon *service.ReconciliationService, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{initiation: initiation, recon: recon, log: log.Named("payments")}
}

type initiateRequest struct {
	BookingReference string          `json:"booking_reference" binding:"required,max=64"`
	Phone            string          `json:"phone" binding:"required"`
	Amount           decimal.Decimal `json:"amount"`
}

// Initiate sends the STK push and returns the PENDING attempt.
func (h *PaymentHandler) Initiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	proj, err := h.initiation.Initiate(c.Request.Context(), service.InitiateInput{
		BookingReference: req.BookingReference,
		Phone:            req.Phone,
		Amount:           req.Amount,
	})
	if err != nil {
		var verr *payment.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
		case errors.Is(err, domain.ErrBookingNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
		case errors.Is(err, domain.ErrDuplicateActiveAttempt):
			c.JSON(http.StatusConflict, gin.H{"error": "booking is already paid"})
		case payment.IsUnavailable(err) || payment.IsRejected(err):
			c.JSON(http.StatusBadGateway, gin.H{"error": "payment could not be started, try again"})
		default:
			h.log.Error("initiate", zap.String("booking", req.BookingReference), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "payment could not be started, try again"})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"payment": proj,
		"message": "Check your phone to complete the M-Pesa payment.",
	})
}

func (h *PaymentHandler) Get(c *gin.Context) {
	h.status(c, service.StatusQuery{PaymentID: c.Param("id")})
}

func (h *PaymentHandler) GetByCheckout(c *gin.Context) {
	h.status(c, service.StatusQuery{CorrelationID: c.Param("correlation_id")})
}

func (h *PaymentHandler) GetByBooking(c *gin.Context) {
	h.status(c, service.StatusQuery{BookingReference: c.Param("reference")})
}

func (h *PaymentHandler) status(c *gin.Context, q service.StatusQuery) {
	proj, err := h.recon.Status(c.Request.Context(), q)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
		case payment.IsValidation(err):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.log.Error("status", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": proj})
}

// RerunEffects repeats settlement effects for a completed payment.
func (h *PaymentHandler) RerunEffects(c *gin.Context) {
	proj, err := h.recon.RerunEffects(c.Request.Context(), c.Param("id"), middleware.GetSubject(c))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
		case errors.Is(err, domain.ErrNotCompleted):
			c.JSON(http.StatusConflict, gin.H{"error": "payment is not completed"})
		default:
			h.log.Error("rerun effects", zap.String("payment_id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "re-run failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": proj})
}
