package service

import (
	"context"
	"encoding/json"
	"time"

	"paybridge/internal/domain"
	"paybridge/internal/models"
	"paybridge/internal/repository"
	"paybridge/pkg/events"
	"paybridge/pkg/payment"
	"paybridge/pkg/throttle"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Effects runs settlement effects. *SettlementService implements it.
type Effects interface {
	Run(ctx context.Context, p *models.PaymentAttempt) error
	Rerun(ctx context.Context, p *models.PaymentAttempt) error
}

// Broadcaster pushes payment updates to live subscribers. *ws.Hub implements it.
type Broadcaster interface {
	Publish(paymentID string, payload interface{})
}

// RequestMeta describes the HTTP request that delivered a callback.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// ReconciliationService settles attempts from either channel. The webhook and
// the status poll both end in reconcile, and only ApplyOutcome decides which
// of them wins.
type ReconciliationService struct {
	payments       *repository.PaymentRepository
	audit          *AuditTrail
	provider       payment.Provider
	limiter        throttle.Limiter
	effects        Effects
	events         *events.Publisher
	broadcaster    Broadcaster
	effectsTimeout time.Duration
	log            *zap.Logger
}

type ReconcileOption func(*ReconciliationService)

func WithEvents(p *events.Publisher) ReconcileOption {
	return func(s *ReconciliationService) { s.events = p }
}

func WithBroadcaster(b Broadcaster) ReconcileOption {
	return func(s *ReconciliationService) { s.broadcaster = b }
}

func WithEffectsTimeout(d time.Duration) ReconcileOption {
	return func(s *ReconciliationService) {
		if d > 0 {
			s.effectsTimeout = d
		}
	}
}

func NewReconciliationService(
	payments *repository.PaymentRepository,
	audit *AuditTrail,
	provider payment.Provider,
	limiter throttle.Limiter,
	effects Effects,
	log *zap.Logger,
	opts ...ReconcileOption,
) *ReconciliationService {
	s := &ReconciliationService{
		payments:       payments,
		audit:          audit,
		provider:       provider,
		limiter:        limiter,
		effects:        effects,
		effectsTimeout: 30 * time.Second,
		log:            log.Named("reconcile"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// HandleCallback processes one webhook delivery. The provider always gets the
// accepted acknowledgement; anything this service cannot act on is flagged in
// the audit log instead.
func (s *ReconciliationService) HandleCallback(ctx context.Context, raw []byte, meta RequestMeta) payment.AckResponse {
	// A delivery that reached the ledger is processed to the end even if the
	// provider hangs up.
	ctx = context.WithoutCancel(ctx)
	o, err := payment.ParseCallback(raw)
	entry := &models.TransactionLog{
		Direction: domain.DirectionInbound,
		Event:     domain.EventCallback,
		RawBody:   string(raw),
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	}
	if err != nil {
		s.log.Warn("malformed callback", zap.Error(err), zap.ByteString("body", raw))
		entry.Flagged = true
		entry.Note = truncate("malformed callback: "+err.Error(), 255)
		s.audit.Record(ctx, entry)
		return payment.Accepted()
	}
	entry.CorrelationID = o.CorrelationID
	entry.Metadata = datatypes.JSONMap{"result_code": o.ResultCode, "merchant_request_id": o.RequestID}
	s.audit.Record(ctx, entry)

	o.Channel = payment.ChannelWebhook
	if _, _, err := s.reconcile(ctx, o); err != nil {
		s.log.Error("apply callback outcome", zap.String("correlation_id", o.CorrelationID), zap.Error(err))
	}
	return payment.Accepted()
}

// Status returns the current projection of an attempt. A PENDING attempt is
// polled at the provider first; a terminal one is returned as stored.
func (s *ReconciliationService) Status(ctx context.Context, q StatusQuery) (*Projection, error) {
	p, err := s.lookup(ctx, q)
	if err != nil {
		return nil, err
	}
	if p.State == domain.StatePending {
		p = s.poll(ctx, p)
	}
	return NewProjection(p), nil
}

// RerunEffects repeats settlement effects for a completed attempt on operator request.
func (s *ReconciliationService) RerunEffects(ctx context.Context, paymentID, actor string) (*Projection, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.State != domain.StateCompleted {
		return nil, domain.ErrNotCompleted
	}
	s.audit.Record(ctx, &models.TransactionLog{
		CorrelationID: p.ProviderCorrelationID,
		PaymentID:     p.ID,
		Direction:     domain.DirectionInternal,
		Event:         domain.EventEffects,
		Note:          "operator re-run",
		Metadata:      datatypes.JSONMap{"actor": actor},
	})
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.effectsTimeout)
	defer cancel()
	if err := s.effects.Rerun(ectx, p); err != nil {
		return nil, err
	}
	fresh, err := s.payments.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	s.broadcast(fresh)
	return NewProjection(fresh), nil
}

// ResumeEffects runs effects for a COMPLETED attempt whose winning request
// stopped before they ran.
func (s *ReconciliationService) ResumeEffects(ctx context.Context, p *models.PaymentAttempt) *models.PaymentAttempt {
	if p.State != domain.StateCompleted || p.EffectsApplied {
		return p
	}
	s.log.Warn("resuming settlement effects", zap.String("payment_id", p.ID), zap.String("correlation_id", p.ProviderCorrelationID))
	s.runEffects(ctx, p)
	fresh, err := s.payments.GetByID(context.WithoutCancel(ctx), p.ID)
	if err != nil {
		return p
	}
	s.broadcast(fresh)
	return fresh
}

func (s *ReconciliationService) lookup(ctx context.Context, q StatusQuery) (*models.PaymentAttempt, error) {
	switch {
	case q.PaymentID != "":
		return s.payments.GetByID(ctx, q.PaymentID)
	case q.CorrelationID != "":
		return s.payments.GetByCorrelationID(ctx, q.CorrelationID)
	case q.BookingReference != "":
		return s.payments.LatestByBooking(ctx, q.BookingReference)
	default:
		return nil, &payment.ValidationError{Field: "query", Message: "payment id, booking reference or checkout request id required"}
	}
}

// poll asks the provider for the outcome of a PENDING attempt. Any failure
// leaves the attempt as stored; the caller still gets a projection.
func (s *ReconciliationService) poll(ctx context.Context, p *models.PaymentAttempt) *models.PaymentAttempt {
	// In-flight provider calls finish even if the reader goes away.
	ctx = context.WithoutCancel(ctx)
	correlationID := p.ProviderCorrelationID
	log := s.log.With(zap.String("payment_id", p.ID), zap.String("correlation_id", correlationID))

	allowed, err := s.limiter.Allow(ctx, correlationID)
	if err != nil {
		log.Warn("poll throttle unavailable, polling anyway", zap.Error(err))
		allowed = true
	}
	if !allowed {
		log.Debug("poll throttled")
		return p
	}

	reqBody, _ := json.Marshal(map[string]string{"CheckoutRequestID": correlationID})
	s.audit.Record(ctx, &models.TransactionLog{
		CorrelationID: correlationID,
		PaymentID:     p.ID,
		Direction:     domain.DirectionOutbound,
		Event:         domain.EventQueryRequest,
		RawBody:       string(reqBody),
	})

	o, err := s.provider.QueryStatus(ctx, correlationID)
	if err != nil {
		note := "query failed: " + err.Error()
		if payment.IsStillProcessing(err) {
			note = "still processing"
			log.Debug("provider still processing")
		} else {
			log.Warn("status query failed", zap.Error(err))
		}
		s.audit.Record(ctx, &models.TransactionLog{
			CorrelationID: correlationID,
			PaymentID:     p.ID,
			Direction:     domain.DirectionInbound,
			Event:         domain.EventQueryResponse,
			Note:          truncate(note, 255),
		})
		return p
	}

	respBody, _ := json.Marshal(o)
	s.audit.Record(ctx, &models.TransactionLog{
		CorrelationID: correlationID,
		PaymentID:     p.ID,
		Direction:     domain.DirectionInbound,
		Event:         domain.EventQueryResponse,
		RawBody:       string(respBody),
		Metadata:      datatypes.JSONMap{"result_code": o.ResultCode},
	})

	o.CorrelationID = correlationID
	o.Channel = payment.ChannelPoll
	_, fresh, err := s.reconcile(ctx, o)
	if err != nil {
		log.Error("apply poll outcome", zap.Error(err))
		return p
	}
	if fresh == nil {
		return p
	}
	return fresh
}

// reconcile is the single path from an observed outcome to the ledger.
func (s *ReconciliationService) reconcile(ctx context.Context, o *payment.Outcome) (repository.ApplyResult, *models.PaymentAttempt, error) {
	res, p, err := s.payments.ApplyOutcome(ctx, o.CorrelationID, o)
	if err != nil {
		if res == repository.Applied {
			// The sweeper resumes effects for this row.
			s.log.Error("attempt settled but not reloaded", zap.String("correlation_id", o.CorrelationID), zap.Error(err))
		}
		return res, nil, err
	}
	log := s.log.With(
		zap.String("correlation_id", o.CorrelationID),
		zap.String("channel", string(o.Channel)),
		zap.Int("result_code", o.ResultCode),
		zap.Stringer("result", res))
	entry := &models.TransactionLog{
		CorrelationID: o.CorrelationID,
		Direction:     domain.DirectionInternal,
		Event:         domain.EventSettlement,
		Metadata: datatypes.JSONMap{
			"result":      res.String(),
			"channel":     string(o.Channel),
			"result_code": o.ResultCode,
		},
	}

	switch res {
	case repository.ApplyNotFound:
		log.Warn("outcome for unknown attempt")
		entry.Flagged = true
		entry.Note = "unknown correlation id"
		s.audit.Record(ctx, entry)
		return res, nil, nil

	case repository.AlreadyTerminal:
		entry.PaymentID = p.ID
		entry.Metadata["state"] = string(p.State)
		switch {
		case o.Succeeded() && p.State != domain.StateCompleted:
			entry.Flagged = true
			entry.Note = "late success after terminal state"
			log.Warn("success reported for an attempt already settled as " + string(p.State))
		case o.Succeeded() && p.ProviderReceiptNumber == "" && o.ReceiptNumber != "":
			filled, err := s.payments.FillReceiptNumber(ctx, p.ID, o.ReceiptNumber)
			if err != nil {
				log.Warn("fill receipt number", zap.Error(err))
			} else if filled {
				p.ProviderReceiptNumber = o.ReceiptNumber
				entry.Note = "receipt number filled"
				entry.Metadata["receipt_number"] = o.ReceiptNumber
				log.Info("receipt number filled from late outcome", zap.String("receipt", o.ReceiptNumber))
			}
		case domain.StateForResultCode(o.ResultCode) != p.State:
			entry.Note = "outcome disagrees with settled state"
			log.Info("late outcome ignored", zap.String("state", string(p.State)))
		default:
			log.Debug("duplicate outcome ignored")
		}
		s.audit.Record(ctx, entry)
		return res, p, nil
	}

	entry.PaymentID = p.ID
	entry.Metadata["state"] = string(p.State)
	if p.DuplicateSettlement {
		entry.Flagged = true
		entry.Note = "duplicate settlement, refund required"
		log.Error("booking already paid by another attempt, refund required",
			zap.String("booking", p.BookingReference),
			zap.String("receipt", p.ProviderReceiptNumber))
	} else {
		log.Info("attempt settled", zap.String("state", string(p.State)), zap.String("receipt", p.ProviderReceiptNumber))
	}
	s.audit.Record(ctx, entry)
	s.publish(ctx, p)

	if p.State == domain.StateCompleted && !p.EffectsApplied {
		s.runEffects(ctx, p)
		if fresh, err := s.payments.GetByID(ctx, p.ID); err == nil {
			p = fresh
		}
	}
	s.broadcast(p)
	return res, p, nil
}

func (s *ReconciliationService) runEffects(ctx context.Context, p *models.PaymentAttempt) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.effectsTimeout)
	defer cancel()
	if err := s.effects.Run(ctx, p); err != nil {
		s.log.Error("settlement effects", zap.String("payment_id", p.ID), zap.Error(err))
	}
}

func (s *ReconciliationService) publish(ctx context.Context, p *models.PaymentAttempt) {
	if s.events == nil {
		return
	}
	ev := events.Settled{
		PaymentID:           p.ID,
		BookingReference:    p.BookingReference,
		CorrelationID:       p.ProviderCorrelationID,
		State:               string(p.State),
		ResultDescription:   p.ResultDescription,
		ReceiptNumber:       p.ProviderReceiptNumber,
		Amount:              p.Amount.String(),
		Currency:            p.Currency,
		SettledVia:          p.SettledVia,
		DuplicateSettlement: p.DuplicateSettlement,
	}
	if p.ResultCode != nil {
		ev.ResultCode = *p.ResultCode
	}
	if p.SettledAt != nil {
		ev.SettledAt = *p.SettledAt
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.events.PublishSettled(ctx, ev); err != nil {
		s.log.Warn("publish settled event", zap.String("payment_id", p.ID), zap.Error(err))
	}
}

func (s *ReconciliationService) broadcast(p *models.PaymentAttempt) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(p.ID, StatusEvent{Type: StatusEventType, Payment: NewProjection(p)})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
