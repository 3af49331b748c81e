package repository

import (
	"context"
	"errors"
	"time"

	"paybridge/internal/domain"
	"paybridge/internal/models"
	"paybridge/pkg/payment"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ApplyResult reports what ApplyOutcome did to the ledger.
type ApplyResult int

const (
	ApplyNotFound ApplyResult = iota
	Applied
	AlreadyTerminal
)

func (r ApplyResult) String() string {
	switch r {
	case Applied:
		return "applied"
	case AlreadyTerminal:
		return "already_terminal"
	default:
		return "not_found"
	}
}

// PaymentRepository is the payment ledger. ApplyOutcome is the only method
// that moves an attempt out of PENDING.
type PaymentRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db, now: time.Now}
}

// Create inserts a PENDING attempt unless the booking is already paid.
func (r *PaymentRepository) Create(ctx context.Context, p *models.PaymentAttempt) error {
	p.State = domain.StatePending
	p.CompletedBooking = nil
	p.EffectsApplied = false
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		err := tx.Model(&models.PaymentAttempt{}).
			Where("booking_reference = ? AND state = ?", p.BookingReference, domain.StateCompleted).
			Count(&n).Error
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrDuplicateActiveAttempt
		}
		return tx.Create(p).Error
	})
}

func (r *PaymentRepository) HasCompleted(ctx context.Context, bookingRef string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.PaymentAttempt{}).
		Where("booking_reference = ? AND state = ?", bookingRef, domain.StateCompleted).
		Count(&n).Error
	return n > 0, err
}

// ApplyOutcome settles the PENDING attempt keyed by correlationID with a single
// conditional update. Of any number of concurrent callers exactly one sees
// Applied; the rest see AlreadyTerminal. The returned attempt is the row as it
// stands after the call (nil for ApplyNotFound).
func (r *PaymentRepository) ApplyOutcome(ctx context.Context, correlationID string, o *payment.Outcome) (ApplyResult, *models.PaymentAttempt, error) {
	state := domain.StateForResultCode(o.ResultCode)
	updates := r.settlementUpdates(o, state)
	if state == domain.StateCompleted {
		updates["provider_receipt_number"] = o.ReceiptNumber
		updates["completed_booking"] = gorm.Expr("booking_reference")
	}
	res := r.pending(ctx, correlationID).Updates(updates)
	if res.Error != nil {
		if state == domain.StateCompleted && errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return r.applyDuplicateSettlement(ctx, correlationID, o)
		}
		return ApplyNotFound, nil, res.Error
	}
	return r.afterUpdate(ctx, correlationID, res.RowsAffected)
}

// applyDuplicateSettlement records a successful payment for a booking that
// another attempt already settled. The attempt cannot become COMPLETED; it is
// closed as FAILED with the provider result kept verbatim and marked for refund.
func (r *PaymentRepository) applyDuplicateSettlement(ctx context.Context, correlationID string, o *payment.Outcome) (ApplyResult, *models.PaymentAttempt, error) {
	updates := r.settlementUpdates(o, domain.StateFailed)
	updates["provider_receipt_number"] = o.ReceiptNumber
	updates["duplicate_settlement"] = true
	res := r.pending(ctx, correlationID).Updates(updates)
	if res.Error != nil {
		return ApplyNotFound, nil, res.Error
	}
	return r.afterUpdate(ctx, correlationID, res.RowsAffected)
}

func (r *PaymentRepository) pending(ctx context.Context, correlationID string) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.PaymentAttempt{}).
		Where("provider_correlation_id = ? AND state = ?", correlationID, domain.StatePending)
}

func (r *PaymentRepository) settlementUpdates(o *payment.Outcome, state domain.PaymentState) map[string]interface{} {
	updates := map[string]interface{}{
		"state":              state,
		"result_code":        o.ResultCode,
		"result_description": o.ResultDescription,
		"settled_at":         r.now().UTC(),
		"settled_via":        string(o.Channel),
	}
	if o.Amount != nil {
		updates["paid_amount"] = decimal.NewNullDecimal(*o.Amount)
	}
	if o.Phone != "" {
		updates["paid_phone"] = o.Phone
	}
	if o.TransactionDate != nil {
		updates["transaction_date"] = o.TransactionDate.UTC()
	}
	return updates
}

// afterUpdate turns the row count of the conditional update into a verdict.
// One affected row is a win whatever happens to the reload that follows, so
// the reload ignores cancellation of ctx.
func (r *PaymentRepository) afterUpdate(ctx context.Context, correlationID string, affected int64) (ApplyResult, *models.PaymentAttempt, error) {
	p, err := r.GetByCorrelationID(context.WithoutCancel(ctx), correlationID)
	if affected == 1 {
		return Applied, p, err
	}
	if errors.Is(err, domain.ErrNotFound) {
		return ApplyNotFound, nil, nil
	}
	if err != nil {
		return ApplyNotFound, nil, err
	}
	return AlreadyTerminal, p, nil
}

// FillReceiptNumber records the M-Pesa receipt on a COMPLETED attempt that was
// settled without one. It never overwrites an existing receipt number.
func (r *PaymentRepository) FillReceiptNumber(ctx context.Context, id, receiptNumber string) (bool, error) {
	if receiptNumber == "" {
		return false, nil
	}
	res := r.db.WithContext(ctx).Model(&models.PaymentAttempt{}).
		Where("id = ? AND state = ? AND provider_receipt_number = ?", id, domain.StateCompleted, "").
		Update("provider_receipt_number", receiptNumber)
	return res.RowsAffected == 1, res.Error
}

// MarkEffectsApplied flips effects_applied once, and only for a COMPLETED row.
func (r *PaymentRepository) MarkEffectsApplied(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.PaymentAttempt{}).
		Where("id = ? AND state = ? AND effects_applied = ?", id, domain.StateCompleted, false).
		Update("effects_applied", true)
	return res.RowsAffected == 1, res.Error
}

func (r *PaymentRepository) SetReceiptURL(ctx context.Context, id, url string) error {
	return r.db.WithContext(ctx).Model(&models.PaymentAttempt{}).
		Where("id = ?", id).
		Update("receipt_url", url).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*models.PaymentAttempt, error) {
	var p models.PaymentAttempt
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	return found(&p, err)
}

func (r *PaymentRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*models.PaymentAttempt, error) {
	var p models.PaymentAttempt
	err := r.db.WithContext(ctx).Where("provider_correlation_id = ?", correlationID).First(&p).Error
	return found(&p, err)
}

// LatestByBooking prefers the completed attempt, then the most recent one.
func (r *PaymentRepository) LatestByBooking(ctx context.Context, bookingRef string) (*models.PaymentAttempt, error) {
	var p models.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("booking_reference = ?", bookingRef).
		Order("CASE WHEN state = '" + string(domain.StateCompleted) + "' THEN 0 ELSE 1 END, created_at DESC").
		First(&p).Error
	return found(&p, err)
}

// ListStalePending returns PENDING attempts created before cutoff, oldest first.
func (r *PaymentRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentAttempt, error) {
	var list []models.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("state = ? AND created_at < ?", domain.StatePending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// ListEffectsPending returns COMPLETED attempts settled before cutoff whose
// effects never ran, oldest first.
func (r *PaymentRepository) ListEffectsPending(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentAttempt, error) {
	var list []models.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("state = ? AND effects_applied = ? AND settled_at < ?", domain.StateCompleted, false, cutoff.UTC()).
		Order("settled_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func found(p *models.PaymentAttempt, err error) (*models.PaymentAttempt, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
