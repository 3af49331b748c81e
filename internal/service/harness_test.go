package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"paybridge/internal/database"
	"paybridge/internal/models"
	"paybridge/internal/repository"
	"paybridge/pkg/payment"
	"paybridge/pkg/receipt"
	"paybridge/pkg/throttle"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeProvider struct {
	initiate func(ctx context.Context, req payment.InitiateRequest) (*payment.InitiateResponse, error)
	query    func(ctx context.Context, correlationID string) (*payment.Outcome, error)

	initiates atomic.Int32
	queries   atomic.Int32
}

func (f *fakeProvider) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.InitiateResponse, error) {
	f.initiates.Add(1)
	if f.initiate == nil {
		return nil, errors.New("initiate not expected")
	}
	return f.initiate(ctx, req)
}

func (f *fakeProvider) QueryStatus(ctx context.Context, correlationID string) (*payment.Outcome, error) {
	f.queries.Add(1)
	if f.query == nil {
		return nil, &payment.ProviderRejectedError{Op: "query", Code: "500.001.1001", Message: "The transaction is being processed"}
	}
	return f.query(ctx, correlationID)
}

type countingBookings struct {
	repo     *repository.BookingRepository
	confirms atomic.Int32
}

func (b *countingBookings) GetByReference(ctx context.Context, ref string) (*models.Booking, error) {
	return b.repo.GetByReference(ctx, ref)
}

func (b *countingBookings) MarkConfirmed(ctx context.Context, ref, paymentID string) error {
	b.confirms.Add(1)
	return b.repo.MarkConfirmed(ctx, ref, paymentID)
}

type fakeStore struct {
	mu      sync.Mutex
	uploads []string
	err     error
}

func (s *fakeStore) UploadDocument(_ context.Context, file io.Reader, folder, publicID string) (string, error) {
	if _, err := io.ReadAll(file); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.uploads = append(s.uploads, publicID)
	return "https://res.cloudinary.com/demo/raw/upload/" + folder + "/" + publicID, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

type fakePusher struct {
	sent atomic.Int32
	err  error
}

func (p *fakePusher) SendToDevice(_ context.Context, token, _, _, _ string, _ map[string]interface{}) error {
	if token == "" {
		return nil
	}
	p.sent.Add(1)
	return p.err
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (b *recordingBroadcaster) Publish(_ string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, payload.(StatusEvent))
}

func (b *recordingBroadcaster) last() StatusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.events[len(b.events)-1]
}

type harness struct {
	db          *gorm.DB
	payments    *repository.PaymentRepository
	bookings    *countingBookings
	auditLogs   *repository.AuditLogRepository
	provider    *fakeProvider
	store       *fakeStore
	pusher      *fakePusher
	broadcaster *recordingBroadcaster
	renders     atomic.Int32

	settlement *SettlementService
	recon      *ReconciliationService
	initiation *InitiationService
}

func newHarness(t *testing.T, pollWindow time.Duration) *harness {
	t.Helper()
	db, err := database.OpenMemory(uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	log := zap.NewNop()
	h := &harness{
		db:          db,
		payments:    repository.NewPaymentRepository(db),
		bookings:    &countingBookings{repo: repository.NewBookingRepository(db)},
		auditLogs:   repository.NewAuditLogRepository(db),
		provider:    &fakeProvider{},
		store:       &fakeStore{},
		pusher:      &fakePusher{},
		broadcaster: &recordingBroadcaster{},
	}
	audit := NewAuditTrail(h.auditLogs, log)
	notifications := NewNotificationService(repository.NewNotificationRepository(db), h.pusher, log)
	h.settlement = NewSettlementService(h.payments, h.bookings, h.store, "receipts", notifications, audit, log)
	h.settlement.render = func(d receipt.Data) ([]byte, error) {
		h.renders.Add(1)
		return receipt.Render(d)
	}
	h.recon = NewReconciliationService(h.payments, audit, h.provider, throttle.NewMemory(pollWindow), h.settlement, log,
		WithBroadcaster(h.broadcaster), WithEffectsTimeout(5*time.Second))
	h.initiation = NewInitiationService(h.payments, h.bookings, h.provider, audit, log)
	return h
}

func (h *harness) seedBooking(t *testing.T, ref string) {
	t.Helper()
	require.NoError(t, h.bookings.repo.Create(context.Background(), &models.Booking{
		Reference:     ref,
		CustomerName:  "Wanjiku Kamau",
		CustomerPhone: "254712345678",
		DeviceToken:   "device-token-1",
		TotalAmount:   decimal.NewFromInt(1500),
		Items: []models.BookingItem{
			{Description: "Deluxe room, 1 night", Quantity: 1, UnitPrice: decimal.NewFromInt(1200)},
			{Description: "Breakfast", Quantity: 2, UnitPrice: decimal.NewFromInt(150)},
		},
	}))
}

func (h *harness) seedPending(t *testing.T, ref, correlationID string) *models.PaymentAttempt {
	t.Helper()
	p := &models.PaymentAttempt{
		BookingReference:      ref,
		Amount:                decimal.NewFromInt(1500),
		PayerContact:          "254712345678",
		ProviderRequestID:     "29115-34620561-1",
		ProviderCorrelationID: correlationID,
	}
	require.NoError(t, h.payments.Create(context.Background(), p))
	return p
}

func (h *harness) flagged(t *testing.T) []models.TransactionLog {
	t.Helper()
	list, err := h.auditLogs.ListFlagged(context.Background(), 100, 0)
	require.NoError(t, err)
	return list
}

func callbackBody(correlationID string, code int, receiptNumber string) []byte {
	if code != payment.ResultCodeSuccess {
		return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":%q,"ResultCode":%d,"ResultDesc":"Request cancelled by user"}}}`,
			correlationID, code))
	}
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":%q,"ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[{"Name":"Amount","Value":1500.00},{"Name":"MpesaReceiptNumber","Value":%q},{"Name":"TransactionDate","Value":20260301123115},{"Name":"PhoneNumber","Value":254712345678}]}}}}`,
		correlationID, receiptNumber))
}

func pollSuccess(receiptNumber string) func(context.Context, string) (*payment.Outcome, error) {
	return func(_ context.Context, correlationID string) (*payment.Outcome, error) {
		return &payment.Outcome{
			CorrelationID:     correlationID,
			ResultCode:        payment.ResultCodeSuccess,
			ResultDescription: "The service request is processed successfully.",
			ReceiptNumber:     receiptNumber,
			Channel:           payment.ChannelPoll,
		}, nil
	}
}
