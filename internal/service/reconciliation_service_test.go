package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"paybridge/internal/domain"
	"paybridge/pkg/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testMeta = RequestMeta{IP: "196.201.214.200", UserAgent: "Apache-HttpClient/4.5.5"}

func TestHandleCallback_SettlesAndRunsEffectsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	h.seedBooking(t, "BK-100")
	p := h.seedPending(t, "BK-100", "ws_CO_1")

	ack := h.recon.HandleCallback(ctx, callbackBody("ws_CO_1", 0, "R123"), testMeta)
	assert.Equal(t, payment.Accepted(), ack)

	got, err := h.payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, got.State)
	assert.Equal(t, "R123", got.ProviderReceiptNumber)
	assert.Equal(t, "webhook", got.SettledVia)
	assert.True(t, got.EffectsApplied)
	assert.Contains(t, got.ReceiptURL, "BK-100-"+p.ID+".pdf")
	assert.True(t, got.PaidAmount.Valid)

	booking, err := h.bookings.repo.GetByReference(ctx, "BK-100")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusConfirmed, booking.Status)

	// Redelivery of the same body.
	ack = h.recon.HandleCallback(ctx, callbackBody("ws_CO_1", 0, "R123"), testMeta)
	assert.Equal(t, payment.Accepted(), ack)

	assert.EqualValues(t, 1, h.bookings.confirms.Load())
	assert.EqualValues(t, 1, h.renders.Load())
	assert.Equal(t, 1, h.store.count())
	assert.EqualValues(t, 1, h.pusher.sent.Load())
	assert.Empty(t, h.flagged(t))
}

func TestHandleCallback_MalformedIsAcknowledgedAndFlagged(t *testing.T) {
	h := newHarness(t, 0)
	for _, body := range []string{`not json`, `{"Body":{"stkCallback":{"ResultCode":0}}}`, `{}`} {
		ack := h.recon.HandleCallback(context.Background(), []byte(body), testMeta)
		assert.Equal(t, payment.Accepted(), ack)
	}
	flagged := h.flagged(t)
	require.Len(t, flagged, 3)
	for _, e := range flagged {
		assert.True(t, strings.HasPrefix(e.Note, "malformed callback"), e.Note)
		assert.Equal(t, domain.EventCallback, e.Event)
		assert.Equal(t, testMeta.IP, e.IP)
	}
}

func TestHandleCallback_UnknownCorrelationIsFlagged(t *testing.T) {
	h := newHarness(t, 0)
	ack := h.recon.HandleCallback(context.Background(), callbackBody("ws_CO_unknown", 0, "R1"), testMeta)
	assert.Equal(t, payment.Accepted(), ack)

	flagged := h.flagged(t)
	require.Len(t, flagged, 1)
	assert.Equal(t, "unknown correlation id", flagged[0].Note)
	assert.Equal(t, "ws_CO_unknown", flagged[0].CorrelationID)
}

func TestHandleCallback_CancelledRunsNoEffects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	h.seedBooking(t, "BK-100")
	p := h.seedPending(t, "BK-100", "ws_CO_1")

	h.recon.HandleCallback(ctx, callbackBody("ws_CO_1", payment.ResultCodeUserCancelled, ""), testMeta)

	got, err := h.payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, got.State)
	assert.Equal(t, "Request cancelled by user", got.ResultDescription)
	assert.False(t, got.EffectsApplied)
	assert.Zero(t, h.bookings.confirms.Load())
	assert.Equal(t, domain.StateCancelled, h.broadcaster.last().Payment.State)
}

func TestHandleCallback_LateSuccessAfterCancelIsFlagged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	h.seedBooking(t, "BK-100")
	p := h.seedPending(t, "BK-100", "ws_CO_1")

	h.recon.HandleCallback(ctx, callbackBody("ws_CO_1", payment.ResultCodeUserCancelled, ""), testMeta)
	h.recon.HandleCallback(ctx, callbackBody("ws_CO_1", 0, "R123"), testMeta)

	got, err := h.payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, got.State)
	assert.Empty(t, got.ProviderReceiptNumber)
	assert.Zero(t, h.bookings.confirms.Load())

	flagged := h.flagged(t)
	require.Len(t, flagged, 1)
	assert.Equal(t, "late success after terminal state", flagged[0].Note)
}

func TestHandleCallback_DuplicateSettlementRunsNoEffects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	h.seedBooking(t, "BK-100")
	h.seedPending(t, "BK-100", "ws_CO_a")
	second := h.seedPending(t, "BK-100", "ws_CO_b")

	h.recon.HandleCallback(ctx, callbackBody("ws_CO_a", 0, "RCPT-A"), testMeta)
	h.recon.HandleCallback(ctx, callbackBody("ws_CO_b", 0, "RCPT-B"), testMeta)

	got, err := h.payments.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, got.State)
	assert.True(t, got.DuplicateSettlement)
	assert.False(t, got.EffectsApplied)
	assert.EqualValues(t, 1, h.bookings.confirms.Load())

	flagged := h.flagged(t)
	require.Len(t, flagged, 1)
	assert.Equal(t, "duplicate settlement, refund required", flagged[0].Note)
	assert.Equal(t, second.ID, flagged[0].PaymentID)
}

func TestStatus_PollSettlesPendingAttempt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	h.seedBooking(t, "BK-100")
	p := h.seedPending(t, "BK-100", "ws_CO_1")
	h.provider.query = pollSuccess("R123")

	proj, err := h.recon.Status(ctx, StatusQuery{PaymentID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, proj.State)
	assert.Equal(t, "R123", proj.ReceiptNumber)
	assert.Equal(t, "poll", proj.SettledVia)
	assert.True(t, proj.EffectsApplied)
	assert.NotEmpty(t, proj.ReceiptURL)

	// Terminal now: no further provider calls, whichever key is used.
	for _, q := range []StatusQuery{{PaymentID: p.ID}, {CorrelationID: "ws_CO_1"}, {BookingReference: "BK-100"}} {
		proj, err = h.recon.Status(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, domain.StateCompleted, proj.State)
	}
	assert.EqualValues(t, 1, h.provider.queries.Load())
	assert.EqualValues(t, 1, h.bookings.confirms.Load())
}

func TestStatus_ProviderTroubleReturnsStoredPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	h.seedBooking(t, "BK-100")
	p := h.seedPending(t, "BK-100", "ws_CO_1")

	// Still processing.
	proj, err := h.recon.Status(ctx, StatusQuery{PaymentID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, proj.State)

	h.provider.query = func(context.Context, string) (*payment.Outcome, error) {
		return nil, &payment.ProviderUnavailableError{Op: "query", Err: errors.New("i/o timeout")}
	}
	proj, err = h.recon.Status(ctx, StatusQuery{PaymentID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, proj.State)
	assert.EqualValues(t, 2, h.provider.queries.Load())
}

func TestStatus_PollIsThrottled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Minute)
	h.seedBooking(t, "BK-100")
	p := h.seedPending(t, "BK-100", "ws_CO_1")

	for i := 0; i < 3; i++ {
		proj, err := h.recon.Status(ctx, StatusQuery{PaymentID: p.ID})
		require.NoError(t, err)
		assert.Equal(t, domain.StatePending, proj.State)
	}
	assert.EqualValues(t, 1, h.provider.queries.Load())
}

func TestStatus_Lookups(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)

	_, err := h.recon.Status(ctx, StatusQuery{PaymentID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.recon.Status(ctx, StatusQuery{})
	assert.True(t, payment.IsValidation(err))
}

func TestWebhookAndPollRace_EffectsRunOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	h.provider.query = pollSuccess("R123")

	const rounds = 5
	for i := 0; i < rounds; i++ {
		ref := fmt.Sprintf("BK-R%d", i)
		corr := fmt.Sprintf("ws_CO_race_%d", i)
		h.seedBooking(t, ref)
		p := h.seedPending(t, ref, corr)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.recon.HandleCallback(ctx, callbackBody(corr, 0, "R123"), testMeta)
		}()
		go func() {
			defer wg.Done()
			_, err := h.recon.Status(ctx, StatusQuery{PaymentID: p.ID})
			assert.NoError(t, err)
		}()
		wg.Wait()

		got, err := h.payments.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StateCompleted, got.State)
		assert.True(t, got.EffectsApplied)
	}
	assert.EqualValues(t, rounds, h.bookings.confirms.Load())
	assert.EqualValues(t, rounds, h.renders.Load())
}

func TestRerunEffects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	h.seedBooking(t, "BK-100")
	p := h.seedPending(t, "BK-100", "ws_CO_1")
	pending := h.seedPending(t, "BK-100", "ws_CO_2")

	_, err := h.recon.RerunEffects(ctx, pending.ID, "ops@example.com")
	assert.ErrorIs(t, err, domain.ErrNotCompleted)

	h.recon.HandleCallback(ctx, callbackBody("ws_CO_1", 0, "R123"), testMeta)
	proj, err := h.recon.RerunEffects(ctx, p.ID, "ops@example.com")
	require.NoError(t, err)
	assert.True(t, proj.EffectsApplied)
	assert.EqualValues(t, 2, h.bookings.confirms.Load())
	assert.EqualValues(t, 2, h.renders.Load())

	_, err = h.recon.RerunEffects(ctx, "missing", "ops@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEffectFailuresDoNotRevertPayment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	h.store.err = errors.New("cloudinary down")
	p := h.seedPending(t, "BK-missing", "ws_CO_1")

	h.recon.HandleCallback(ctx, callbackBody("ws_CO_1", 0, "R123"), testMeta)

	got, err := h.payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, got.State)
	assert.True(t, got.EffectsApplied)
	assert.Empty(t, got.ReceiptURL)

	flagged := h.flagged(t)
	require.Len(t, flagged, 1)
	assert.Equal(t, domain.EventEffects, flagged[0].Event)
	// booking confirm, booking load and receipt upload
	assert.Len(t, flagged[0].Metadata["failures"], 3)
}

func TestHandleCallback_ProviderHangUpStillRunsEffects(t *testing.T) {
	h := newHarness(t, 0)
	h.seedBooking(t, "BK-100")
	p := h.seedPending(t, "BK-100", "ws_CO_1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.db.Callback().Update().
		After("gorm:update").
		Register("test:hang_up", func(*gorm.DB) { cancel() }))

	ack := h.recon.HandleCallback(ctx, callbackBody("ws_CO_1", 0, "R123"), testMeta)
	assert.Equal(t, payment.Accepted(), ack)

	got, err := h.payments.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, got.State)
	assert.True(t, got.EffectsApplied)
	assert.EqualValues(t, 1, h.bookings.confirms.Load())
	assert.EqualValues(t, 1, h.renders.Load())

	ack = h.recon.HandleCallback(context.Background(), callbackBody("ws_CO_1", 0, "R123"), testMeta)
	assert.Equal(t, payment.Accepted(), ack)
	assert.EqualValues(t, 1, h.bookings.confirms.Load())
}

func TestHandleCallback_FillsReceiptOfPollSettledAttempt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	h.seedBooking(t, "BK-100")
	p := h.seedPending(t, "BK-100", "ws_CO_1")
	h.provider.query = pollSuccess("")

	proj, err := h.recon.Status(ctx, StatusQuery{PaymentID: p.ID})
	require.NoError(t, err)
	require.Equal(t, domain.StateCompleted, proj.State)
	assert.Empty(t, proj.ReceiptNumber)

	h.recon.HandleCallback(ctx, callbackBody("ws_CO_1", 0, "R123"), testMeta)
	got, err := h.payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "R123", got.ProviderReceiptNumber)
	assert.Equal(t, "poll", got.SettledVia)

	// An existing receipt number is never replaced.
	h.recon.HandleCallback(ctx, callbackBody("ws_CO_1", 0, "R999"), testMeta)
	got, err = h.payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "R123", got.ProviderReceiptNumber)

	assert.EqualValues(t, 1, h.bookings.confirms.Load())
	assert.Empty(t, h.flagged(t))
}
