package service

import (
	"context"
	"time"

	"paybridge/internal/domain"
	"paybridge/internal/repository"

	"go.uber.org/zap"
)

// PollSweeper settles attempts whose callback never arrived by polling every
// PENDING attempt older than age, batch at a time. It also resumes effects for
// COMPLETED attempts settled more than age ago whose effects never ran; age
// must exceed the effects timeout.
type PollSweeper struct {
	payments *repository.PaymentRepository
	recon    *ReconciliationService
	interval time.Duration
	age      time.Duration
	batch    int
	log      *zap.Logger
}

func NewPollSweeper(payments *repository.PaymentRepository, recon *ReconciliationService, interval, age time.Duration, batch int, log *zap.Logger) *PollSweeper {
	if batch <= 0 {
		batch = 50
	}
	return &PollSweeper{
		payments: payments,
		recon:    recon,
		interval: interval,
		age:      age,
		batch:    batch,
		log:      log.Named("sweeper"),
	}
}

// Run sweeps every interval until ctx is done.
func (w *PollSweeper) Run(ctx context.Context) {
	if w.interval <= 0 {
		w.log.Info("disabled")
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.SweepOnce(ctx); err != nil {
				w.log.Error("sweep", zap.Error(err))
			}
		}
	}
}

// SweepOnce polls one batch and returns how many attempts left PENDING.
func (w *PollSweeper) SweepOnce(ctx context.Context) (int, error) {
	stale, err := w.payments.ListStalePending(ctx, time.Now().Add(-w.age), w.batch)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, p := range stale {
		if ctx.Err() != nil {
			break
		}
		proj, err := w.recon.Status(ctx, StatusQuery{PaymentID: p.ID})
		if err != nil {
			w.log.Warn("poll", zap.String("payment_id", p.ID), zap.Error(err))
			continue
		}
		if proj.State != domain.StatePending {
			settled++
		}
	}
	resumed, err := w.resumeEffects(ctx)
	if err != nil {
		return settled, err
	}
	if len(stale) > 0 || resumed > 0 {
		w.log.Info("sweep done", zap.Int("polled", len(stale)), zap.Int("settled", settled), zap.Int("effects_resumed", resumed))
	}
	return settled, nil
}

func (w *PollSweeper) resumeEffects(ctx context.Context) (int, error) {
	stuck, err := w.payments.ListEffectsPending(ctx, time.Now().Add(-w.age), w.batch)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for i := range stuck {
		if ctx.Err() != nil {
			break
		}
		if p := w.recon.ResumeEffects(ctx, &stuck[i]); p.EffectsApplied {
			resumed++
		}
	}
	return resumed, nil
}
