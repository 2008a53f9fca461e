package workers

import (
	"context"

	"go.uber.org/zap"

	"github.com/adsettle/backend/internal/events"
	"github.com/adsettle/backend/internal/models"
	"github.com/adsettle/backend/internal/repositories"
	"github.com/adsettle/backend/internal/services"
)

// TimeoutPolicy says how long a deal may sit in each non-terminal status
// before it is abandoned. Statuses missing from the map never time out
// (tracking is owned by the verify worker, scheduled waits for its slot).
type TimeoutPolicy map[string]int

func DefaultTimeoutPolicy(paymentSec, creativeSec, postingSec int) TimeoutPolicy {
	return TimeoutPolicy{
		models.DealStatusPendingPayment:    paymentSec,
		models.DealStatusFunded:            creativeSec,
		models.DealStatusCreativePending:   creativeSec,
		models.DealStatusCreativeSubmitted: creativeSec,
		models.DealStatusCreativeRevision:  creativeSec,
		models.DealStatusCreativeApproved:  creativeSec,
		models.DealStatusPosted:            postingSec,
	}
}

// TimeoutWorker abandons deals stuck in one status for too long. Deals that
// hold advertiser funds get them back.
type TimeoutWorker struct {
	deals    services.DealStore
	dealSvc  *services.DealService
	escrow   *services.EscrowService
	notifier events.Notifier
	policy   TimeoutPolicy
	log      *zap.Logger
}

func NewTimeoutWorker(deals services.DealStore, dealSvc *services.DealService, escrow *services.EscrowService, notifier events.Notifier, policy TimeoutPolicy, log *zap.Logger) *TimeoutWorker {
	return &TimeoutWorker{deals: deals, dealSvc: dealSvc, escrow: escrow, notifier: notifier, policy: policy, log: log}
}

func (w *TimeoutWorker) Name() string { return "timeout" }

func (w *TimeoutWorker) Run(ctx context.Context) (int, error) {
	timedOut := 0
	for status, seconds := range w.policy {
		stalled, err := w.deals.ListStalled(ctx, status, seconds)
		if err != nil {
			return timedOut, err
		}
		for i := range stalled {
			if err := w.timeOut(ctx, &stalled[i]); err != nil {
				if services.IsIllegalTransition(err) {
					continue
				}
				w.log.Warn("timeout failed",
					zap.String("deal_id", stalled[i].ID.String()), zap.Error(err))
				continue
			}
			timedOut++
		}
	}
	return timedOut, nil
}

func (w *TimeoutWorker) timeOut(ctx context.Context, d *models.Deal) error {
	holdsFunds := models.HoldsFunds(d.Status)

	if _, err := w.dealSvc.TransitionFrom(ctx, d.ID, d.Status, models.DealStatusTimedOut, repositories.DealUpdate{}); err != nil {
		return err
	}
	w.notifier.Notify(ctx, d.ID, events.EventDealTimedOut, map[string]any{
		"stalled_in": d.Status,
	})
	w.log.Info("deal timed out",
		zap.String("deal_id", d.ID.String()),
		zap.String("stalled_in", d.Status),
	)

	if !holdsFunds {
		return nil
	}
	if err := w.escrow.RefundFunds(ctx, d.ID); err != nil {
		if services.IsPartialTransfer(err) {
			return nil
		}
		return err
	}
	_, err := w.dealSvc.TransitionFrom(ctx, d.ID, models.DealStatusTimedOut, models.DealStatusRefunded, repositories.DealUpdate{})
	return err
}
