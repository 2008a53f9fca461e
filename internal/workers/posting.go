package workers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adsettle/backend/internal/models"
	"github.com/adsettle/backend/internal/platform"
	"github.com/adsettle/backend/internal/repositories"
	"github.com/adsettle/backend/internal/services"
)

// PostingWorker publishes approved creatives whose scheduled time arrived
// and opens the tracking window.
type PostingWorker struct {
	deals   services.DealStore
	dealSvc *services.DealService
	escrow  *services.EscrowService
	adapter platform.Adapter
	log     *zap.Logger
}

func NewPostingWorker(deals services.DealStore, dealSvc *services.DealService, escrow *services.EscrowService, adapter platform.Adapter, log *zap.Logger) *PostingWorker {
	return &PostingWorker{deals: deals, dealSvc: dealSvc, escrow: escrow, adapter: adapter, log: log}
}

func (w *PostingWorker) Name() string { return "posting" }

func (w *PostingWorker) Run(ctx context.Context) (int, error) {
	deals, err := w.deals.ListScheduledDue(ctx)
	if err != nil {
		return 0, err
	}

	posted := 0
	for i := range deals {
		if err := w.post(ctx, &deals[i]); err != nil {
			w.log.Warn("posting failed",
				zap.String("deal_id", deals[i].ID.String()), zap.Error(err))
			continue
		}
		posted++
	}
	return posted, nil
}

func (w *PostingWorker) post(ctx context.Context, d *models.Deal) error {
	if d.CreativeText == nil {
		return errors.New("scheduled deal has no creative text")
	}

	canPost, err := w.adapter.CanPost(ctx, d.PlatformChannelID)
	if err != nil {
		// Transient adapter trouble, retried next cycle.
		return err
	}
	if !canPost {
		// The channel already revoked our posting rights; refund instead
		// of attempting a publish that cannot land.
		return w.failAndRefund(ctx, d.ID, "posting_forbidden: rights revoked")
	}

	pub, err := w.adapter.PublishPost(ctx, d.PlatformChannelID, *d.CreativeText, nil, nil)
	if err != nil {
		var forbidden *platform.ForbiddenError
		if errors.As(err, &forbidden) {
			// The channel revoked our posting rights; the deal cannot
			// proceed, return the advertiser's money.
			return w.failAndRefund(ctx, d.ID, "posting_forbidden: "+forbidden.Reason)
		}
		// Transient adapter trouble, retried next cycle.
		return err
	}

	if _, err := w.dealSvc.TransitionFrom(ctx, d.ID, models.DealStatusScheduled, models.DealStatusPosted,
		repositories.DealUpdate{PlatformPostID: &pub.PostID}); err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err := w.dealSvc.TransitionFrom(ctx, d.ID, models.DealStatusPosted, models.DealStatusTracking,
		repositories.DealUpdate{TrackingStartedAt: &now}); err != nil {
		return err
	}

	w.log.Info("creative posted",
		zap.String("deal_id", d.ID.String()),
		zap.String("post_id", pub.PostID),
	)
	return nil
}

func (w *PostingWorker) failAndRefund(ctx context.Context, dealID uuid.UUID, reason string) error {
	d, err := w.deals.GetByID(ctx, dealID)
	if err != nil {
		return err
	}
	if _, err := w.dealSvc.Fail(ctx, dealID, d.Status, reason); err != nil {
		return err
	}
	if err := w.escrow.RefundFunds(ctx, dealID); err != nil {
		// A partial refund is picked up by the recovery worker.
		if services.IsPartialTransfer(err) {
			return nil
		}
		return err
	}
	_, err = w.dealSvc.TransitionFrom(ctx, dealID, models.DealStatusFailed, models.DealStatusRefunded, repositories.DealUpdate{})
	return err
}
