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

// Locker is the per-deal mutual exclusion the verify worker runs under.
// Non-blocking: a held lock means another instance owns the deal right now.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) bool
	Release(ctx context.Context, key string)
}

// VerifyWorker evaluates every tracking deal each cycle: requirements
// already met release immediately, a deleted post refunds immediately, and
// only unmet requirements wait out the verification window. It is the only
// worker that releases funds to channel owners, so every deal is processed
// under a distributed lock and re-read after acquiring it.
type VerifyWorker struct {
	deals   services.DealStore
	reqs    services.RequirementStore
	dealSvc *services.DealService
	escrow  *services.EscrowService
	adapter platform.Adapter
	locker  Locker
	lockTTL time.Duration
	metrics *Metrics
	log     *zap.Logger
}

func NewVerifyWorker(
	deals services.DealStore,
	reqs services.RequirementStore,
	dealSvc *services.DealService,
	escrow *services.EscrowService,
	adapter platform.Adapter,
	locker Locker,
	lockTTL time.Duration,
	metrics *Metrics,
	log *zap.Logger,
) *VerifyWorker {
	return &VerifyWorker{
		deals:   deals,
		reqs:    reqs,
		dealSvc: dealSvc,
		escrow:  escrow,
		adapter: adapter,
		locker:  locker,
		lockTTL: lockTTL,
		metrics: metrics,
		log:     log,
	}
}

func (w *VerifyWorker) Name() string { return "verify" }

func (w *VerifyWorker) Run(ctx context.Context) (int, error) {
	deals, err := w.deals.ListByStatus(ctx, models.DealStatusTracking)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range deals {
		d := &deals[i]
		done, err := w.verify(ctx, d.ID)
		if err != nil {
			var unavailable *platform.AdapterUnavailableError
			if errors.As(err, &unavailable) || services.IsIllegalTransition(err) {
				// Retried next cycle / lost to a concurrent worker.
				continue
			}
			w.log.Warn("verification failed",
				zap.String("deal_id", d.ID.String()), zap.Error(err))
			continue
		}
		if done {
			settled++
		}
	}
	return settled, nil
}

func (w *VerifyWorker) verify(ctx context.Context, dealID uuid.UUID) (bool, error) {
	key := "verify:" + dealID.String()
	if !w.locker.Acquire(ctx, key, w.lockTTL) {
		return false, nil
	}
	defer w.locker.Release(ctx, key)

	// Re-read under the lock: the deal may have been settled, disputed or
	// timed out since the list query.
	d, err := w.deals.GetByID(ctx, dealID)
	if err != nil {
		return false, err
	}
	if d.Status != models.DealStatusTracking {
		return false, nil
	}
	if d.PlatformPostID == nil {
		// Not yet posted; the posting worker owns this deal.
		return false, nil
	}

	exists, err := w.adapter.VerifyPostExists(ctx, d.PlatformChannelID, *d.PlatformPostID)
	if err != nil {
		return false, err
	}
	if !exists {
		return true, w.failAndRefund(ctx, d, "post_deleted")
	}

	reqs, err := w.reqs.ListByDeal(ctx, d.ID)
	if err != nil {
		return false, err
	}

	var metrics *platform.PostMetrics
	if needsMetrics(reqs) {
		metrics, err = w.adapter.FetchPostMetrics(ctx, d.PlatformChannelID, *d.PlatformPostID)
		if err != nil {
			return false, err
		}
		if !metrics.Exists {
			return true, w.failAndRefund(ctx, d, "post_deleted")
		}
	}

	now := time.Now().UTC()
	ev := services.EvaluateRequirements(reqs, metrics)
	if !ev.AllMet {
		// Unmet requirements only fail the deal once the window closed;
		// until then this cycle's job is to wait.
		if d.TrackingStartedAt == nil {
			w.log.Warn("tracking deal without start time",
				zap.String("deal_id", d.ID.String()))
			return false, nil
		}
		window := time.Duration(d.VerificationWindowHours) * time.Hour
		if now.Before(d.TrackingStartedAt.Add(window)) {
			return false, nil
		}
		return true, w.failAndRefund(ctx, d, "requirements_not_met")
	}

	// The admin re-check gates the payout only. A revoked owner mid-window
	// must not kill a deal that would otherwise keep waiting.
	isAdmin, err := w.adapter.VerifyUserAdmin(ctx, d.PlatformChannelID, d.OwnerPlatformUserID)
	if err != nil {
		var forbidden *platform.ForbiddenError
		if !errors.As(err, &forbidden) {
			return false, err
		}
		isAdmin = false
	}
	if !isAdmin {
		return true, w.failAndRefund(ctx, d, "owner_lost_admin")
	}

	if _, err := w.dealSvc.TransitionFrom(ctx, d.ID, models.DealStatusTracking, models.DealStatusVerified,
		repositories.DealUpdate{PostVerifiedAt: &now}); err != nil {
		return false, err
	}
	if _, err := w.dealSvc.TransitionFrom(ctx, d.ID, models.DealStatusVerified, models.DealStatusCompleted,
		repositories.DealUpdate{}); err != nil {
		return false, err
	}
	if err := w.escrow.ReleaseFunds(ctx, d.ID); err != nil {
		if services.IsPartialTransfer(err) {
			// Funds swept, owner payout pending; recovery finishes it.
			w.metrics.Settled.WithLabelValues("released_partial").Inc()
			return true, nil
		}
		return true, err
	}

	w.metrics.Settled.WithLabelValues("released").Inc()
	w.log.Info("deal verified and released",
		zap.String("deal_id", d.ID.String()))
	return true, nil
}

func (w *VerifyWorker) failAndRefund(ctx context.Context, d *models.Deal, reason string) error {
	if _, err := w.dealSvc.Fail(ctx, d.ID, models.DealStatusTracking, reason); err != nil {
		return err
	}
	if err := w.escrow.RefundFunds(ctx, d.ID); err != nil {
		if services.IsPartialTransfer(err) {
			w.metrics.Settled.WithLabelValues("refunded_partial").Inc()
			return nil
		}
		return err
	}
	if _, err := w.dealSvc.TransitionFrom(ctx, d.ID, models.DealStatusFailed, models.DealStatusRefunded, repositories.DealUpdate{}); err != nil {
		return err
	}
	w.metrics.Settled.WithLabelValues("refunded").Inc()
	return nil
}

// needsMetrics reports whether any requirement actually reads a counter;
// waived and custom requirements verify without a metrics fetch.
func needsMetrics(reqs []models.Requirement) bool {
	for _, r := range reqs {
		if r.Waived || r.Kind == models.RequirementKindCustom {
			continue
		}
		return true
	}
	return false
}
