package workers

import (
	"context"

	"go.uber.org/zap"

	"github.com/adsettle/backend/internal/services"
)

// PaymentWorker polls escrow balances for deals awaiting funding.
type PaymentWorker struct {
	deals  services.DealStore
	escrow *services.EscrowService
	log    *zap.Logger
}

func NewPaymentWorker(deals services.DealStore, escrow *services.EscrowService, log *zap.Logger) *PaymentWorker {
	return &PaymentWorker{deals: deals, escrow: escrow, log: log}
}

func (w *PaymentWorker) Name() string { return "payment" }

func (w *PaymentWorker) Run(ctx context.Context) (int, error) {
	deals, err := w.deals.ListAwaitingFunding(ctx)
	if err != nil {
		return 0, err
	}

	funded := 0
	for i := range deals {
		d := &deals[i]
		ok, err := w.escrow.CheckFunding(ctx, d.ID)
		if err != nil {
			w.log.Warn("funding check failed",
				zap.String("deal_id", d.ID.String()), zap.Error(err))
			continue
		}
		if ok {
			funded++
		}
	}
	return funded, nil
}
