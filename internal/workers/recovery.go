package workers

import (
	"context"

	"go.uber.org/zap"

	"github.com/adsettle/backend/internal/services"
)

// RecoveryWorker retries hop 2 of settlements that swept the escrow but
// never paid the final recipient.
type RecoveryWorker struct {
	escrow  *services.EscrowService
	metrics *Metrics
	log     *zap.Logger
}

func NewRecoveryWorker(escrow *services.EscrowService, metrics *Metrics, log *zap.Logger) *RecoveryWorker {
	return &RecoveryWorker{escrow: escrow, metrics: metrics, log: log}
}

func (w *RecoveryWorker) Name() string { return "recovery" }

func (w *RecoveryWorker) Run(ctx context.Context) (int, error) {
	healed, err := w.escrow.RetryPendingTransfers(ctx)
	if healed > 0 {
		w.metrics.Settled.WithLabelValues("recovered").Add(float64(healed))
	}
	return healed, err
}
