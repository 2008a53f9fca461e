package workers

import (
	"context"

	"go.uber.org/zap"

	"github.com/adsettle/backend/internal/services"
)

// DisputeWorker escalates disputes whose mutual-resolution window expired.
type DisputeWorker struct {
	disputes *services.DisputeService
	log      *zap.Logger
}

func NewDisputeWorker(disputes *services.DisputeService, log *zap.Logger) *DisputeWorker {
	return &DisputeWorker{disputes: disputes, log: log}
}

func (w *DisputeWorker) Name() string { return "dispute" }

func (w *DisputeWorker) Run(ctx context.Context) (int, error) {
	return w.disputes.EscalateExpired(ctx)
}
