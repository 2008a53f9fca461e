package workers

import (
	"context"

	"go.uber.org/zap"

	"github.com/adsettle/backend/internal/services"
)

// PurgeWorker strips terminal deals past retention down to their receipts.
type PurgeWorker struct {
	purge *services.PurgeService
	log   *zap.Logger
}

func NewPurgeWorker(purge *services.PurgeService, log *zap.Logger) *PurgeWorker {
	return &PurgeWorker{purge: purge, log: log}
}

func (w *PurgeWorker) Name() string { return "purge" }

func (w *PurgeWorker) Run(ctx context.Context) (int, error) {
	return w.purge.PurgeExpired(ctx)
}
