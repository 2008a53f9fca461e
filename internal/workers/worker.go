// Package workers contains the scheduled loops that drive deals through
// their lifecycle: funding detection, posting, hold verification, timeouts,
// dispute escalation, transfer recovery and the privacy purge.
package workers

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Worker is one scheduled loop. Run processes a single cycle and reports how
// many items it handled. Errors from individual items stay inside Run; a
// returned error means the whole cycle could not proceed.
type Worker interface {
	Name() string
	Run(ctx context.Context) (int, error)
}

// Loop drives a worker on its interval until the context is cancelled.
// One slow or failing cycle never kills the loop.
func Loop(ctx context.Context, w Worker, interval time.Duration, m *Metrics, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("worker started", zap.String("worker", w.Name()), zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped", zap.String("worker", w.Name()))
			return
		case <-ticker.C:
			runOnce(ctx, w, m, log)
		}
	}
}

func runOnce(ctx context.Context, w Worker, m *Metrics, log *zap.Logger) {
	start := time.Now()
	n, err := w.Run(ctx)
	elapsed := time.Since(start)

	m.Runs.WithLabelValues(w.Name()).Inc()
	m.Processed.WithLabelValues(w.Name()).Add(float64(n))
	m.Duration.WithLabelValues(w.Name()).Observe(elapsed.Seconds())

	if err != nil {
		m.Errors.WithLabelValues(w.Name()).Inc()
		log.Error("worker cycle failed",
			zap.String("worker", w.Name()),
			zap.Duration("took", elapsed),
			zap.Error(err),
		)
		return
	}
	if n > 0 {
		log.Info("worker cycle done",
			zap.String("worker", w.Name()),
			zap.Int("processed", n),
			zap.Duration("took", elapsed),
		)
	}
}
