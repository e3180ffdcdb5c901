package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/blissfulldev/hitld/internal/reconcile"
)

// RunReconcileLoop reconciles every known session on a fixed interval until
// the context is cancelled. Each session reconciles under its own lock, so
// the loop never blocks writers for longer than one session's checks.
func (o *Orchestrator) RunReconcileLoop(ctx context.Context, interval time.Duration, opts *reconcile.Options) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.logger.Info("reconcile loop started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("reconcile loop stopped")
			return
		case <-ticker.C:
			o.reconcileAll(ctx, opts)
		}
	}
}

func (o *Orchestrator) reconcileAll(ctx context.Context, opts *reconcile.Options) {
	ids, err := o.store.Sessions(ctx)
	if err != nil {
		o.logger.Warn("cannot list sessions for reconciliation", zap.Error(err))
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if _, err := o.PerformStateReconciliation(ctx, id, opts); err != nil {
			o.logger.Warn("scheduled reconciliation failed",
				zap.String("session_id", id),
				zap.Error(err),
			)
		}
	}
}
