package engine

import (
	"context"
	"log/slog"
	"time"
)

// defaultSyncInterval is the periodic cycle cadence in watch mode.
const defaultSyncInterval = 5 * time.Minute

// Run executes sync cycles on a fixed interval until the context is
// canceled, returning nil on clean shutdown. An initial cycle runs
// immediately. Cycle errors are logged and the loop continues — a store
// hiccup on one tick must not take the daemon down. Connectivity-driven
// and notifier-driven triggers fire between ticks through the same
// single-flight guard, so overlap is impossible.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultSyncInterval
	}

	e.logger.Info("sync loop starting", slog.Duration("interval", interval))

	e.runCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sync loop stopped")
			return nil
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

// runCycle triggers one cycle, logging failures instead of propagating.
func (e *Engine) runCycle(ctx context.Context) {
	if _, err := e.TriggerSync(ctx); err != nil {
		e.logger.Warn("sync cycle failed", slog.String("error", err.Error()))
	}
}
