package main

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type job func(ctx context.Context, now time.Time) error

// runLoop runs fn once immediately and then on every tick until ctx ends.
// A failed run is logged and retried on the next tick.
func runLoop(ctx context.Context, name string, interval time.Duration, fn job, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func(now time.Time) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("job panicked", zap.String("job", name), zap.Any("panic", r))
			}
		}()
		if err := fn(ctx, now); err != nil && ctx.Err() == nil {
			logger.Error("job failed", zap.String("job", name), zap.Error(err))
		}
	}

	run(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			run(now)
		}
	}
}
