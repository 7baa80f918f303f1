package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/app"
	"github.com/unclebandit/campaign-engine/internal/config"
	"github.com/unclebandit/campaign-engine/internal/logger"
	"github.com/unclebandit/campaign-engine/internal/metrics"
)

func main() {
	cfg := config.Load()

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	// Batches publish status events; with the in-memory backend only this
	// process can consume them.
	if err := a.SubscribeStatusEvents(zl); err != nil {
		zl.Fatal("failed to subscribe to status events", zap.Error(err))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		runLoop(ctx, "scheduler", cfg.SchedulerInterval, a.Campaigns.Tick, zl)
	}()
	go func() {
		defer wg.Done()
		runLoop(ctx, "reconciler", cfg.ReconcileInterval, func(ctx context.Context, now time.Time) error {
			n, err := a.Reconciler.Sweep(ctx, now)
			if n > 0 {
				zl.Info("stale messages failed", zap.Int("count", n))
			}
			return err
		}, zl)
	}()

	zl.Info("worker running",
		zap.Duration("scheduler_interval", cfg.SchedulerInterval),
		zap.Duration("reconcile_interval", cfg.ReconcileInterval),
	)
	wg.Wait()
	zl.Info("worker stopped")
}
