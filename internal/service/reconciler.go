package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/metrics"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/queue"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

const (
	staleReason         = "provider call never resolved"
	defaultHeldReceipts = 24 * time.Hour
)

// Reconciler fails outbound messages stuck in queued after a crash between
// persisting and recording the provider outcome. It never resends.
// It also drops held receipts whose send never showed up.
type Reconciler struct {
	Messages     repository.MessageRepositoryInterface
	Queue        queue.Queue
	StaleAfter   time.Duration
	HoldReceipts time.Duration
	BatchSize    int
	Logger       *zap.Logger
}

// Sweep returns how many messages were moved to failed.
func (r *Reconciler) Sweep(ctx context.Context, now time.Time) (int, error) {
	limit := r.BatchSize
	if limit <= 0 {
		limit = 500
	}
	stale, err := r.Messages.ListStaleQueued(ctx, now.Add(-r.StaleAfter), limit)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, m := range stale {
		ok, err := r.Messages.MarkFailed(ctx, m.ID, staleReason)
		if err != nil {
			r.Logger.Error("failed to reconcile message", zap.String("message_id", m.ID), zap.Error(err))
			continue
		}
		if !ok {
			// Resolved since it was listed.
			continue
		}
		failed++
		metrics.MessagesReconciledTotal.Inc()
		r.Logger.Warn("stale queued message failed",
			zap.String("message_id", m.ID),
			zap.Time("created_at", m.CreatedAt),
		)

		if r.Queue == nil {
			continue
		}
		ev := queue.StatusEvent{
			MessageID:   m.ID,
			WorkspaceID: m.WorkspaceID,
			ThreadID:    m.ThreadID,
			Direction:   m.Direction,
			Status:      model.StatusFailed,
			OccurredAt:  now,
		}
		if m.CampaignID != nil {
			ev.CampaignID = *m.CampaignID
		}
		if err := queue.PublishStatus(ctx, r.Queue, ev); err != nil {
			r.Logger.Warn("status event not published", zap.String("message_id", m.ID), zap.Error(err))
		}
	}
	r.purgeHeld(ctx, now)
	return failed, nil
}

func (r *Reconciler) purgeHeld(ctx context.Context, now time.Time) {
	keep := r.HoldReceipts
	if keep <= 0 {
		keep = defaultHeldReceipts
	}
	n, err := r.Messages.PurgeHeldReceipts(ctx, now.Add(-keep))
	if err != nil {
		r.Logger.Error("failed to purge held receipts", zap.Error(err))
		return
	}
	if n > 0 {
		r.Logger.Info("held receipts without a send dropped", zap.Int64("count", n))
	}
}
