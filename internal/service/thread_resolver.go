package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/mutex"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

// ThreadResolver returns the single conversation thread of a (workspace, contact) pair.
type ThreadResolver struct {
	Threads repository.ThreadRepositoryInterface
	Mutex   *mutex.Mutex
	Logger  *zap.Logger
}

// GetOrCreateThread is idempotent. The storage upsert guarantees one row;
// the mutex only saves duplicate round trips.
func (r *ThreadResolver) GetOrCreateThread(ctx context.Context, workspaceID, contactID string, direction model.Direction) (string, error) {
	key := fmt.Sprintf("thread:%s:%s", workspaceID, contactID)
	id, err := coalesce(ctx, r.Mutex, key, mutex.Wait, func(ctx context.Context) (string, error) {
		return r.Threads.GetOrCreate(ctx, workspaceID, contactID)
	})
	if err != nil {
		return "", fmt.Errorf("resolve thread: %w", err)
	}
	r.Logger.Debug("thread resolved",
		zap.String("thread_id", id),
		zap.String("contact_id", contactID),
		zap.String("direction", string(direction)),
	)
	return id, nil
}
