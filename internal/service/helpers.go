package service

import (
	"context"
	"time"

	"github.com/unclebandit/campaign-engine/internal/mutex"
)

// RateLimiter is the daily quota the dispatcher and scheduler share.
type RateLimiter interface {
	TryConsume(ctx context.Context, senderID string, day time.Time, n, limit int) (allowed, remaining int, err error)
	Remaining(ctx context.Context, senderID string, day time.Time, limit int) (int, error)
	Refund(ctx context.Context, senderID string, day time.Time, n int) error
}

// coalesce routes fn through the dispatch mutex when one is configured.
func coalesce[T any](ctx context.Context, m *mutex.Mutex, key string, policy mutex.Policy, fn func(context.Context) (T, error)) (T, error) {
	if m == nil {
		return fn(ctx)
	}
	return mutex.Do(ctx, m, key, policy, fn)
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
