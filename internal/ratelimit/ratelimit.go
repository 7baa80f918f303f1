// Package ratelimit enforces per-sender daily send budgets with a shared Redis counter.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyTTL = 48 * time.Hour

// consume grants min(n, limit-used) units and records them in one step.
var consume = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
local want = tonumber(ARGV[2])
local allowed = limit - used
if allowed < 0 then allowed = 0 end
if allowed > want then allowed = want end
if allowed > 0 then
  redis.call('INCRBY', KEYS[1], allowed)
end
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return {allowed, limit - used - allowed}
`)

// refund gives back up to n units, never driving the counter below zero.
var refund = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local back = tonumber(ARGV[1])
if back > used then back = used end
if back > 0 then
  redis.call('DECRBY', KEYS[1], back)
end
return back
`)

type Limiter struct {
	rdb redis.UniversalClient
}

func New(rdb redis.UniversalClient) *Limiter {
	return &Limiter{rdb: rdb}
}

// Day returns the UTC calendar day a counter belongs to.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func key(senderID string, day time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s", senderID, Day(day))
}

// TryConsume atomically takes up to n units from the sender's budget for day.
// Exhaustion is not an error: callers compare allowed with n.
func (l *Limiter) TryConsume(ctx context.Context, senderID string, day time.Time, n, limit int) (allowed, remaining int, err error) {
	if n <= 0 || limit <= 0 {
		rem, err := l.Remaining(ctx, senderID, day, limit)
		return 0, rem, err
	}
	res, err := consume.Run(ctx, l.rdb, []string{key(senderID, day)}, limit, n, keyTTL.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit consume: %w", err)
	}
	remaining = int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	return int(res[0]), remaining, nil
}

// Remaining reports the unused budget without consuming any.
func (l *Limiter) Remaining(ctx context.Context, senderID string, day time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	used, err := l.rdb.Get(ctx, key(senderID, day)).Int()
	if err == redis.Nil {
		return limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rate limit read: %w", err)
	}
	if used >= limit {
		return 0, nil
	}
	return limit - used, nil
}

// Refund returns units taken by TryConsume for a send that never reached the provider.
func (l *Limiter) Refund(ctx context.Context, senderID string, day time.Time, n int) error {
	if n <= 0 {
		return nil
	}
	if err := refund.Run(ctx, l.rdb, []string{key(senderID, day)}, n).Err(); err != nil {
		return fmt.Errorf("rate limit refund: %w", err)
	}
	return nil
}
