// Package mutex coalesces duplicate work on a key across goroutines and processes.
//
// Callers in one process share a single execution through singleflight. Across
// processes the owner holds lock:{key} in Redis and publishes its result under
// result:{key}:{token}, where token is the owner's lock value. Only callers that
// saw that lock held read the result; a caller arriving after release runs fn
// again.
package mutex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrInFlight is returned under the Skip policy when another caller holds the key.
var ErrInFlight = errors.New("operation already in flight, no new data available")

type Policy int

const (
	// Wait blocks until the holder's result is available, or takes over if the holder vanished.
	Wait Policy = iota
	// Skip gives up immediately with ErrInFlight.
	Skip
)

type Options struct {
	LockTTL      time.Duration
	ResultTTL    time.Duration
	PollInterval time.Duration
}

type Mutex struct {
	rdb    redis.UniversalClient
	opts   Options
	group  singleflight.Group
	logger *zap.Logger
}

func New(rdb redis.UniversalClient, opts Options, logger *zap.Logger) *Mutex {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 5 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mutex{rdb: rdb, opts: opts, logger: logger}
}

var release = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var extend = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

func lockKey(key string) string { return "lock:" + key }

func resultKey(key, token string) string { return "result:" + key + ":" + token }

// Do runs fn at most once per key among concurrent callers and returns its result.
// Under Wait the shared execution is detached from any single caller's
// cancellation; each caller stops waiting when its own ctx is done.
func Do[T any](ctx context.Context, m *Mutex, key string, policy Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if policy == Skip {
		// Local duplicates contend on the Redis lock like remote ones.
		return run(ctx, m, key, policy, fn)
	}
	shared := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (any, error) {
		return run(shared, m, key, policy, fn)
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		out, _ := res.Val.(T)
		return out, nil
	}
}

func run[T any](ctx context.Context, m *Mutex, key string, policy Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for {
		token := uuid.NewString()
		acquired, err := m.rdb.SetNX(ctx, lockKey(key), token, m.opts.LockTTL).Result()
		if err != nil {
			return zero, fmt.Errorf("acquire %s: %w", key, err)
		}
		if acquired {
			return own(ctx, m, key, token, fn)
		}
		if policy == Skip {
			return zero, ErrInFlight
		}

		v, ok, err := wait[T](ctx, m, key)
		if err != nil {
			return zero, err
		}
		if ok {
			return v, nil
		}
		// Holder released without a result; try to take over.
	}
}

func own[T any](ctx context.Context, m *Mutex, key, token string, fn func(context.Context) (T, error)) (T, error) {
	stop := make(chan struct{})
	defer func() {
		close(stop)
		// Release even if ctx was cancelled mid-run.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := release.Run(rctx, m.rdb, []string{lockKey(key)}, token).Err(); err != nil {
			m.logger.Warn("lock release failed", zap.String("key", key), zap.Error(err))
		}
	}()
	go keepAlive(ctx, m, key, token, stop)

	v, err := fn(ctx)
	if err != nil {
		return v, err
	}
	if payload, merr := json.Marshal(v); merr == nil {
		if serr := m.rdb.Set(ctx, resultKey(key, token), payload, m.opts.ResultTTL).Err(); serr != nil {
			m.logger.Warn("storing coalesced result failed", zap.String("key", key), zap.Error(serr))
		}
	}
	return v, nil
}

// keepAlive extends the lock while the owner is still working.
func keepAlive(ctx context.Context, m *Mutex, key, token string, stop <-chan struct{}) {
	t := time.NewTicker(m.opts.LockTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			if err := extend.Run(ctx, m.rdb, []string{lockKey(key)}, token, m.opts.LockTTL.Milliseconds()).Err(); err != nil {
				m.logger.Warn("lock extend failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
}

// wait follows the current holder until it publishes a result (ok=true) or
// gives up the lock without one (ok=false).
func wait[T any](ctx context.Context, m *Mutex, key string) (T, bool, error) {
	var zero T
	holder, err := m.rdb.Get(ctx, lockKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("poll %s: %w", key, err)
	}

	t := time.NewTicker(m.opts.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return zero, false, ctx.Err()
		case <-t.C:
		}
		// Read the lock before the result: the holder publishes before releasing.
		current, err := m.rdb.Get(ctx, lockKey(key)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return zero, false, fmt.Errorf("poll %s: %w", key, err)
		}
		if v, ok, err := loadResult[T](ctx, m, resultKey(key, holder)); err != nil || ok {
			return v, ok, err
		}
		if current != holder {
			return zero, false, nil
		}
	}
}

func loadResult[T any](ctx context.Context, m *Mutex, slot string) (T, bool, error) {
	var v T
	raw, err := m.rdb.Get(ctx, slot).Bytes()
	if errors.Is(err, redis.Nil) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("load result %s: %w", slot, err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, nil
	}
	return v, true, nil
}
