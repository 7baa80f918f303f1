package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/mutex"
	"github.com/unclebandit/campaign-engine/internal/service"
)

func TestThreadResolverCoalescesAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	db := newMemDB()
	threads := &fakeThreads{db: db, delay: 100 * time.Millisecond}

	// Two resolvers with their own clients stand in for two processes.
	resolvers := make([]*service.ThreadResolver, 2)
	for i := range resolvers {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		resolvers[i] = &service.ThreadResolver{
			Threads: threads,
			Mutex:   mutex.New(rdb, mutex.Options{PollInterval: 10 * time.Millisecond}, nil),
			Logger:  zap.NewNop(),
		}
	}

	var wg sync.WaitGroup
	got := make([]string, 10)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := resolvers[i%2].GetOrCreateThread(context.Background(), "ws_1", "ctc_1", model.DirectionInbound)
			if err != nil {
				t.Error(err)
			}
			got[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range got {
		if id != got[0] || id == "" {
			t.Fatalf("resolvers disagree: %v", got)
		}
	}
	if n := atomic.LoadInt32(&threads.calls); n != 1 {
		t.Errorf("expected one storage round trip, got %d", n)
	}
}

func TestThreadResolverWithoutMutexStillConverges(t *testing.T) {
	db := newMemDB()
	threads := &fakeThreads{db: db, delay: 10 * time.Millisecond}
	r := &service.ThreadResolver{Threads: threads, Logger: zap.NewNop()}

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], _ = r.GetOrCreateThread(context.Background(), "ws_1", "ctc_1", model.DirectionOutbound)
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("expected one thread, got %v", ids)
		}
	}
	if db.threadRows != 1 {
		t.Errorf("expected one thread row, got %d", db.threadRows)
	}
}
