package mutex

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newPair(t *testing.T) (*Mutex, *Mutex, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	opts := Options{LockTTL: 10 * time.Second, ResultTTL: 5 * time.Second, PollInterval: 5 * time.Millisecond}
	a := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { a.Close(); b.Close() })
	// Two instances stand in for two processes sharing one Redis.
	return New(a, opts, nil), New(b, opts, nil), mr
}

func TestConcurrentCallersShareOneExecution(t *testing.T) {
	m1, m2, _ := newPair(t)

	var calls int32
	release := make(chan struct{})
	fn := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "thr_1", nil
	}

	var wg sync.WaitGroup
	results := make(chan string, 20)
	for i := 0; i < 20; i++ {
		m := m1
		if i%2 == 1 {
			m = m2
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := Do(context.Background(), m, "thread:w:c", Wait, fn)
			if err != nil {
				t.Error(err)
			}
			results <- v
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	if calls != 1 {
		t.Errorf("expected one execution, got %d", calls)
	}
	for v := range results {
		if v != "thr_1" {
			t.Errorf("caller got %q", v)
		}
	}
}

func TestSkipPolicyReturnsInFlight(t *testing.T) {
	m1, m2, _ := newPair(t)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		_, err := Do(context.Background(), m1, "campaign-batch:1", Skip, func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		done <- err
	}()
	<-started

	_, err := Do(context.Background(), m2, "campaign-batch:1", Skip, func(context.Context) (int, error) {
		t.Error("second caller must not run")
		return 0, nil
	})
	if !errors.Is(err, ErrInFlight) {
		t.Errorf("expected ErrInFlight, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestStaleLockExpires(t *testing.T) {
	m1, _, mr := newPair(t)
	// A crashed owner left its lock behind.
	mr.Set(lockKey("k"), "dead-owner")
	mr.SetTTL(lockKey("k"), 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() {
		time.Sleep(20 * time.Millisecond)
		mr.FastForward(11 * time.Second)
	}()

	v, err := Do(ctx, m1, "k", Wait, func(context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("expected takeover after expiry, got %d %v", v, err)
	}
}

func TestFailedOwnerLetsWaiterRun(t *testing.T) {
	m1, m2, _ := newPair(t)
	boom := errors.New("boom")

	started := make(chan struct{})
	go Do(context.Background(), m1, "k", Wait, func(context.Context) (int, error) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		return 0, boom
	})
	<-started

	v, err := Do(context.Background(), m2, "k", Wait, func(context.Context) (int, error) { return 2, nil })
	if err != nil || v != 2 {
		t.Errorf("waiter should have taken over, got %d %v", v, err)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	m1, _, mr := newPair(t)
	mr.Set(lockKey("busy"), "someone")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := Do(ctx, m1, "busy", Wait, func(context.Context) (int, error) { return 1, nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestSequentialCallsRunAgain(t *testing.T) {
	m1, m2, _ := newPair(t)
	ctx := context.Background()

	calls := 0
	fn := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}
	if v, _ := Do(ctx, m1, "r", Wait, fn); v != 1 {
		t.Fatalf("expected 1, got %d", v)
	}
	if v, _ := Do(ctx, m1, "r", Wait, fn); v != 2 {
		t.Errorf("finished call must not be served again, got %d", v)
	}
	if v, _ := Do(ctx, m2, "r", Wait, fn); v != 3 {
		t.Errorf("other process must recompute after release, got %d", v)
	}
}

func TestCancelledCallerDoesNotFailOthers(t *testing.T) {
	m, _, _ := newPair(t)

	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	fn := func(ctx context.Context) (int, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return 9, nil
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := Do(first, m, "shared", Wait, fn)
		firstErr <- err
	}()
	<-started

	second := make(chan int, 1)
	go func() {
		v, err := Do(context.Background(), m, "shared", Wait, fn)
		if err != nil {
			t.Error(err)
		}
		second <- v
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller should see context.Canceled, got %v", err)
	}
	close(release)
	if v := <-second; v != 9 {
		t.Errorf("remaining caller should get the shared result, got %d", v)
	}
}
