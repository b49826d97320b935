package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floodline/gaugewatch/internal/cache"
	"github.com/floodline/gaugewatch/internal/domain"
)

var (
	schedKey  = domain.QueryKey{Mode: domain.ModeRecent, Limit: 500, Window: 2}
	schedBase = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
)

// fakeClock drives the loop deterministically. Advance fires any
// sleeps that have come due. Created counts every After call so tests
// can wait until the loop has actually gone to sleep, sidestepping
// timer channels abandoned by earlier wakeups.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	created int
	waiters []*waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	w := &waiter{at: f.now.Add(d), ch: make(chan time.Time, 1)}
	f.waiters = append(f.waiters, w)
	return w.ch
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	kept := f.waiters[:0]
	for _, w := range f.waiters {
		if w.at.After(f.now) {
			kept = append(kept, w)
		} else {
			w.ch <- f.now
		}
	}
	f.waiters = kept
}

func (f *fakeClock) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// fakePipeline counts runs and can be told to fail.
type fakePipeline struct {
	mu    sync.Mutex
	runs  int
	fail  error
	snaps []*domain.Snapshot
}

func (f *fakePipeline) Run(ctx context.Context, key domain.QueryKey, now time.Time) (*domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	if f.fail != nil {
		return nil, f.fail
	}
	snap := &domain.Snapshot{Key: key, ComputedAt: now, Trend: domain.TrendStable}
	f.snaps = append(f.snaps, snap)
	return snap, nil
}

func (f *fakePipeline) Runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func (f *fakePipeline) SetFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

// recordingSink captures fan-out calls.
type recordingSink struct {
	mu    sync.Mutex
	snaps []*domain.Snapshot
	err   error
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Store(ctx context.Context, snap *domain.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return r.err
}

func (r *recordingSink) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func startScheduler(t *testing.T, s *Scheduler) (cancel func(), done chan error) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	done = make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return cancelCtx, done
}

// waitSleeping blocks until the loop has entered its nth sleep.
func waitSleeping(t *testing.T, s *Scheduler, clk *fakeClock, nth int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.State() == StateSleeping && clk.Created() >= nth
	}, 2*time.Second, time.Millisecond)
}

func TestScheduler_TicksOnCadence(t *testing.T) {
	clk := newFakeClock(schedBase)
	pipe := &fakePipeline{}
	s := New(Config{Key: schedKey, Interval: 10 * time.Second}, pipe, cache.New(), clk, nil)

	cancel, done := startScheduler(t, s)
	defer cancel()

	waitSleeping(t, s, clk, 1)
	assert.Equal(t, 1, pipe.Runs())

	// Entry is exactly TTL old at the next scheduled tick, so the
	// pipeline runs again.
	clk.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return pipe.Runs() == 2 }, 2*time.Second, time.Millisecond)

	waitSleeping(t, s, clk, 2)
	clk.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return pipe.Runs() == 3 }, 2*time.Second, time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateStopped, s.State())
}

func TestScheduler_ManualRefreshWithinTTLServesCache(t *testing.T) {
	clk := newFakeClock(schedBase)
	pipe := &fakePipeline{}
	s := New(Config{Key: schedKey, Interval: 10 * time.Second}, pipe, cache.New(), clk, nil)

	cancel, _ := startScheduler(t, s)
	defer cancel()

	waitSleeping(t, s, clk, 1)
	require.Equal(t, 1, pipe.Runs())

	// Wake the loop without moving time: the tick happens now but the
	// snapshot is fresh, so it comes from cache.
	s.RequestRefresh()

	require.Eventually(t, func() bool {
		res, ok := s.LastResult()
		return ok && res.Cached
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, pipe.Runs())
}

func TestScheduler_ForceRefreshRecomputes(t *testing.T) {
	clk := newFakeClock(schedBase)
	pipe := &fakePipeline{}
	s := New(Config{Key: schedKey, Interval: 10 * time.Second}, pipe, cache.New(), clk, nil)

	cancel, _ := startScheduler(t, s)
	defer cancel()

	waitSleeping(t, s, clk, 1)
	require.Equal(t, 1, pipe.Runs())

	s.ForceRefresh()

	require.Eventually(t, func() bool { return pipe.Runs() == 2 }, 2*time.Second, time.Millisecond)
}

func TestScheduler_ErrorTickRetainsPreviousSnapshotAndRetries(t *testing.T) {
	clk := newFakeClock(schedBase)
	pipe := &fakePipeline{}
	s := New(Config{Key: schedKey, Interval: 10 * time.Second}, pipe, cache.New(), clk, nil)

	cancel, _ := startScheduler(t, s)
	defer cancel()

	waitSleeping(t, s, clk, 1)
	first, ok := s.LastResult()
	require.True(t, ok)
	require.NoError(t, first.Err)
	goodSnap := first.Snapshot

	boom := errors.New("store unreachable")
	pipe.SetFail(boom)
	clk.Advance(10 * time.Second)

	require.Eventually(t, func() bool {
		res, ok := s.LastResult()
		return ok && res.Err != nil
	}, 2*time.Second, time.Millisecond)

	res, _ := s.LastResult()
	assert.ErrorIs(t, res.Err, boom)
	assert.Same(t, goodSnap, res.Snapshot, "previous snapshot stays presentable")

	// No backoff: the next scheduled tick retries and recovers.
	pipe.SetFail(nil)
	waitSleeping(t, s, clk, 2)
	clk.Advance(10 * time.Second)

	require.Eventually(t, func() bool {
		res, ok := s.LastResult()
		return ok && res.Err == nil && res.Snapshot != goodSnap
	}, 2*time.Second, time.Millisecond)
}

func TestScheduler_CancelBeforeFirstTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pipe := &fakePipeline{}
	s := New(Config{Key: schedKey, Interval: 10 * time.Second}, pipe, cache.New(), newFakeClock(schedBase), nil)

	err := s.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateStopped, s.State())
	assert.Zero(t, pipe.Runs())
}

func TestScheduler_CancelWhileSleeping(t *testing.T) {
	clk := newFakeClock(schedBase)
	pipe := &fakePipeline{}
	s := New(Config{Key: schedKey, Interval: 10 * time.Second}, pipe, cache.New(), clk, nil)

	cancel, done := startScheduler(t, s)
	waitSleeping(t, s, clk, 1)

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 1, pipe.Runs())
}

func TestScheduler_RunTwiceFails(t *testing.T) {
	clk := newFakeClock(schedBase)
	s := New(Config{Key: schedKey, Interval: 10 * time.Second}, &fakePipeline{}, cache.New(), clk, nil)

	cancel, done := startScheduler(t, s)
	waitSleeping(t, s, clk, 1)

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrNotIdle)

	cancel()
	<-done
}

func TestScheduler_FanOutOnlyOnFreshSnapshots(t *testing.T) {
	clk := newFakeClock(schedBase)
	pipe := &fakePipeline{}
	sink := &recordingSink{}
	s := New(Config{Key: schedKey, Interval: 10 * time.Second}, pipe, cache.New(), clk, nil, sink)

	cancel, _ := startScheduler(t, s)
	defer cancel()

	waitSleeping(t, s, clk, 1)
	assert.Equal(t, 1, sink.Count())

	// A cached manual refresh does not re-deliver.
	s.RequestRefresh()
	require.Eventually(t, func() bool {
		res, ok := s.LastResult()
		return ok && res.Cached
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, sink.Count())

	waitSleeping(t, s, clk, 2)
	clk.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return sink.Count() == 2 }, 2*time.Second, time.Millisecond)
}

func TestScheduler_SinkErrorDoesNotFailTick(t *testing.T) {
	clk := newFakeClock(schedBase)
	pipe := &fakePipeline{}
	sink := &recordingSink{err: errors.New("sink down")}
	s := New(Config{Key: schedKey, Interval: 10 * time.Second}, pipe, cache.New(), clk, nil, sink)

	cancel, _ := startScheduler(t, s)
	defer cancel()

	waitSleeping(t, s, clk, 1)

	res, ok := s.LastResult()
	require.True(t, ok)
	assert.NoError(t, res.Err)
	assert.NotNil(t, res.Snapshot)
	assert.Equal(t, 1, sink.Count())
}
