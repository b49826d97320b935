// Package scheduler drives the refresh loop: run the pipeline through
// the snapshot cache, fan fresh snapshots out to sinks, sleep, repeat.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/floodline/gaugewatch/internal/cache"
	"github.com/floodline/gaugewatch/internal/domain"
	"github.com/floodline/gaugewatch/internal/metrics"
)

// State is the refresh loop lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrNotIdle is returned when Run is called on a scheduler that has
// already run. The loop is single-use: build a new scheduler to
// restart.
var ErrNotIdle = errors.New("scheduler already started")

// Runner produces a snapshot for a key. Implemented by the pipeline.
type Runner interface {
	Run(ctx context.Context, key domain.QueryKey, now time.Time) (*domain.Snapshot, error)
}

// SnapshotSink receives each fresh snapshot after a successful
// uncached tick. Sink failures are logged and never fail the tick.
type SnapshotSink interface {
	Name() string
	Store(ctx context.Context, snap *domain.Snapshot) error
}

// TickResult records the outcome of one tick. On an error tick the
// previous snapshot is carried forward so readers keep something to
// serve.
type TickResult struct {
	Snapshot *domain.Snapshot
	Cached   bool
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Config holds the loop parameters. The cache TTL equals the refresh
// interval: scheduled ticks recompute, manual refreshes inside the
// window are cache hits.
type Config struct {
	Key      domain.QueryKey
	Interval time.Duration
}

// Scheduler runs the loop. A single goroutine ticks, so at most one
// pipeline run is in flight at any time.
type Scheduler struct {
	cfg     Config
	runner  Runner
	cache   *cache.SnapshotCache
	clock   Clock
	metrics *metrics.Registry
	sinks   []SnapshotSink

	state     atomic.Int32
	refreshCh chan struct{}

	mu   sync.RWMutex
	last *TickResult
}

// New builds a scheduler in the idle state. clock may be nil for the
// wall clock; reg may be nil.
func New(cfg Config, runner Runner, c *cache.SnapshotCache, clock Clock, reg *metrics.Registry, sinks ...SnapshotSink) *Scheduler {
	if clock == nil {
		clock = NewRealClock()
	}
	return &Scheduler{
		cfg:       cfg,
		runner:    runner,
		cache:     c,
		clock:     clock,
		metrics:   reg,
		sinks:     sinks,
		refreshCh: make(chan struct{}, 1),
	}
}

// AddSink attaches another fan-out target. Call before Run; the sink
// slice is not guarded once the loop starts.
func (s *Scheduler) AddSink(sink SnapshotSink) {
	s.sinks = append(s.sinks, sink)
}

// Run executes the loop until ctx is cancelled, then returns the
// context error with the scheduler stopped. Cancellation is observed
// while sleeping and at the sleep-to-tick boundary at the latest; a
// cancelled tick never stores a snapshot.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("%w: state %s", ErrNotIdle, s.State())
	}

	log.Info().
		Str("key", s.cfg.Key.String()).
		Dur("interval", s.cfg.Interval).
		Msg("Refresh loop starting")

	for {
		select {
		case <-ctx.Done():
			return s.stop(ctx.Err())
		default:
		}

		s.state.Store(int32(StateRunning))
		s.tick(ctx)

		s.state.Store(int32(StateSleeping))
		select {
		case <-ctx.Done():
			return s.stop(ctx.Err())
		case <-s.refreshCh:
			log.Debug().Msg("Manual refresh requested")
		case <-s.clock.After(s.cfg.Interval):
		}
	}
}

func (s *Scheduler) stop(err error) error {
	s.state.Store(int32(StateStopped))
	log.Info().Msg("Refresh loop stopped")
	return err
}

func (s *Scheduler) tick(ctx context.Context) {
	started := s.clock.Now()
	wall := time.Now()

	snap, cached, err := s.cache.GetOrCompute(s.cfg.Key, s.cfg.Interval, started,
		func() (*domain.Snapshot, error) {
			return s.runner.Run(ctx, s.cfg.Key, started)
		})
	elapsed := time.Since(wall)

	result := TickResult{
		Snapshot: snap,
		Cached:   cached,
		Err:      err,
		Started:  started,
		Duration: elapsed,
	}

	s.mu.Lock()
	if err != nil && s.last != nil {
		result.Snapshot = s.last.Snapshot
	}
	s.last = &result
	s.mu.Unlock()

	s.record(result, started)

	switch {
	case err != nil:
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("Tick failed, previous snapshot retained")
	case cached:
		log.Debug().Dur("elapsed", elapsed).Msg("Tick served from cache")
	default:
		s.fanOut(ctx, snap)
	}
}

func (s *Scheduler) record(result TickResult, now time.Time) {
	if s.metrics == nil {
		return
	}

	switch {
	case result.Err != nil:
		s.metrics.RecordTick("error", result.Duration)
	case result.Cached:
		s.metrics.RecordTick("cached", result.Duration)
		s.metrics.RecordCacheHit()
	default:
		s.metrics.RecordTick("ok", result.Duration)
		s.metrics.RecordCacheMiss()
		s.metrics.RecordSnapshot(result.Snapshot.Trend, result.Snapshot.Velocity)
	}

	if result.Snapshot != nil {
		s.metrics.ObserveSnapshotAge(now.Sub(result.Snapshot.ComputedAt))
	}
}

func (s *Scheduler) fanOut(ctx context.Context, snap *domain.Snapshot) {
	for _, sink := range s.sinks {
		if err := sink.Store(ctx, snap); err != nil {
			log.Warn().Err(err).Str("sink", sink.Name()).Msg("Snapshot sink failed")
		}
	}
}

// RequestRefresh wakes the sleeping loop for an immediate tick.
// Requests made while a tick is running coalesce into one.
func (s *Scheduler) RequestRefresh() {
	select {
	case s.refreshCh <- struct{}{}:
	default:
	}
}

// InvalidateCache clears every cached snapshot; the next tick
// recomputes from the store.
func (s *Scheduler) InvalidateCache() {
	s.cache.InvalidateAll()
}

// ForceRefresh invalidates the cache and triggers an immediate tick.
func (s *Scheduler) ForceRefresh() {
	s.InvalidateCache()
	s.RequestRefresh()
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// LastResult returns the most recent tick outcome.
func (s *Scheduler) LastResult() (TickResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return TickResult{}, false
	}
	return *s.last, true
}
