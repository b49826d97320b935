// Package cache memoizes pipeline snapshots per query key with a
// caller-supplied TTL and clock.
package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/floodline/gaugewatch/internal/domain"
)

type entry struct {
	snap       *domain.Snapshot
	producedAt time.Time
}

// SnapshotCache keys snapshots by QueryKey.CacheKey. Stored snapshots
// are immutable, so handing the same pointer to concurrent readers is
// safe. The refresh loop is the only producer; the cache itself does
// not de-duplicate concurrent computes.
type SnapshotCache struct {
	mu      sync.Mutex
	entries map[string]entry
}

// New creates an empty snapshot cache.
func New() *SnapshotCache {
	return &SnapshotCache{entries: make(map[string]entry)}
}

// GetOrCompute returns the cached snapshot for key when it is younger
// than ttl as of now, otherwise runs producer. A producer error leaves
// any previous entry untouched so stale results stay servable; a
// successful produce replaces the entry with producedAt = now. The
// second return reports whether the snapshot came from cache.
func (c *SnapshotCache) GetOrCompute(key domain.QueryKey, ttl time.Duration, now time.Time,
	producer func() (*domain.Snapshot, error)) (*domain.Snapshot, bool, error) {

	ck := key.CacheKey()

	c.mu.Lock()
	if e, ok := c.entries[ck]; ok && now.Sub(e.producedAt) < ttl {
		c.mu.Unlock()
		return e.snap, true, nil
	}
	c.mu.Unlock()

	// Produce outside the lock: the pipeline can take a while and
	// readers of other keys should not queue behind it.
	snap, err := producer()
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	c.entries[ck] = entry{snap: snap, producedAt: now}
	c.mu.Unlock()

	return snap, false, nil
}

// Peek returns the cached snapshot for key regardless of age.
func (c *SnapshotCache) Peek(key domain.QueryKey) (*domain.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.CacheKey()]
	if !ok {
		return nil, false
	}
	return e.snap, true
}

// InvalidateAll drops every entry. The next tick recomputes from the
// store.
func (c *SnapshotCache) InvalidateAll() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]entry)
	c.mu.Unlock()

	log.Info().Int("entries", n).Msg("Snapshot cache cleared")
}

// Len reports the number of cached entries.
func (c *SnapshotCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
