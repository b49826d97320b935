package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floodline/gaugewatch/internal/domain"
)

var (
	testKey  = domain.QueryKey{Mode: domain.ModeRecent, Limit: 500, Window: 12}
	testTTL  = 10 * time.Second
	baseTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
)

func snapAt(t time.Time) *domain.Snapshot {
	return &domain.Snapshot{Key: testKey, ComputedAt: t}
}

func TestGetOrCompute_ProducerOncePerTTLWindow(t *testing.T) {
	c := New()
	calls := 0
	producer := func() (*domain.Snapshot, error) {
		calls++
		return snapAt(baseTime), nil
	}

	first, cached, err := c.GetOrCompute(testKey, testTTL, baseTime, producer)
	require.NoError(t, err)
	assert.False(t, cached)

	// Same key inside the TTL window: served from cache, producer not
	// called again.
	for _, offset := range []time.Duration{time.Second, 5 * time.Second, 9 * time.Second} {
		got, cached, err := c.GetOrCompute(testKey, testTTL, baseTime.Add(offset), producer)
		require.NoError(t, err)
		assert.True(t, cached)
		assert.Same(t, first, got)
	}
	assert.Equal(t, 1, calls)
}

func TestGetOrCompute_RecomputesAfterExpiry(t *testing.T) {
	c := New()
	calls := 0
	producer := func() (*domain.Snapshot, error) {
		calls++
		return snapAt(baseTime), nil
	}

	c.GetOrCompute(testKey, testTTL, baseTime, producer)

	// Exactly at the TTL boundary the entry is stale.
	_, cached, err := c.GetOrCompute(testKey, testTTL, baseTime.Add(testTTL), producer)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, calls)
}

func TestGetOrCompute_ProducerErrorKeepsPreviousEntry(t *testing.T) {
	c := New()
	good := snapAt(baseTime)

	_, _, err := c.GetOrCompute(testKey, testTTL, baseTime, func() (*domain.Snapshot, error) {
		return good, nil
	})
	require.NoError(t, err)

	boom := errors.New("store unreachable")
	_, cached, err := c.GetOrCompute(testKey, testTTL, baseTime.Add(testTTL), func() (*domain.Snapshot, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, cached)

	// The stale snapshot is still there for readers.
	stale, ok := c.Peek(testKey)
	require.True(t, ok)
	assert.Same(t, good, stale)
}

func TestGetOrCompute_DistinctKeysAreIsolated(t *testing.T) {
	c := New()
	other := domain.QueryKey{Mode: domain.ModeRecent, Limit: 100, Window: 12}

	calls := 0
	producer := func() (*domain.Snapshot, error) {
		calls++
		return snapAt(baseTime), nil
	}

	c.GetOrCompute(testKey, testTTL, baseTime, producer)
	c.GetOrCompute(other, testTTL, baseTime, producer)

	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, c.Len())
}

func TestInvalidateAll(t *testing.T) {
	c := New()
	calls := 0
	producer := func() (*domain.Snapshot, error) {
		calls++
		return snapAt(baseTime), nil
	}

	c.GetOrCompute(testKey, testTTL, baseTime, producer)
	c.InvalidateAll()

	assert.Zero(t, c.Len())
	_, ok := c.Peek(testKey)
	assert.False(t, ok)

	// Within the original TTL window, but the entry is gone, so the
	// producer runs again.
	_, cached, err := c.GetOrCompute(testKey, testTTL, baseTime.Add(time.Second), producer)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, calls)
}
