package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cleanBase = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func rec(offsetSec int, value float64) Record {
	return Record{Timestamp: cleanBase.Add(time.Duration(offsetSec) * time.Second), Value: value}
}

func TestNormalize_SortsAscending(t *testing.T) {
	raw := []Record{rec(30, 3), rec(10, 1), rec(20, 2)}

	out, stats := Normalize(raw)

	require.Len(t, out, 3)
	assert.Equal(t, []float64{1, 2, 3}, out.Values())
	assert.Equal(t, CleanStats{}, stats)
	for i := 1; i < len(out); i++ {
		assert.True(t, out[i-1].Timestamp.Before(out[i].Timestamp))
	}
}

func TestNormalize_DuplicateTimestampKeepsLastSeen(t *testing.T) {
	raw := []Record{rec(0, 10), rec(0, 99), rec(1, 12)}

	out, stats := Normalize(raw)

	require.Len(t, out, 2)
	assert.Equal(t, 99.0, out[0].Value)
	assert.Equal(t, 12.0, out[1].Value)
	assert.Equal(t, 1, stats.Deduped)
}

func TestNormalize_DuplicateAfterSortStillKeepsInputOrderWinner(t *testing.T) {
	// The duplicate pair arrives out of time order; last-seen in input
	// order wins regardless of where sorting places the timestamp.
	raw := []Record{rec(5, 50), rec(1, 11), rec(5, 55), rec(2, 22)}

	out, _ := Normalize(raw)

	require.Len(t, out, 3)
	assert.Equal(t, []float64{11, 22, 55}, out.Values())
}

func TestNormalize_DropsNonFiniteValues(t *testing.T) {
	raw := []Record{
		rec(0, 1),
		rec(1, math.NaN()),
		rec(2, math.Inf(1)),
		rec(3, math.Inf(-1)),
		rec(4, 2),
	}

	out, stats := Normalize(raw)

	require.Len(t, out, 2)
	assert.Equal(t, []float64{1, 2}, out.Values())
	assert.Equal(t, 3, stats.Dropped)
}

func TestNormalize_EmptyAndAllInvalid(t *testing.T) {
	out, stats := Normalize(nil)
	assert.Empty(t, out)
	assert.Zero(t, stats.Dropped)

	out, stats = Normalize([]Record{rec(0, math.NaN()), rec(1, math.Inf(1))})
	assert.Empty(t, out)
	assert.Equal(t, 2, stats.Dropped)
}

func TestNormalize_Idempotent(t *testing.T) {
	raw := []Record{rec(3, 30), rec(1, 10), rec(1, 11), rec(2, math.NaN()), rec(4, 40)}

	once, _ := Normalize(raw)
	twice, stats := Normalize(once)

	assert.Equal(t, once, twice)
	assert.Equal(t, CleanStats{}, stats)
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	raw := []Record{rec(2, 20), rec(1, 10)}
	orig := make([]Record, len(raw))
	copy(orig, raw)

	Normalize(raw)

	assert.Equal(t, orig, raw)
}

func TestPartitionBySensor(t *testing.T) {
	s := Series{
		{Timestamp: cleanBase, Value: 1, SensorID: "b"},
		{Timestamp: cleanBase.Add(time.Second), Value: 2, SensorID: "a"},
		{Timestamp: cleanBase.Add(2 * time.Second), Value: 3, SensorID: "b"},
		{Timestamp: cleanBase.Add(3 * time.Second), Value: 4},
	}

	parts, ids := PartitionBySensor(s)

	assert.Equal(t, []string{"", "a", "b"}, ids)
	assert.Equal(t, []float64{4}, parts[""].Values())
	assert.Equal(t, []float64{2}, parts["a"].Values())
	assert.Equal(t, []float64{1, 3}, parts["b"].Values())
}
