// Package pipeline runs one full pass: fetch raw records, clean them,
// compute the trend arrays, classify, and assemble the snapshot.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/floodline/gaugewatch/internal/domain"
	"github.com/floodline/gaugewatch/internal/metrics"
)

// Source yields the raw records for a query key. Implemented by the
// ingestor; tests swap in fakes.
type Source interface {
	Fetch(ctx context.Context, key domain.QueryKey) ([]domain.Record, error)
}

// Pipeline wires the stages together. Partition adds per-sensor trend
// slices to each snapshot when the batch carries at least two sensor
// IDs.
type Pipeline struct {
	source    Source
	partition bool
	metrics   *metrics.Registry
}

// New builds a pipeline over the given record source. reg may be nil.
func New(source Source, partition bool, reg *metrics.Registry) *Pipeline {
	return &Pipeline{source: source, partition: partition, metrics: reg}
}

// Run produces the snapshot for key with ComputedAt = now. A fetch
// error aborts the run with no snapshot; an empty batch is a valid
// empty snapshot. The returned snapshot is complete: it is never
// handed out partially filled.
func (p *Pipeline) Run(ctx context.Context, key domain.QueryKey, now time.Time) (*domain.Snapshot, error) {
	start := time.Now()

	raw, err := p.source.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	series, stats := domain.Normalize(raw)
	if p.metrics != nil {
		p.metrics.RecordClean(len(raw), stats.Dropped, stats.Deduped)
	}

	avg, vel, err := domain.Compute(series, key.Window, key.Align)
	if err != nil {
		return nil, err
	}
	trend, velocity := domain.Classify(vel)

	snap := &domain.Snapshot{
		Key:          key,
		Series:       series,
		RollingAvg:   avg,
		RateOfChange: vel,
		Trend:        trend,
		Velocity:     velocity,
		Dropped:      stats.Dropped,
		Deduped:      stats.Deduped,
		ComputedAt:   now,
	}

	if p.partition {
		snap.Partitions, err = partitions(series, key)
		if err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("key", key.String()).
		Int("fetched", len(raw)).
		Int("kept", len(series)).
		Int("dropped", stats.Dropped).
		Int("deduped", stats.Deduped).
		Str("trend", trend.String()).
		Float64("velocity", velocity).
		Dur("elapsed", time.Since(start)).
		Msg("Pipeline run complete")

	return snap, nil
}

// partitions computes one trend slice per sensor. A batch with fewer
// than two sensor IDs gains nothing over the combined series, so it
// gets no partitions.
func partitions(series domain.Series, key domain.QueryKey) ([]domain.SensorTrend, error) {
	parts, ids := domain.PartitionBySensor(series)
	if len(ids) < 2 {
		return nil, nil
	}

	out := make([]domain.SensorTrend, 0, len(ids))
	for _, id := range ids {
		sub := parts[id]
		avg, vel, err := domain.Compute(sub, key.Window, key.Align)
		if err != nil {
			return nil, err
		}
		trend, velocity := domain.Classify(vel)
		out = append(out, domain.SensorTrend{
			SensorID:     id,
			Series:       sub,
			RollingAvg:   avg,
			RateOfChange: vel,
			Trend:        trend,
			Velocity:     velocity,
		})
	}
	return out, nil
}
