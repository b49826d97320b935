// Package metrics owns the Prometheus instruments for the daemon.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"

	"github.com/floodline/gaugewatch/internal/domain"
)

// Registry holds all Prometheus metrics for gaugewatch. Each instance
// carries its own prometheus.Registry so tests can build registries
// side by side.
type Registry struct {
	reg *prometheus.Registry

	// Tick metrics
	TickDuration *prometheus.HistogramVec
	Ticks        *prometheus.CounterVec

	// Cache performance
	CacheHitRatio prometheus.Gauge
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter

	// Store round trips
	StoreRequests        *prometheus.CounterVec
	StoreRequestDuration prometheus.Histogram

	// Cleaning counters
	RecordsFetched prometheus.Counter
	RecordsDropped prometheus.Counter
	RecordsDeduped prometheus.Counter

	// Trend state
	TrendState   prometheus.Gauge
	LastVelocity prometheus.Gauge
	SnapshotAge  prometheus.Gauge
}

// NewRegistry creates the gaugewatch metrics and registers them.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		TickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gaugewatch_tick_duration_seconds",
				Help:    "Duration of each refresh tick in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"result"},
		),

		Ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gaugewatch_ticks_total",
				Help: "Total refresh ticks by result (ok, cached, error)",
			},
			[]string{"result"},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gaugewatch_cache_hit_ratio",
				Help: "Snapshot cache hit ratio (0.0 to 1.0)",
			},
		),

		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gaugewatch_cache_hits_total",
				Help: "Total snapshot cache hits",
			},
		),

		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gaugewatch_cache_misses_total",
				Help: "Total snapshot cache misses",
			},
		),

		StoreRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gaugewatch_store_requests_total",
				Help: "Total store round trips by outcome (ok, connection_error, query_error)",
			},
			[]string{"outcome"},
		),

		StoreRequestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gaugewatch_store_request_seconds",
				Help:    "Store round trip latency in seconds",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
		),

		RecordsFetched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gaugewatch_records_fetched_total",
				Help: "Total raw records fetched from the store",
			},
		),

		RecordsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gaugewatch_records_dropped_total",
				Help: "Total records dropped for non-finite values",
			},
		),

		RecordsDeduped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gaugewatch_records_deduped_total",
				Help: "Total duplicate-timestamp records collapsed",
			},
		),

		TrendState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gaugewatch_trend_state",
				Help: "Current trend direction (-1 falling, 0 stable, 1 rising)",
			},
		),

		LastVelocity: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gaugewatch_last_velocity",
				Help: "Latest defined rate of change in units per second",
			},
		),

		SnapshotAge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gaugewatch_snapshot_age_seconds",
				Help: "Age of the latest snapshot in seconds",
			},
		),
	}

	r.reg.MustRegister(
		r.TickDuration,
		r.Ticks,
		r.CacheHitRatio,
		r.CacheHits,
		r.CacheMisses,
		r.StoreRequests,
		r.StoreRequestDuration,
		r.RecordsFetched,
		r.RecordsDropped,
		r.RecordsDeduped,
		r.TrendState,
		r.LastVelocity,
		r.SnapshotAge,
	)

	return r
}

// RecordTick records the outcome and duration of one refresh tick.
func (r *Registry) RecordTick(result string, elapsed time.Duration) {
	r.Ticks.WithLabelValues(result).Inc()
	r.TickDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// RecordCacheHit records a snapshot cache hit.
func (r *Registry) RecordCacheHit() {
	r.CacheHits.Inc()
	r.updateCacheHitRatio()
}

// RecordCacheMiss records a snapshot cache miss.
func (r *Registry) RecordCacheMiss() {
	r.CacheMisses.Inc()
	r.updateCacheHitRatio()
}

// RecordStoreRequest records one store round trip.
func (r *Registry) RecordStoreRequest(outcome string, elapsed time.Duration) {
	r.StoreRequests.WithLabelValues(outcome).Inc()
	r.StoreRequestDuration.Observe(elapsed.Seconds())
}

// RecordClean records the cleaning counters for one batch.
func (r *Registry) RecordClean(fetched, dropped, deduped int) {
	r.RecordsFetched.Add(float64(fetched))
	r.RecordsDropped.Add(float64(dropped))
	r.RecordsDeduped.Add(float64(deduped))
}

// RecordSnapshot publishes the classification of a fresh snapshot.
func (r *Registry) RecordSnapshot(trend domain.TrendState, velocity float64) {
	r.TrendState.Set(trend.Direction())
	r.LastVelocity.Set(velocity)
	r.SnapshotAge.Set(0)
}

// ObserveSnapshotAge updates the age gauge between fresh snapshots.
func (r *Registry) ObserveSnapshotAge(age time.Duration) {
	r.SnapshotAge.Set(age.Seconds())
}

// updateCacheHitRatio recomputes the derived ratio gauge by reading
// the hit and miss counters back.
func (r *Registry) updateCacheHitRatio() {
	hits := counterValue(r.CacheHits)
	misses := counterValue(r.CacheMisses)

	total := hits + misses
	if total > 0 {
		r.CacheHitRatio.Set(hits / total)
	}
}

func counterValue(c prometheus.Counter) float64 {
	m := &io_prometheus_client.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// Handler returns the HTTP handler serving this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gather exposes the underlying registry for tests.
func (r *Registry) Gather() ([]*io_prometheus_client.MetricFamily, error) {
	return r.reg.Gather()
}
