// Package domain holds the core telemetry model: raw records, cleaned
// series, trend computation and classification, and the Snapshot that
// bundles one pipeline pass for downstream consumers.
package domain

import (
	"math"
	"time"
)

// Record is a single sensor reading as it arrives from the store.
// Value may be NaN or infinite when the upstream row was not numeric;
// Normalize removes such records. SensorID is empty when the store has
// no sensor column.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"reading_value"`
	SensorID  string    `json:"sensor_name,omitempty"`
}

// Valid reports whether the record carries a finite value.
func (r Record) Valid() bool {
	return !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0)
}

// Series is an ordered run of records. After Normalize it is strictly
// increasing in time with finite values only.
type Series []Record

// Values returns the reading values in series order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i, r := range s {
		out[i] = r.Value
	}
	return out
}

// Timestamps returns the record timestamps in series order.
func (s Series) Timestamps() []time.Time {
	out := make([]time.Time, len(s))
	for i, r := range s {
		out[i] = r.Timestamp
	}
	return out
}

// Last returns the final record and true, or a zero record and false
// when the series is empty.
func (s Series) Last() (Record, bool) {
	if len(s) == 0 {
		return Record{}, false
	}
	return s[len(s)-1], true
}

// Span returns the time covered from first to last record.
func (s Series) Span() time.Duration {
	if len(s) < 2 {
		return 0
	}
	return s[len(s)-1].Timestamp.Sub(s[0].Timestamp)
}
