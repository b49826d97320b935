// Package export serializes series data for download and artifacts.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/floodline/gaugewatch/internal/domain"
)

// WriteSeries writes the series as CSV: a header row, then one row
// per record with RFC3339 UTC timestamps. The sensor_name column
// appears only when at least one record carries a sensor ID. No index
// column is written.
func WriteSeries(w io.Writer, s domain.Series) error {
	withSensor := false
	for _, r := range s {
		if r.SensorID != "" {
			withSensor = true
			break
		}
	}

	cw := csv.NewWriter(w)

	header := []string{"timestamp", "reading_value"}
	if withSensor {
		header = append(header, "sensor_name")
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, r := range s {
		row := []string{
			r.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatFloat(r.Value, 'g', -1, 64),
		}
		if withSensor {
			row = append(row, r.SensorID)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteSnapshot writes the snapshot's cleaned series.
func WriteSnapshot(w io.Writer, snap *domain.Snapshot) error {
	return WriteSeries(w, snap.Series)
}

// Filename builds a timestamped artifact name for a key, such as
// recent500_20260314_090000.csv.
func Filename(key domain.QueryKey, t time.Time) string {
	var scope string
	switch key.Mode {
	case domain.ModeRange:
		scope = fmt.Sprintf("range_%s_%s",
			key.Start.UTC().Format("20060102"),
			key.End.UTC().Format("20060102"))
	default:
		scope = fmt.Sprintf("recent%d", key.Limit)
	}
	return fmt.Sprintf("%s_%s.csv", scope, t.UTC().Format("20060102_150405"))
}
