package domain

import (
	"fmt"
	"strings"
	"time"
)

// QueryMode selects which slice of the store a pipeline run looks at.
type QueryMode int

const (
	// ModeRecent fetches the newest N readings.
	ModeRecent QueryMode = iota
	// ModeRange fetches every reading inside an inclusive time window.
	ModeRange
)

func (m QueryMode) String() string {
	switch m {
	case ModeRecent:
		return "recent"
	case ModeRange:
		return "range"
	default:
		return "unknown"
	}
}

// ParseQueryMode maps the config/flag spelling to a QueryMode.
func ParseQueryMode(s string) (QueryMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "recent":
		return ModeRecent, nil
	case "range":
		return ModeRange, nil
	default:
		return ModeRecent, fmt.Errorf("unknown query mode %q (want recent or range)", s)
	}
}

func (m QueryMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *QueryMode) UnmarshalText(text []byte) error {
	v, err := ParseQueryMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// QueryKey identifies one pipeline computation: which records to fetch
// and how to compute the trend over them. It is a value type; two keys
// describing the same computation compare equal and produce the same
// CacheKey.
type QueryKey struct {
	Mode     QueryMode `json:"mode"`
	Limit    int       `json:"limit,omitempty"`
	Start    time.Time `json:"start,omitempty"`
	End      time.Time `json:"end,omitempty"`
	SensorID string    `json:"sensor_id,omitempty"`
	Window   int       `json:"window"`
	Align    Align     `json:"align"`
}

// Validate checks the key against the supported parameter domains.
func (k QueryKey) Validate() error {
	if k.Window < 1 || k.Window > 100 {
		return fmt.Errorf("window %d out of range [1,100]", k.Window)
	}
	switch k.Mode {
	case ModeRecent:
		if k.Limit < 1 {
			return fmt.Errorf("recent mode needs limit >= 1, got %d", k.Limit)
		}
	case ModeRange:
		if k.Start.IsZero() || k.End.IsZero() {
			return fmt.Errorf("range mode needs both start and end")
		}
		if k.End.Before(k.Start) {
			return fmt.Errorf("range end %s before start %s",
				k.End.Format(time.RFC3339), k.Start.Format(time.RFC3339))
		}
	default:
		return fmt.Errorf("unknown query mode %d", k.Mode)
	}
	return nil
}

// CacheKey renders the canonical cache identity. Time bounds are
// normalized to UTC so equal instants in different zones share an
// entry.
func (k QueryKey) CacheKey() string {
	var b strings.Builder
	b.WriteString(k.Mode.String())
	switch k.Mode {
	case ModeRecent:
		fmt.Fprintf(&b, ":limit=%d", k.Limit)
	case ModeRange:
		fmt.Fprintf(&b, ":start=%s:end=%s",
			k.Start.UTC().Format(time.RFC3339Nano),
			k.End.UTC().Format(time.RFC3339Nano))
	}
	if k.SensorID != "" {
		fmt.Fprintf(&b, ":sensor=%s", k.SensorID)
	}
	fmt.Fprintf(&b, ":window=%d:align=%s", k.Window, k.Align)
	return b.String()
}

func (k QueryKey) String() string {
	return k.CacheKey()
}

// SensorTrend is one sensor's slice of a partitioned snapshot.
type SensorTrend struct {
	SensorID     string     `json:"sensor_id"`
	Series       Series     `json:"series"`
	RollingAvg   []*float64 `json:"rolling_avg"`
	RateOfChange []*float64 `json:"rate_of_change"`
	Trend        TrendState `json:"trend"`
	Velocity     float64    `json:"velocity"`
}

// Snapshot is the immutable result of one pipeline pass: the cleaned
// series, the derived arrays aligned index-for-index with it, and the
// classification. Consumers share Snapshot pointers freely and must
// not modify them.
type Snapshot struct {
	Key          QueryKey      `json:"key"`
	Series       Series        `json:"series"`
	RollingAvg   []*float64    `json:"rolling_avg"`
	RateOfChange []*float64    `json:"rate_of_change"`
	Trend        TrendState    `json:"trend"`
	Velocity     float64       `json:"velocity"`
	Partitions   []SensorTrend `json:"partitions,omitempty"`
	Dropped      int           `json:"dropped"`
	Deduped      int           `json:"deduped"`
	ComputedAt   time.Time     `json:"computed_at"`
}

// Latest returns the newest record in the snapshot, if any.
func (s *Snapshot) Latest() (Record, bool) {
	return s.Series.Last()
}

// Empty reports whether the snapshot holds no records.
func (s *Snapshot) Empty() bool {
	return len(s.Series) == 0
}
