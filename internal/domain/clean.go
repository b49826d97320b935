package domain

import "sort"

// CleanStats counts what Normalize removed from a raw batch.
type CleanStats struct {
	Dropped int `json:"dropped"` // non-finite values
	Deduped int `json:"deduped"` // duplicate timestamps collapsed
}

// Normalize turns a raw batch into a cleaned series: records with
// NaN or infinite values are dropped, duplicate timestamps collapse to
// the last record seen in input order, and the result is sorted
// ascending by timestamp. The input slice is never modified. Running
// Normalize on its own output returns an equal series with zero stats.
func Normalize(raw []Record) (Series, CleanStats) {
	var stats CleanStats
	if len(raw) == 0 {
		return Series{}, stats
	}

	// Last write wins for a repeated timestamp, so iterate in input
	// order and let later records replace earlier ones.
	byTime := make(map[int64]Record, len(raw))
	for _, r := range raw {
		if !r.Valid() {
			stats.Dropped++
			continue
		}
		key := r.Timestamp.UnixNano()
		if _, seen := byTime[key]; seen {
			stats.Deduped++
		}
		byTime[key] = r
	}

	out := make(Series, 0, len(byTime))
	for _, r := range byTime {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, stats
}

// PartitionBySensor splits a cleaned series into per-sensor series,
// preserving order within each partition. Records without a sensor ID
// group under the empty key. Sensor IDs are returned sorted so callers
// iterate deterministically.
func PartitionBySensor(s Series) (map[string]Series, []string) {
	parts := make(map[string]Series)
	for _, r := range s {
		parts[r.SensorID] = append(parts[r.SensorID], r)
	}
	ids := make([]string, 0, len(parts))
	for id := range parts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return parts, ids
}
