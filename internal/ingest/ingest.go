// Package ingest turns a query key into one batch of raw records.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/floodline/gaugewatch/internal/domain"
	"github.com/floodline/gaugewatch/internal/store"
)

// Fetcher is the slice of the store client the ingestor needs.
type Fetcher interface {
	Fetch(ctx context.Context, q store.Query) ([]store.Row, error)
}

// Ingestor translates query keys into store fetches. It performs one
// round trip per call and never retries; scheduling owns the retry
// cadence.
type Ingestor struct {
	fetcher Fetcher
	table   string
}

// New builds an ingestor reading from the given table.
func New(fetcher Fetcher, table string) *Ingestor {
	return &Ingestor{fetcher: fetcher, table: table}
}

// Fetch returns the raw records selected by key. The batch order is
// whatever the store query produced; recent-mode batches arrive newest
// first and are left that way for the cleaner to sort.
func (i *Ingestor) Fetch(ctx context.Context, key domain.QueryKey) ([]domain.Record, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrQuery, err)
	}

	q := store.Query{Table: i.table, SensorID: key.SensorID}
	switch key.Mode {
	case domain.ModeRecent:
		q.Descending = true
		q.Limit = key.Limit
	case domain.ModeRange:
		q.GTE = key.Start
		q.LTE = key.End
	}

	start := time.Now()
	rows, err := i.fetcher.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	records := make([]domain.Record, len(rows))
	for n, row := range rows {
		records[n] = domain.Record{
			Timestamp: row.Timestamp,
			Value:     row.Value,
			SensorID:  row.SensorID,
		}
	}

	log.Debug().
		Str("key", key.String()).
		Int("records", len(records)).
		Dur("elapsed", time.Since(start)).
		Msg("Fetched batch")

	return records, nil
}
