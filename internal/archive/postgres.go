// Package archive persists cleaned readings to PostgreSQL for
// retention beyond the store's own history. Only raw cleaned records
// are written; derived arrays are recomputable and never stored.
//
// Expected schema:
//
//	CREATE TABLE sensor_readings_clean (
//	    sensor_id     text        NOT NULL DEFAULT '',
//	    ts            timestamptz NOT NULL,
//	    reading_value double precision NOT NULL,
//	    PRIMARY KEY (sensor_id, ts)
//	);
package archive

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/floodline/gaugewatch/internal/domain"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Archiver writes snapshot series into a readings table.
type Archiver struct {
	db      *sqlx.DB
	table   string
	timeout time.Duration
}

// Open connects to PostgreSQL and verifies the connection. The table
// name is interpolated into SQL and therefore restricted to plain
// identifiers.
func Open(dsn, table string, timeout time.Duration) (*Archiver, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid archive table name %q", table)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	log.Info().Str("table", table).Msg("Archive database connected")
	return &Archiver{db: db, table: table, timeout: timeout}, nil
}

// NewWithDB wraps an existing connection; tests use this with a mock.
func NewWithDB(db *sqlx.DB, table string, timeout time.Duration) *Archiver {
	return &Archiver{db: db, table: table, timeout: timeout}
}

// Name identifies the sink in logs.
func (a *Archiver) Name() string { return "postgres" }

// Store upserts every record of the snapshot series inside one
// transaction. Re-archiving an overlapping window is safe: conflicting
// rows update in place.
func (a *Archiver) Store(ctx context.Context, snap *domain.Snapshot) error {
	if snap.Empty() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (sensor_id, ts, reading_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (sensor_id, ts) DO UPDATE SET
			reading_value = EXCLUDED.reading_value`, a.table)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare archive insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range snap.Series {
		if _, err := stmt.ExecContext(ctx, rec.SensorID, rec.Timestamp, rec.Value); err != nil {
			tx.Rollback()
			return fmt.Errorf("archive record at %s: %w",
				rec.Timestamp.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}

	log.Debug().Int("records", len(snap.Series)).Msg("Snapshot series archived")
	return nil
}

// CountBetween reports how many archived rows fall inside the
// inclusive window. Used by operational checks.
func (a *Archiver) CountBetween(ctx context.Context, from, to time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE ts >= $1 AND ts <= $2`, a.table)

	var count int64
	if err := a.db.QueryRowxContext(ctx, query, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("count archived rows: %w", err)
	}
	return count, nil
}

// Close releases the database handle.
func (a *Archiver) Close() error {
	return a.db.Close()
}
