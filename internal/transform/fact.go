// Package transform rebuilds the denormalized fact table and the
// pre-aggregated KPI tables from staging.
//
// Both rebuilders are full-replace and deterministic: for a fixed staging
// snapshot, rebuilding any number of times yields identical table content.
// Correctness after a crash comes from rerunning, not from compensating
// logic.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tripfeed-io/tripfeed/internal/config"
	"github.com/tripfeed-io/tripfeed/internal/storage"
)

// ErrFactRebuildFailed is returned when the fact table cannot be rebuilt.
var ErrFactRebuildFailed = errors.New("fact rebuild failed")

// ensureFactSchemaSQL brings derived columns and supporting indexes into
// existence. Every statement tolerates a pre-existing schema, so the
// rebuilder is safe to run against both fresh and migrated databases.
var ensureFactSchemaSQL = []string{
	`ALTER TABLE fact_trips ADD COLUMN IF NOT EXISTS trip_date date`,
	`ALTER TABLE fact_trips ADD COLUMN IF NOT EXISTS trip_hour smallint`,
	`ALTER TABLE fact_trips ADD COLUMN IF NOT EXISTS speed_mph numeric(10,3)`,
	`CREATE INDEX IF NOT EXISTS idx_fact_trip_date ON fact_trips (trip_date)`,
	`CREATE INDEX IF NOT EXISTS idx_fact_trip_hour ON fact_trips (trip_hour)`,
	`CREATE INDEX IF NOT EXISTS idx_fact_payment ON fact_trips (payment_type)`,
	`CREATE INDEX IF NOT EXISTS idx_fact_pickup_area ON fact_trips (pickup_community_area)`,
	`CREATE INDEX IF NOT EXISTS idx_fact_dropoff_area ON fact_trips (dropoff_community_area)`,
}

// rebuildFactSQL repopulates fact_trips from staging. Rows without a primary
// timestamp cannot be bucketed and are excluded entirely. Speed is defined
// only when both distance and a strictly positive duration are present;
// otherwise it is NULL, never a best-effort value.
const rebuildFactSQL = `
	INSERT INTO fact_trips (
		trip_id, trip_start_timestamp, trip_end_timestamp, trip_seconds, trip_miles,
		pickup_community_area, dropoff_community_area,
		payment_type, company,
		fare, tips, tolls, extras, trip_total,
		pickup_centroid_latitude, pickup_centroid_longitude,
		dropoff_centroid_latitude, dropoff_centroid_longitude,
		ingested_at, source_hash,
		trip_date, trip_hour, speed_mph
	)
	SELECT
		trip_id, trip_start_timestamp, trip_end_timestamp, trip_seconds, trip_miles,
		pickup_community_area, dropoff_community_area,
		payment_type, company,
		fare, tips, tolls, extras, trip_total,
		pickup_centroid_latitude, pickup_centroid_longitude,
		dropoff_centroid_latitude, dropoff_centroid_longitude,
		ingested_at, source_hash,
		trip_start_timestamp::date AS trip_date,
		EXTRACT(HOUR FROM trip_start_timestamp)::smallint AS trip_hour,
		CASE
			WHEN trip_seconds IS NOT NULL AND trip_seconds > 0 AND trip_miles IS NOT NULL
				THEN round(trip_miles / (trip_seconds / 3600.0), 3)
			ELSE NULL
		END AS speed_mph
	FROM stg_trips
	WHERE trip_start_timestamp IS NOT NULL
`

// FactRebuilder derives fact_trips from stg_trips as a pure function of the
// staging content at rebuild time.
type FactRebuilder struct {
	conn   *storage.Connection
	logger *slog.Logger
}

// NewFactRebuilder creates a fact rebuilder on the given connection.
func NewFactRebuilder(conn *storage.Connection) (*FactRebuilder, error) {
	if conn == nil {
		return nil, storage.ErrNoDatabaseConnection
	}

	return &FactRebuilder{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// Rebuild ensures the derived schema exists, then atomically replaces the
// fact table content (truncate + repopulate in one transaction). Returns the
// number of fact rows produced.
func (r *FactRebuilder) Rebuild(ctx context.Context) (int64, error) {
	start := time.Now()

	if err := r.ensureDerivedSchema(ctx); err != nil {
		return 0, err
	}

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin transaction: %w", ErrFactRebuildFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	if _, err := tx.ExecContext(ctx, `TRUNCATE TABLE fact_trips`); err != nil {
		return 0, fmt.Errorf("%w: truncate: %w", ErrFactRebuildFailed, err)
	}

	result, err := tx.ExecContext(ctx, rebuildFactSQL)
	if err != nil {
		return 0, fmt.Errorf("%w: repopulate: %w", ErrFactRebuildFailed, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: row count: %w", ErrFactRebuildFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", ErrFactRebuildFailed, err)
	}

	r.logger.Info("fact table rebuilt",
		slog.Int64("rows", rows),
		slog.Duration("duration", time.Since(start)),
	)

	return rows, nil
}

// ensureDerivedSchema applies the derived columns and indexes, treating
// already-exists as a no-op.
func (r *FactRebuilder) ensureDerivedSchema(ctx context.Context) error {
	for _, stmt := range ensureFactSchemaSQL {
		if _, err := r.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: ensure derived schema: %w", ErrFactRebuildFailed, err)
		}
	}

	return nil
}
