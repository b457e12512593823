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

// ErrAggregateRebuildFailed is returned when a KPI rollup cannot be rebuilt.
var ErrAggregateRebuildFailed = errors.New("aggregate rebuild failed")

// Daily rollup. p99 is a rank-based percentile over non-null totals: the
// value at ascending rank ceil(0.99 * n) within the date group, so a
// single-row group reports its own total.
const rebuildDailySQL = `
	INSERT INTO daily_kpis (
		dt, trips, revenue_total, revenue_per_trip, tips_total, tip_rate,
		avg_trip_miles, avg_trip_seconds, avg_speed_mph, p99_trip_total
	)
	SELECT
		trip_date AS dt,
		COUNT(*) AS trips,
		SUM(trip_total) AS revenue_total,
		CASE WHEN COUNT(*) > 0 THEN SUM(trip_total) / COUNT(*) ELSE NULL END AS revenue_per_trip,
		SUM(tips) AS tips_total,
		CASE WHEN SUM(trip_total) > 0 THEN SUM(tips) / SUM(trip_total) ELSE NULL END AS tip_rate,
		AVG(trip_miles) AS avg_trip_miles,
		AVG(trip_seconds) AS avg_trip_seconds,
		AVG(speed_mph) AS avg_speed_mph,
		percentile_disc(0.99) WITHIN GROUP (ORDER BY trip_total)
			FILTER (WHERE trip_total IS NOT NULL) AS p99_trip_total
	FROM fact_trips
	WHERE trip_date IS NOT NULL
	GROUP BY trip_date
`

// Hourly rollup over rows where both buckets are present.
const rebuildHourlySQL = `
	INSERT INTO hourly_kpis (dt, hour, trips, revenue_total, avg_trip_seconds, avg_speed_mph)
	SELECT
		trip_date AS dt,
		trip_hour AS hour,
		COUNT(*) AS trips,
		SUM(trip_total) AS revenue_total,
		AVG(trip_seconds) AS avg_trip_seconds,
		AVG(speed_mph) AS avg_speed_mph
	FROM fact_trips
	WHERE trip_date IS NOT NULL AND trip_hour IS NOT NULL
	GROUP BY trip_date, trip_hour
`

// Payment rollup. A missing payment type is a real category ("Unknown"),
// not a reason to drop the row.
const rebuildPaymentSQL = `
	INSERT INTO payment_kpis (dt, payment_type, trips, revenue_total)
	SELECT
		trip_date AS dt,
		COALESCE(payment_type, 'Unknown') AS payment_type,
		COUNT(*) AS trips,
		SUM(trip_total) AS revenue_total
	FROM fact_trips
	WHERE trip_date IS NOT NULL
	GROUP BY trip_date, COALESCE(payment_type, 'Unknown')
`

// Zone rollup: one pass per zone role, unioned into a single table tagged by
// the role discriminator. A row participates in a pass only when its
// respective area is present.
const rebuildZonePickupSQL = `
	INSERT INTO zone_kpis (dt, zone_type, community_area, trips, revenue_total)
	SELECT
		trip_date AS dt,
		'pickup' AS zone_type,
		pickup_community_area AS community_area,
		COUNT(*) AS trips,
		SUM(trip_total) AS revenue_total
	FROM fact_trips
	WHERE trip_date IS NOT NULL AND pickup_community_area IS NOT NULL
	GROUP BY trip_date, pickup_community_area
`

const rebuildZoneDropoffSQL = `
	INSERT INTO zone_kpis (dt, zone_type, community_area, trips, revenue_total)
	SELECT
		trip_date AS dt,
		'dropoff' AS zone_type,
		dropoff_community_area AS community_area,
		COUNT(*) AS trips,
		SUM(trip_total) AS revenue_total
	FROM fact_trips
	WHERE trip_date IS NOT NULL AND dropoff_community_area IS NOT NULL
	GROUP BY trip_date, dropoff_community_area
`

// AggregateCounts reports the number of rows produced per rollup table.
type AggregateCounts struct {
	Daily   int64
	Hourly  int64
	Payment int64
	Zone    int64
}

// AggregateRebuilder recomputes the four KPI rollups from the fact table.
//
// Each rollup is a full truncate-then-insert replacement in its own
// transaction; values are pure functions of the current fact content for
// their grouping key.
type AggregateRebuilder struct {
	conn   *storage.Connection
	logger *slog.Logger
}

// NewAggregateRebuilder creates an aggregate rebuilder on the given connection.
func NewAggregateRebuilder(conn *storage.Connection) (*AggregateRebuilder, error) {
	if conn == nil {
		return nil, storage.ErrNoDatabaseConnection
	}

	return &AggregateRebuilder{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// Rebuild replaces all four KPI tables and returns per-table row counts.
func (r *AggregateRebuilder) Rebuild(ctx context.Context) (*AggregateCounts, error) {
	start := time.Now()
	counts := &AggregateCounts{}

	var err error

	if counts.Daily, err = r.replaceTable(ctx, "daily_kpis", rebuildDailySQL); err != nil {
		return nil, err
	}

	if counts.Hourly, err = r.replaceTable(ctx, "hourly_kpis", rebuildHourlySQL); err != nil {
		return nil, err
	}

	if counts.Payment, err = r.replaceTable(ctx, "payment_kpis", rebuildPaymentSQL); err != nil {
		return nil, err
	}

	if counts.Zone, err = r.replaceTable(ctx, "zone_kpis", rebuildZonePickupSQL, rebuildZoneDropoffSQL); err != nil {
		return nil, err
	}

	r.logger.Info("aggregates rebuilt",
		slog.Int64("daily", counts.Daily),
		slog.Int64("hourly", counts.Hourly),
		slog.Int64("payment", counts.Payment),
		slog.Int64("zone", counts.Zone),
		slog.Duration("duration", time.Since(start)),
	)

	return counts, nil
}

// replaceTable truncates one rollup table and repopulates it from the given
// insert statements inside a single transaction.
func (r *AggregateRebuilder) replaceTable(ctx context.Context, table string, inserts ...string) (int64, error) {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin transaction for %s: %w", ErrAggregateRebuildFailed, table, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	if _, err := tx.ExecContext(ctx, `TRUNCATE TABLE `+table); err != nil { //nolint:gosec // table names are package constants
		return 0, fmt.Errorf("%w: truncate %s: %w", ErrAggregateRebuildFailed, table, err)
	}

	var total int64

	for _, insert := range inserts {
		result, err := tx.ExecContext(ctx, insert)
		if err != nil {
			return 0, fmt.Errorf("%w: repopulate %s: %w", ErrAggregateRebuildFailed, table, err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("%w: row count for %s: %w", ErrAggregateRebuildFailed, table, err)
		}

		total += rows
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit %s: %w", ErrAggregateRebuildFailed, table, err)
	}

	return total, nil
}
