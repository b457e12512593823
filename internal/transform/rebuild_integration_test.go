package transform

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/tripfeed-io/tripfeed/internal/config"
	"github.com/tripfeed-io/tripfeed/internal/storage"
	"github.com/tripfeed-io/tripfeed/internal/trips"
)

// setupWarehouse starts a migrated PostgreSQL container and seeds staging with
// a small fixed trip set exercising the derivation edge cases.
func setupWarehouse(ctx context.Context, t *testing.T) *storage.Connection {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn := storage.WrapDB(testDB.Connection)

	stagingStore, err := storage.NewStagingStore(conn)
	require.NoError(t, err)

	records := []trips.RawRecord{
		{
			// Clean row: 10 miles in 1800 seconds is exactly 20 mph.
			"trip_id":                "t-1",
			"trip_start_timestamp":   "2024-05-01T08:15:00",
			"trip_end_timestamp":     "2024-05-01T08:45:00",
			"trip_seconds":           "1800",
			"trip_miles":             "10.0",
			"pickup_community_area":  "8",
			"dropoff_community_area": "32",
			"payment_type":           "Cash",
			"company":                "Flash Cab",
			"fare":                   "18.00",
			"tips":                   "2.00",
			"trip_total":             "22.00",
		},
		{
			// Zero duration: speed must be NULL, not infinity.
			"trip_id":               "t-2",
			"trip_start_timestamp":  "2024-05-01T08:45:00",
			"trip_seconds":          "0",
			"trip_miles":            "5.0",
			"pickup_community_area": "8",
			"payment_type":          "Credit Card",
			"tips":                  "0",
			"trip_total":            "10.00",
		},
		{
			// No payment type, no duration, no distance, no pickup area.
			"trip_id":                "t-3",
			"trip_start_timestamp":   "2024-05-01T23:05:00",
			"dropoff_community_area": "32",
			"tips":                   "1.00",
			"trip_total":             "8.00",
		},
		{
			// Sole trip of its day: the daily p99 must be its own total.
			"trip_id":                "t-4",
			"trip_start_timestamp":   "2024-05-02T10:00:00",
			"trip_seconds":           "600",
			"trip_miles":             "3.0",
			"pickup_community_area":  "8",
			"dropoff_community_area": "32",
			"payment_type":           "Cash",
			"tips":                   "5.00",
			"trip_total":             "50.00",
		},
		{
			// No primary timestamp: stays in staging, never reaches the fact table.
			"trip_id":    "t-5",
			"trip_total": "99.00",
		},
	}

	rows := make([]*trips.TripRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, trips.NormalizeRecord(rec))
	}

	written, err := stagingStore.UpsertBatch(ctx, rows)
	require.NoError(t, err)
	require.Equal(t, len(records), written)

	return conn
}

func TestFactRebuildIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupWarehouse(ctx, t)

	rebuilder, err := NewFactRebuilder(conn)
	require.NoError(t, err)

	rows, err := rebuilder.Rebuild(ctx)
	require.NoError(t, err)

	// t-5 has no timestamp and is excluded.
	assert.Equal(t, int64(4), rows)

	type factRow struct {
		tripDate string
		tripHour sql.NullInt64
		speed    sql.NullFloat64
	}

	readFact := func(tripID string) factRow {
		var fr factRow

		err := conn.QueryRowContext(ctx,
			`SELECT trip_date::text, trip_hour, speed_mph FROM fact_trips WHERE trip_id = $1`, tripID).
			Scan(&fr.tripDate, &fr.tripHour, &fr.speed)
		require.NoError(t, err)

		return fr
	}

	clean := readFact("t-1")
	assert.Equal(t, "2024-05-01", clean.tripDate)
	require.True(t, clean.tripHour.Valid)
	assert.Equal(t, int64(8), clean.tripHour.Int64)
	require.True(t, clean.speed.Valid)
	assert.InDelta(t, 20.0, clean.speed.Float64, 1e-9)

	zeroDuration := readFact("t-2")
	assert.False(t, zeroDuration.speed.Valid, "zero trip_seconds must yield NULL speed")

	sparse := readFact("t-3")
	assert.Equal(t, "2024-05-01", sparse.tripDate)
	require.True(t, sparse.tripHour.Valid)
	assert.Equal(t, int64(23), sparse.tripHour.Int64)
	assert.False(t, sparse.speed.Valid, "missing duration and distance must yield NULL speed")

	var excluded int
	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT count(*) FROM fact_trips WHERE trip_id = 't-5'`).Scan(&excluded))
	assert.Zero(t, excluded)
}

func TestFactRebuildIsDeterministicIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupWarehouse(ctx, t)

	rebuilder, err := NewFactRebuilder(conn)
	require.NoError(t, err)

	first, err := rebuilder.Rebuild(ctx)
	require.NoError(t, err)

	second, err := rebuilder.Rebuild(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	// No duplicates across rebuilds: the replace is total, not additive.
	var count int64
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT count(*) FROM fact_trips`).Scan(&count))
	assert.Equal(t, first, count)
}

func TestDailyKpisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupWarehouse(ctx, t)

	factRebuilder, err := NewFactRebuilder(conn)
	require.NoError(t, err)
	_, err = factRebuilder.Rebuild(ctx)
	require.NoError(t, err)

	aggRebuilder, err := NewAggregateRebuilder(conn)
	require.NoError(t, err)

	counts, err := aggRebuilder.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Daily)

	var (
		tripCount      int64
		revenueTotal   sql.NullFloat64
		revenuePerTrip sql.NullFloat64
		tipsTotal      sql.NullFloat64
		tipRate        sql.NullFloat64
		avgSpeed       sql.NullFloat64
		p99            sql.NullFloat64
		refreshedAt    sql.NullTime
	)

	err = conn.QueryRowContext(ctx, `
		SELECT trips, revenue_total, revenue_per_trip, tips_total, tip_rate,
		       avg_speed_mph, p99_trip_total, refreshed_at
		FROM daily_kpis WHERE dt = '2024-05-01'
	`).Scan(&tripCount, &revenueTotal, &revenuePerTrip, &tipsTotal, &tipRate, &avgSpeed, &p99, &refreshedAt)
	require.NoError(t, err)

	assert.Equal(t, int64(3), tripCount)
	require.True(t, revenueTotal.Valid)
	assert.InDelta(t, 40.0, revenueTotal.Float64, 1e-6)
	require.True(t, revenuePerTrip.Valid)
	assert.InDelta(t, 40.0/3.0, revenuePerTrip.Float64, 1e-4)
	require.True(t, tipsTotal.Valid)
	assert.InDelta(t, 3.0, tipsTotal.Float64, 1e-6)
	require.True(t, tipRate.Valid)
	assert.InDelta(t, 0.075, tipRate.Float64, 1e-6)

	// Only t-1 has a defined speed; the average ignores NULLs.
	require.True(t, avgSpeed.Valid)
	assert.InDelta(t, 20.0, avgSpeed.Float64, 1e-6)

	// Highest of {8, 10, 22}.
	require.True(t, p99.Valid)
	assert.InDelta(t, 22.0, p99.Float64, 1e-6)

	assert.True(t, refreshedAt.Valid)

	// A single-trip day reports its own total as the p99.
	err = conn.QueryRowContext(ctx,
		`SELECT trips, p99_trip_total FROM daily_kpis WHERE dt = '2024-05-02'`).
		Scan(&tripCount, &p99)
	require.NoError(t, err)

	assert.Equal(t, int64(1), tripCount)
	require.True(t, p99.Valid)
	assert.InDelta(t, 50.0, p99.Float64, 1e-6)
}

func TestHourlyKpisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupWarehouse(ctx, t)

	factRebuilder, err := NewFactRebuilder(conn)
	require.NoError(t, err)
	_, err = factRebuilder.Rebuild(ctx)
	require.NoError(t, err)

	aggRebuilder, err := NewAggregateRebuilder(conn)
	require.NoError(t, err)

	counts, err := aggRebuilder.Rebuild(ctx)
	require.NoError(t, err)

	// (05-01, 8), (05-01, 23), (05-02, 10).
	assert.Equal(t, int64(3), counts.Hourly)

	var (
		tripCount    int64
		revenueTotal sql.NullFloat64
	)

	err = conn.QueryRowContext(ctx,
		`SELECT trips, revenue_total FROM hourly_kpis WHERE dt = '2024-05-01' AND hour = 8`).
		Scan(&tripCount, &revenueTotal)
	require.NoError(t, err)

	assert.Equal(t, int64(2), tripCount)
	require.True(t, revenueTotal.Valid)
	assert.InDelta(t, 32.0, revenueTotal.Float64, 1e-6)
}

func TestPaymentKpisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupWarehouse(ctx, t)

	factRebuilder, err := NewFactRebuilder(conn)
	require.NoError(t, err)
	_, err = factRebuilder.Rebuild(ctx)
	require.NoError(t, err)

	aggRebuilder, err := NewAggregateRebuilder(conn)
	require.NoError(t, err)

	counts, err := aggRebuilder.Rebuild(ctx)
	require.NoError(t, err)

	// 05-01: Cash, Credit Card, Unknown; 05-02: Cash.
	assert.Equal(t, int64(4), counts.Payment)

	var (
		tripCount    int64
		revenueTotal sql.NullFloat64
	)

	err = conn.QueryRowContext(ctx,
		`SELECT trips, revenue_total FROM payment_kpis WHERE dt = '2024-05-01' AND payment_type = 'Unknown'`).
		Scan(&tripCount, &revenueTotal)
	require.NoError(t, err)

	assert.Equal(t, int64(1), tripCount)
	require.True(t, revenueTotal.Valid)
	assert.InDelta(t, 8.0, revenueTotal.Float64, 1e-6)
}

func TestZoneKpisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupWarehouse(ctx, t)

	factRebuilder, err := NewFactRebuilder(conn)
	require.NoError(t, err)
	_, err = factRebuilder.Rebuild(ctx)
	require.NoError(t, err)

	aggRebuilder, err := NewAggregateRebuilder(conn)
	require.NoError(t, err)

	counts, err := aggRebuilder.Rebuild(ctx)
	require.NoError(t, err)

	// Pickup: (05-01, 8), (05-02, 8). Dropoff: (05-01, 32), (05-02, 32).
	assert.Equal(t, int64(4), counts.Zone)

	var tripCount int64

	// t-2 has a pickup area but no dropoff area; it counts once, as a pickup.
	err = conn.QueryRowContext(ctx,
		`SELECT trips FROM zone_kpis WHERE dt = '2024-05-01' AND zone_type = 'pickup' AND community_area = 8`).
		Scan(&tripCount)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tripCount)

	// t-3 has a dropoff area but no pickup area; it counts once, as a dropoff.
	err = conn.QueryRowContext(ctx,
		`SELECT trips FROM zone_kpis WHERE dt = '2024-05-01' AND zone_type = 'dropoff' AND community_area = 32`).
		Scan(&tripCount)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tripCount)
}

func TestAggregateRebuildIsDeterministicIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupWarehouse(ctx, t)

	factRebuilder, err := NewFactRebuilder(conn)
	require.NoError(t, err)
	_, err = factRebuilder.Rebuild(ctx)
	require.NoError(t, err)

	aggRebuilder, err := NewAggregateRebuilder(conn)
	require.NoError(t, err)

	first, err := aggRebuilder.Rebuild(ctx)
	require.NoError(t, err)

	second, err := aggRebuilder.Rebuild(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	// Rollups never accumulate across rebuilds.
	var dailyCount int64
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT count(*) FROM daily_kpis`).Scan(&dailyCount))
	assert.Equal(t, first.Daily, dailyCount)
}

func TestRebuildersRequireConnection(t *testing.T) {
	_, err := NewFactRebuilder(nil)
	require.ErrorIs(t, err, storage.ErrNoDatabaseConnection)

	_, err = NewAggregateRebuilder(nil)
	require.ErrorIs(t, err, storage.ErrNoDatabaseConnection)
}
