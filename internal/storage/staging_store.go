package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/tripfeed-io/tripfeed/internal/config"
	"github.com/tripfeed-io/tripfeed/internal/trips"
)

var (
	// ErrStagingUpsertFailed is returned when a staging batch cannot be written.
	ErrStagingUpsertFailed = errors.New("staging upsert failed")

	// Compile-time interface assertion.
	_ trips.StagingStore = (*StagingStore)(nil)
)

// upsertTripSQL overwrites every field on conflict: the source record is
// authoritative, and last-write-wins within a run keeps replays idempotent.
// source_hash is a reserved column and is always written NULL; writes are
// never gated on it.
const upsertTripSQL = `
	INSERT INTO stg_trips (
		trip_id, trip_start_timestamp, trip_end_timestamp, trip_seconds, trip_miles,
		pickup_community_area, dropoff_community_area,
		payment_type, company,
		fare, tips, tolls, extras, trip_total,
		pickup_centroid_latitude, pickup_centroid_longitude,
		dropoff_centroid_latitude, dropoff_centroid_longitude,
		source_hash
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NULL)
	ON CONFLICT (trip_id) DO UPDATE SET
		trip_start_timestamp = EXCLUDED.trip_start_timestamp,
		trip_end_timestamp = EXCLUDED.trip_end_timestamp,
		trip_seconds = EXCLUDED.trip_seconds,
		trip_miles = EXCLUDED.trip_miles,
		pickup_community_area = EXCLUDED.pickup_community_area,
		dropoff_community_area = EXCLUDED.dropoff_community_area,
		payment_type = EXCLUDED.payment_type,
		company = EXCLUDED.company,
		fare = EXCLUDED.fare,
		tips = EXCLUDED.tips,
		tolls = EXCLUDED.tolls,
		extras = EXCLUDED.extras,
		trip_total = EXCLUDED.trip_total,
		pickup_centroid_latitude = EXCLUDED.pickup_centroid_latitude,
		pickup_centroid_longitude = EXCLUDED.pickup_centroid_longitude,
		dropoff_centroid_latitude = EXCLUDED.dropoff_centroid_latitude,
		dropoff_centroid_longitude = EXCLUDED.dropoff_centroid_longitude,
		source_hash = EXCLUDED.source_hash,
		ingested_at = now()
`

// StagingStore implements trips.StagingStore with a PostgreSQL backend.
//
// Each batch is written in a single transaction so a crash leaves either the
// pre-write or the fully committed post-write state, never a partial batch.
type StagingStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewStagingStore creates a PostgreSQL-backed staging upserter.
func NewStagingStore(conn *Connection) (*StagingStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &StagingStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// UpsertBatch implements trips.StagingStore.
//
// Inserts new identifiers and overwrites every field for existing ones. Rows
// with a nil identifier are skipped with a warning; a missing key can never
// collide with another row. Returns the number of rows written.
func (s *StagingStore) UpsertBatch(ctx context.Context, rows []*trips.TripRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin transaction: %w", ErrStagingUpsertFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	stmt, err := tx.PrepareContext(ctx, upsertTripSQL)
	if err != nil {
		return 0, fmt.Errorf("%w: prepare statement: %w", ErrStagingUpsertFailed, err)
	}

	defer func() {
		_ = stmt.Close()
	}()

	written := 0

	for _, row := range rows {
		if row == nil || row.TripID == nil {
			s.logger.Warn("skipping record without trip identifier")

			continue
		}

		_, err := stmt.ExecContext(ctx,
			row.TripID,
			row.TripStartTimestamp,
			row.TripEndTimestamp,
			row.TripSeconds,
			row.TripMiles,
			row.PickupCommunityArea,
			row.DropoffCommunityArea,
			row.PaymentType,
			row.Company,
			row.Fare,
			row.Tips,
			row.Tolls,
			row.Extras,
			row.TripTotal,
			row.PickupCentroidLatitude,
			row.PickupCentroidLongitude,
			row.DropoffCentroidLatitude,
			row.DropoffCentroidLongitude,
		)
		if err != nil {
			return 0, fmt.Errorf("%w: upsert trip %s: %w", ErrStagingUpsertFailed, *row.TripID, err)
		}

		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", ErrStagingUpsertFailed, err)
	}

	return written, nil
}
