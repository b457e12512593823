package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tripfeed-io/tripfeed/internal/config"
	"github.com/tripfeed-io/tripfeed/internal/trips"
)

var (
	// ErrStateStoreFailed is returned when an ingestion-state operation fails.
	ErrStateStoreFailed = errors.New("ingestion state operation failed")

	// ErrStateNotFound is returned when advancing state for an unknown dataset.
	ErrStateNotFound = errors.New("ingestion state row not found")

	// Compile-time interface assertion.
	_ trips.StateStore = (*StateStore)(nil)
)

// StateStore implements trips.StateStore with a PostgreSQL backend.
//
// One row per dataset in ingestion_state. The row is created lazily on first
// run and mutated only at the end of a successful full pagination pass; it is
// never deleted.
type StateStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewStateStore creates a PostgreSQL-backed ingestion state store.
func NewStateStore(conn *Connection) (*StateStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &StateStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// Ensure implements trips.StateStore.
// Inserts a state row with a null watermark if absent; a no-op otherwise.
func (s *StateStore) Ensure(ctx context.Context, dataset string) error {
	query := `
		INSERT INTO ingestion_state (dataset, last_watermark_ts, last_run_at, status)
		VALUES ($1, NULL, NULL, NULL)
		ON CONFLICT (dataset) DO NOTHING
	`

	if _, err := s.conn.ExecContext(ctx, query, dataset); err != nil {
		return fmt.Errorf("%w: ensure %q: %w", ErrStateStoreFailed, dataset, err)
	}

	return nil
}

// Watermark implements trips.StateStore.
// Returns nil (not an error) when the dataset has never completed a run.
func (s *StateStore) Watermark(ctx context.Context, dataset string) (*time.Time, error) {
	query := `SELECT last_watermark_ts FROM ingestion_state WHERE dataset = $1`

	var watermark sql.NullTime

	err := s.conn.QueryRowContext(ctx, query, dataset).Scan(&watermark)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: read watermark for %q: %w", ErrStateStoreFailed, dataset, err)
	}

	if !watermark.Valid {
		return nil, nil
	}

	ts := watermark.Time.UTC()

	return &ts, nil
}

// Advance implements trips.StateStore.
// Sets the watermark and records run metadata. Callers only invoke this after
// a full pagination pass with at least one observed record, so the stored
// watermark never moves without evidence.
func (s *StateStore) Advance(ctx context.Context, dataset string, watermark time.Time, note string) error {
	query := `
		UPDATE ingestion_state
		SET last_watermark_ts = $2, last_run_at = now(), status = 'ok', notes = $3
		WHERE dataset = $1
	`

	result, err := s.conn.ExecContext(ctx, query, dataset, watermark, note)
	if err != nil {
		return fmt.Errorf("%w: advance %q: %w", ErrStateStoreFailed, dataset, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: advance %q: %w", ErrStateStoreFailed, dataset, err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %q", ErrStateNotFound, dataset)
	}

	s.logger.Info("watermark advanced",
		slog.String("dataset", dataset),
		slog.Time("watermark", watermark),
	)

	return nil
}
