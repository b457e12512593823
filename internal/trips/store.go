package trips

import (
	"context"
	"time"
)

// PageSource is the contract the coordinator consumes for fetching ordered
// pages of raw records. Implementations own transport-level concerns (HTTP
// session, tokens, rate limiting, retries); a returned error is fatal for the
// current run.
type PageSource interface {
	// FetchPage returns one page of raw records for the given query.
	// An empty slice (not an error) signals the source is exhausted.
	FetchPage(ctx context.Context, query PageQuery) ([]RawRecord, error)

	// MaxTimestamp returns the maximum value of the given timestamp field
	// across the whole dataset, used only to bootstrap the first run.
	// Returns nil when the dataset has no usable timestamp.
	MaxTimestamp(ctx context.Context, field string) (*time.Time, error)
}

// StateStore persists per-dataset ingestion state: the watermark of the
// latest successfully ingested record plus run metadata.
type StateStore interface {
	// Ensure inserts a state row with a null watermark if absent.
	// Idempotent; safe to call at the start of every run.
	Ensure(ctx context.Context, dataset string) error

	// Watermark returns the stored watermark, or nil if the dataset has
	// never completed a run.
	Watermark(ctx context.Context, dataset string) (*time.Time, error)

	// Advance sets the watermark to the given timestamp and records run
	// metadata (last run time, success status, note). Called only after a
	// full pagination pass completes with at least one record observed.
	Advance(ctx context.Context, dataset string, watermark time.Time, note string) error
}

// StagingStore writes normalized rows with insert-or-update semantics keyed
// by the trip identifier, so re-ingesting a record converges to the same
// stored state.
type StagingStore interface {
	// UpsertBatch writes a batch of normalized rows and returns the number
	// of rows written. Rows with a nil identifier must be skipped, never
	// merged under a shared key.
	UpsertBatch(ctx context.Context, rows []*TripRow) (int, error)
}

// PageWriter records each fetched page verbatim to an append-only audit
// trail. The trail is write-only: restart logic never reads it back.
type PageWriter interface {
	WritePage(since time.Time, offset int, records []RawRecord) error
}
