// Package trips provides the canonical trip domain model, row normalization,
// and the incremental ingestion coordinator.
//
// This package defines the store and source interfaces it needs (StateStore,
// StagingStore, PageSource, PageWriter) without depending on concrete
// implementations. Postgres-backed and in-memory implementations live in the
// internal/storage package, the Socrata adapter in internal/source.
package trips

import (
	"time"
)

// Default field names for the Chicago taxi trips dataset. A dataset catalog
// entry can override these per dataset.
const (
	DefaultTimestampField  = "trip_start_timestamp"
	DefaultIdentifierField = "trip_id"

	// DefaultLookback bounds the first run's cost: bootstrap starts at
	// max(timestamp) minus this window instead of the earliest record.
	DefaultLookback = 60 * 24 * time.Hour

	// DefaultPageSize is the number of records requested per page.
	DefaultPageSize = 10000
)

// RawRecord is one decoded source record as returned by the paged source
// adapter: a field-name-to-value mapping with no type guarantees. Raw records
// cross the normalization boundary exactly once; everything downstream
// operates on TripRow.
type RawRecord map[string]any

// PageQuery describes one page request against the paged source.
//
// Where carries a single greater-than predicate on the dataset's timestamp
// field; Order must sort by (timestamp, identifier) so pagination stays stable
// under concurrent inserts at the source.
type PageQuery struct {
	Where  string
	Order  string
	Limit  int
	Offset int
}

// DatasetSpec identifies a source dataset and the field names the ingestion
// protocol depends on.
type DatasetSpec struct {
	// ID is the source dataset identifier (e.g. Socrata 4x4 ID).
	ID string `yaml:"id"`

	// TimestampField is the record timestamp used for watermarking.
	TimestampField string `yaml:"timestamp_field"`

	// IdentifierField is the stable record identifier used for upsert keys
	// and as the pagination tiebreaker.
	IdentifierField string `yaml:"identifier_field"`
}

// WithDefaults fills empty field names with the Chicago taxi defaults.
func (s DatasetSpec) WithDefaults() DatasetSpec {
	if s.TimestampField == "" {
		s.TimestampField = DefaultTimestampField
	}

	if s.IdentifierField == "" {
		s.IdentifierField = DefaultIdentifierField
	}

	return s
}

// TripRow is the canonical, fully typed staging row. Every field except the
// identifier is nullable; nil means the source value was absent or could not
// be coerced. The normalizer is the only producer of TripRow values.
type TripRow struct {
	TripID             *string
	TripStartTimestamp *time.Time
	TripEndTimestamp   *time.Time
	TripSeconds        *int64
	TripMiles          *float64

	PickupCommunityArea  *int64
	DropoffCommunityArea *int64

	PaymentType *string
	Company     *string

	Fare      *float64
	Tips      *float64
	Tolls     *float64
	Extras    *float64
	TripTotal *float64

	PickupCentroidLatitude   *float64
	PickupCentroidLongitude  *float64
	DropoffCentroidLatitude  *float64
	DropoffCentroidLongitude *float64
}

// RunResult summarizes one ingestion run.
type RunResult struct {
	// RunID uniquely identifies this run in logs and state notes.
	RunID string

	// StartedFrom is the watermark (or bootstrap window start) the run
	// paginated from.
	StartedFrom time.Time

	// Pages is the number of non-empty pages fetched.
	Pages int

	// RowsWritten is the number of staging rows inserted or updated.
	RowsWritten int

	// RowsSkipped counts records dropped for missing identifiers.
	RowsSkipped int

	// MaxObserved is the largest record timestamp seen during the run.
	// Nil means no new records were observed and the watermark was left
	// untouched.
	MaxObserved *time.Time
}
