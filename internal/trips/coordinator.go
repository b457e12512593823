package trips

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for ingestion runs.
var (
	// ErrNilSource is returned when the coordinator is built without a page source.
	ErrNilSource = errors.New("page source cannot be nil")

	// ErrNilStateStore is returned when the coordinator is built without a state store.
	ErrNilStateStore = errors.New("state store cannot be nil")

	// ErrNilStagingStore is returned when the coordinator is built without a staging store.
	ErrNilStagingStore = errors.New("staging store cannot be nil")

	// ErrDatasetEmpty is returned when the dataset spec has no ID.
	ErrDatasetEmpty = errors.New("dataset ID cannot be empty")

	// ErrBootstrapFailed is returned when no starting watermark can be
	// resolved on a first run. Ingestion cannot proceed without a starting
	// point.
	ErrBootstrapFailed = errors.New("watermark bootstrap failed")

	// ErrRunFailed is returned when a pagination pass aborts. The stored
	// watermark is never advanced on a failed run.
	ErrRunFailed = errors.New("ingestion run failed")
)

// watermarkTimeLayout is the timestamp format used in source filter predicates.
const watermarkTimeLayout = "2006-01-02T15:04:05"

// runPhase names the coordinator's state machine phases for logging.
type runPhase string

const (
	phaseInit          runPhase = "INIT"
	phaseBootstrapping runPhase = "BOOTSTRAPPING_WATERMARK"
	phasePaging        runPhase = "PAGING"
	phaseFlushing      runPhase = "FLUSHING_WATERMARK"
	phaseDone          runPhase = "DONE"
	phaseFailed        runPhase = "FAILED"
)

type (
	// Coordinator orchestrates one incremental ingestion run:
	//
	//	INIT -> BOOTSTRAPPING_WATERMARK -> PAGING -> FLUSHING_WATERMARK -> DONE
	//
	// with FAILED reachable from PAGING on a fatal source or storage error.
	//
	// The watermark advances only after a full pagination pass, so a crash
	// mid-run leaves it untouched and the next run re-fetches from the same
	// starting point. Replays are safe because staging upserts overwrite in
	// place. The page offset is never persisted; resumption is always
	// watermark-based.
	//
	// At most one run per dataset may execute at a time; concurrent runs on
	// the same state row must be serialized externally.
	Coordinator struct {
		source   PageSource
		state    StateStore
		staging  StagingStore
		audit    PageWriter
		spec     DatasetSpec
		pageSize int
		lookback time.Duration
		logger   *slog.Logger
	}

	// CoordinatorOption configures optional Coordinator behavior.
	CoordinatorOption func(*Coordinator)
)

// WithPageSize overrides the fixed page size used during PAGING.
func WithPageSize(size int) CoordinatorOption {
	return func(c *Coordinator) {
		if size > 0 {
			c.pageSize = size
		}
	}
}

// WithLookback overrides the bootstrap lookback window.
func WithLookback(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.lookback = d
		}
	}
}

// WithAuditWriter sets the append-only raw page writer. Without one, pages
// are not persisted verbatim (useful in tests).
func WithAuditWriter(w PageWriter) CoordinatorOption {
	return func(c *Coordinator) {
		c.audit = w
	}
}

// WithLogger overrides the default JSON logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator creates an ingestion coordinator for one dataset.
func NewCoordinator(
	source PageSource,
	state StateStore,
	staging StagingStore,
	spec DatasetSpec,
	opts ...CoordinatorOption,
) (*Coordinator, error) {
	if source == nil {
		return nil, ErrNilSource
	}

	if state == nil {
		return nil, ErrNilStateStore
	}

	if staging == nil {
		return nil, ErrNilStagingStore
	}

	if spec.ID == "" {
		return nil, ErrDatasetEmpty
	}

	c := &Coordinator{
		source:   source,
		state:    state,
		staging:  staging,
		spec:     spec.WithDefaults(),
		pageSize: DefaultPageSize,
		lookback: DefaultLookback,
		logger:   slog.New(slog.NewJSONHandler(os.Stdout, nil)),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Run executes one full ingestion pass and returns its summary.
//
// On error the stored watermark is exactly as of the last successful run;
// staging rows written by completed pages remain committed and will be
// overwritten identically on the next pass.
func (c *Coordinator) Run(ctx context.Context) (*RunResult, error) {
	runID := uuid.NewString()
	logger := c.logger.With(
		slog.String("dataset", c.spec.ID),
		slog.String("run_id", runID),
	)

	logger.Info("ingestion run starting", slog.String("phase", string(phaseInit)))

	if err := c.state.Ensure(ctx, c.spec.ID); err != nil {
		return nil, fmt.Errorf("%w: ensure ingestion state: %w", ErrRunFailed, err)
	}

	logger.Info("resolving starting watermark", slog.String("phase", string(phaseBootstrapping)))

	start, err := c.startingWatermark(ctx)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		RunID:       runID,
		StartedFrom: start,
	}

	logger.Info("paging from watermark",
		slog.String("phase", string(phasePaging)),
		slog.Time("start", start),
		slog.Int("page_size", c.pageSize),
	)

	query := PageQuery{
		Where: fmt.Sprintf("%s > '%s'", c.spec.TimestampField, start.Format(watermarkTimeLayout)),
		Order: fmt.Sprintf("%s, %s", c.spec.TimestampField, c.spec.IdentifierField),
		Limit: c.pageSize,
	}

	var maxSeen *time.Time

	for offset := 0; ; offset += c.pageSize {
		query.Offset = offset

		page, err := c.source.FetchPage(ctx, query)
		if err != nil {
			logger.Error("page fetch failed",
				slog.String("phase", string(phaseFailed)),
				slog.Int("offset", offset),
				slog.Any("error", err),
			)

			return result, fmt.Errorf("%w: fetch page at offset %d: %w", ErrRunFailed, offset, err)
		}

		if len(page) == 0 {
			break
		}

		if c.audit != nil {
			if err := c.audit.WritePage(start, offset, page); err != nil {
				return result, fmt.Errorf("%w: write raw page at offset %d: %w", ErrRunFailed, offset, err)
			}
		}

		rows := make([]*TripRow, 0, len(page))
		for _, rec := range page {
			rows = append(rows, NormalizeRecord(rec))
		}

		written, err := c.staging.UpsertBatch(ctx, rows)
		if err != nil {
			return result, fmt.Errorf("%w: upsert page at offset %d: %w", ErrRunFailed, offset, err)
		}

		result.Pages++
		result.RowsWritten += written
		result.RowsSkipped += len(rows) - written

		for _, row := range rows {
			if row.TripStartTimestamp == nil {
				continue
			}

			if maxSeen == nil || row.TripStartTimestamp.After(*maxSeen) {
				t := *row.TripStartTimestamp
				maxSeen = &t
			}
		}

		logger.Info("page staged",
			slog.Int("offset", offset),
			slog.Int("rows", written),
		)
	}

	result.MaxObserved = maxSeen

	if maxSeen == nil {
		logger.Info("no new rows observed, watermark unchanged",
			slog.String("phase", string(phaseFlushing)),
		)
	} else {
		if err := c.state.Advance(ctx, c.spec.ID, *maxSeen, "run "+runID); err != nil {
			return result, fmt.Errorf("%w: advance watermark: %w", ErrRunFailed, err)
		}

		logger.Info("watermark advanced",
			slog.String("phase", string(phaseFlushing)),
			slog.Time("watermark", *maxSeen),
		)
	}

	logger.Info("ingestion run complete",
		slog.String("phase", string(phaseDone)),
		slog.Int("pages", result.Pages),
		slog.Int("rows_written", result.RowsWritten),
		slog.Int("rows_skipped", result.RowsSkipped),
	)

	return result, nil
}

// startingWatermark returns the stored watermark, or bootstraps one from the
// source's maximum timestamp minus the lookback window on a first run.
func (c *Coordinator) startingWatermark(ctx context.Context) (time.Time, error) {
	stored, err := c.state.Watermark(ctx, c.spec.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: read watermark: %w", ErrRunFailed, err)
	}

	if stored != nil {
		return *stored, nil
	}

	maxTS, err := c.source.MaxTimestamp(ctx, c.spec.TimestampField)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: query max %s: %w", ErrBootstrapFailed, c.spec.TimestampField, err)
	}

	if maxTS == nil {
		return time.Time{}, fmt.Errorf("%w: no %s available to bootstrap from", ErrBootstrapFailed, c.spec.TimestampField)
	}

	return maxTS.Add(-c.lookback), nil
}
