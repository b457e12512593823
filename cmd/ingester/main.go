// Package main provides the tripfeed ingestion binary.
//
// One invocation runs a single incremental pass: it reads the stored
// watermark, pages new trip records out of the Socrata API, upserts them
// into staging, and advances the watermark. Runs are idempotent, so the
// binary is safe to schedule on a fixed interval.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/tripfeed-io/tripfeed/internal/audit"
	"github.com/tripfeed-io/tripfeed/internal/config"
	"github.com/tripfeed-io/tripfeed/internal/source"
	"github.com/tripfeed-io/tripfeed/internal/storage"
	"github.com/tripfeed-io/tripfeed/internal/trips"
)

// Version information.
const (
	version = "0.1.0-dev"
	name    = "ingester"
)

const defaultRawDataDir = "data/raw"

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting tripfeed ingester",
		slog.String("service", name),
		slog.String("version", version),
	)

	sourceConfig := source.LoadConfig()
	if err := sourceConfig.Validate(); err != nil {
		logger.Error("Invalid source configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	client, err := source.NewClient(sourceConfig)
	if err != nil {
		logger.Error("Failed to create source client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Source client initialized",
		slog.String("domain", sourceConfig.Domain),
		slog.String("dataset", sourceConfig.Dataset),
		slog.Duration("request_timeout", sourceConfig.RequestTimeout),
	)

	catalog, err := source.LoadCatalogFromEnv()
	if err != nil {
		logger.Error("Failed to load dataset catalog", slog.String("error", err.Error()))
		os.Exit(1)
	}

	spec := catalog.Spec(sourceConfig.Dataset)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	logger.Info("Database connection established",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
	)

	stateStore, err := storage.NewStateStore(dbConn)
	if err != nil {
		logger.Error("Failed to create state store", slog.String("error", err.Error()))
		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	stagingStore, err := storage.NewStagingStore(dbConn)
	if err != nil {
		logger.Error("Failed to create staging store", slog.String("error", err.Error()))
		_ = dbConn.Close()
		os.Exit(1)
	}

	opts := []trips.CoordinatorOption{
		trips.WithLogger(logger),
		trips.WithPageSize(config.GetEnvInt("INGEST_PAGE_SIZE", trips.DefaultPageSize)),
		trips.WithLookback(config.GetEnvDuration("INGEST_LOOKBACK", trips.DefaultLookback)),
	}

	if config.GetEnvBool("RAW_AUDIT_ENABLED", true) {
		rawDir := config.GetEnvStr("RAW_DATA_DIR", defaultRawDataDir)
		opts = append(opts, trips.WithAuditWriter(audit.NewWriter(rawDir)))

		logger.Info("Raw page audit enabled", slog.String("dir", rawDir))
	}

	coordinator, err := trips.NewCoordinator(client, stateStore, stagingStore, spec, opts...)
	if err != nil {
		logger.Error("Failed to create coordinator", slog.String("error", err.Error()))
		_ = dbConn.Close()
		os.Exit(1)
	}

	result, err := coordinator.Run(context.Background())
	if err != nil {
		logger.Error("Ingestion run failed", slog.String("error", err.Error()))
		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("Ingestion run complete",
		slog.String("run_id", result.RunID),
		slog.Time("started_from", result.StartedFrom),
		slog.Int("pages", result.Pages),
		slog.Int("rows_written", result.RowsWritten),
		slog.Int("rows_skipped", result.RowsSkipped),
	)
}
