// Package main provides the tripfeed transform binary.
//
// It rebuilds the fact table from staging and then refreshes the four KPI
// rollups. Both rebuilds are full truncate-and-reload passes, so the output
// depends only on the current staging contents.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/tripfeed-io/tripfeed/internal/config"
	"github.com/tripfeed-io/tripfeed/internal/storage"
	"github.com/tripfeed-io/tripfeed/internal/transform"
)

// Version information.
const (
	version = "0.1.0-dev"
	name    = "rebuilder"
)

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

	logger.Info("Starting tripfeed rebuilder",
		slog.String("service", name),
		slog.String("version", version),
	)

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

	ctx := context.Background()

	factRebuilder, err := transform.NewFactRebuilder(dbConn)
	if err != nil {
		logger.Error("Failed to create fact rebuilder", slog.String("error", err.Error()))
		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	factRows, err := factRebuilder.Rebuild(ctx)
	if err != nil {
		logger.Error("Fact rebuild failed", slog.String("error", err.Error()))
		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("Fact table rebuilt", slog.Int64("rows", factRows))

	aggRebuilder, err := transform.NewAggregateRebuilder(dbConn)
	if err != nil {
		logger.Error("Failed to create aggregate rebuilder", slog.String("error", err.Error()))
		_ = dbConn.Close()
		os.Exit(1)
	}

	counts, err := aggRebuilder.Rebuild(ctx)
	if err != nil {
		logger.Error("Aggregate rebuild failed", slog.String("error", err.Error()))
		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("KPI rollups rebuilt",
		slog.Int64("daily_rows", counts.Daily),
		slog.Int64("hourly_rows", counts.Hourly),
		slog.Int64("payment_rows", counts.Payment),
		slog.Int64("zone_rows", counts.Zone),
	)
}
