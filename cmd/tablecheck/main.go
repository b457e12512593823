// Package main provides a small operational check that prints row counts
// for the warehouse tables. Useful after an ingest or rebuild to confirm
// data actually landed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/tripfeed-io/tripfeed/internal/storage"
)

// Version information.
const (
	version = "0.1.0-dev"
	name    = "tablecheck"
)

var checkedTables = []string{
	"ingestion_state",
	"stg_trips",
	"fact_trips",
	"daily_kpis",
	"hourly_kpis",
	"payment_kpis",
	"zone_kpis",
}

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	ctx := context.Background()

	for _, table := range checkedTables {
		var count int64

		row := dbConn.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", table))
		if err := row.Scan(&count); err != nil {
			log.Fatalf("Failed to count %s: %v", table, err)
		}

		fmt.Printf("%-16s %d\n", table, count)
	}
}
