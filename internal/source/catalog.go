package source

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tripfeed-io/tripfeed/internal/config"
	"github.com/tripfeed-io/tripfeed/internal/trips"
)

// DefaultCatalogPath is the default location for the dataset catalog file.
const DefaultCatalogPath = ".tripfeed.yaml"

// CatalogPathEnvVar is the environment variable name for a custom catalog path.
const CatalogPathEnvVar = "TRIPFEED_CATALOG_PATH"

// Catalog holds per-dataset field overrides loaded from .tripfeed.yaml.
//
// Most deployments ingest the Chicago taxi dataset and need no catalog at
// all; the defaults in trips.DatasetSpec apply. A catalog entry is only
// needed for datasets whose timestamp or identifier columns are named
// differently.
type Catalog struct {
	Datasets []trips.DatasetSpec `yaml:"datasets"`
}

// LoadCatalog loads the dataset catalog from a YAML file at the given path.
//
// Behavior:
//   - Returns an empty catalog (not an error) if the file doesn't exist.
//   - Returns an empty catalog + logs a warning if the YAML is invalid.
//   - Returns the populated catalog on success.
//
// This graceful degradation keeps the ingester runnable without a catalog,
// since field overrides are an optional feature.
func LoadCatalog(path string) (*Catalog, error) {
	catalog := &Catalog{}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Catalog file not found, using dataset defaults",
				slog.String("path", path))

			return catalog, nil
		}

		slog.Warn("Failed to read catalog file, using dataset defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return catalog, nil
	}

	if len(data) == 0 {
		return catalog, nil
	}

	if err := yaml.Unmarshal(data, catalog); err != nil {
		slog.Warn("Failed to parse catalog file, using dataset defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Catalog{}, nil
	}

	return catalog, nil
}

// LoadCatalogFromEnv loads the catalog from the path in TRIPFEED_CATALOG_PATH,
// falling back to .tripfeed.yaml in the current directory.
func LoadCatalogFromEnv() (*Catalog, error) {
	path := config.GetEnvStr(CatalogPathEnvVar, DefaultCatalogPath)

	return LoadCatalog(path)
}

// Spec returns the dataset spec for the given dataset ID, with defaults
// applied. Datasets without a catalog entry get the default field names.
func (c *Catalog) Spec(datasetID string) trips.DatasetSpec {
	for _, spec := range c.Datasets {
		if spec.ID == datasetID {
			return spec.WithDefaults()
		}
	}

	return trips.DatasetSpec{ID: datasetID}.WithDefaults()
}
