package source

import (
	"errors"
	"strings"
	"time"

	"github.com/tripfeed-io/tripfeed/internal/config"
)

const (
	defaultRequestTimeout    = 90 * time.Second
	defaultRequestsPerSecond = 2.0
	defaultRequestBurst      = 2
)

var (
	// ErrDomainEmpty is returned when no Socrata domain is configured.
	ErrDomainEmpty = errors.New("source domain cannot be empty")

	// ErrDatasetEmpty is returned when no dataset identifier is configured.
	ErrDatasetEmpty = errors.New("source dataset cannot be empty")
)

// Config holds Socrata endpoint configuration with production-ready defaults.
type Config struct {
	Domain            string        // Socrata domain, e.g. data.cityofchicago.org
	Dataset           string        // Dataset 4x4 identifier
	AppToken          string        // Optional application token (raises rate limits)
	RequestTimeout    time.Duration // Per-request timeout
	RequestsPerSecond float64       // Client-side rate limit
	RequestBurst      int           // Rate limiter burst size
}

// LoadConfig loads Socrata configuration from environment variables with
// fallback to defaults. Reading env happens here, once, at process start;
// components receive the resulting struct.
func LoadConfig() *Config {
	rps := defaultRequestsPerSecond
	if v := config.GetEnvInt("SOCRATA_REQUESTS_PER_SECOND", 0); v > 0 {
		rps = float64(v)
	}

	return &Config{
		Domain:            config.GetEnvStr("SOCRATA_DOMAIN", ""),
		Dataset:           config.GetEnvStr("SOCRATA_DATASET", ""),
		AppToken:          strings.TrimSpace(config.GetEnvStr("SOCRATA_APP_TOKEN", "")),
		RequestTimeout:    config.GetEnvDuration("SOCRATA_REQUEST_TIMEOUT", defaultRequestTimeout),
		RequestsPerSecond: rps,
		RequestBurst:      config.GetEnvInt("SOCRATA_REQUEST_BURST", defaultRequestBurst),
	}
}

// Validate checks if the source configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Domain) == "" {
		return ErrDomainEmpty
	}

	if strings.TrimSpace(c.Dataset) == "" {
		return ErrDatasetEmpty
	}

	return nil
}
