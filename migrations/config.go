package main

import (
	"fmt"
	"os"
	"strings"
)

// Config holds configuration for the migration tool.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	// MigrationTable is the name of the table used to track applied
	// migrations.
	MigrationTable string
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	config := &Config{
		DatabaseURL:    getEnvOrDefault("DATABASE_URL", ""),
		MigrationTable: getEnvOrDefault("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL cannot be empty")
	}

	if c.MigrationTable == "" {
		return fmt.Errorf("MIGRATION_TABLE cannot be empty")
	}

	return nil
}

// String returns a log-safe representation of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationTable: %s}",
		maskDatabaseURL(c.DatabaseURL), c.MigrationTable)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// maskDatabaseURL hides the password portion of a connection URL so the
// config can be logged.
func maskDatabaseURL(url string) string {
	schemeEnd := strings.Index(url, "//")
	if schemeEnd == -1 {
		return url
	}

	authority := url[schemeEnd+2:]
	if end := strings.IndexAny(authority, "/?#"); end != -1 {
		authority = authority[:end]
	}

	atPos := strings.LastIndex(authority, "@")
	if atPos == -1 {
		return url
	}

	userInfo := authority[:atPos]

	colonPos := strings.Index(userInfo, ":")
	if colonPos == -1 || colonPos == len(userInfo)-1 {
		return url
	}

	maskedStart := schemeEnd + 2 + colonPos + 1
	maskedEnd := schemeEnd + 2 + atPos

	return url[:maskedStart] + "***" + url[maskedEnd:]
}
