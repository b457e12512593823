package main

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embeddedMigrations embed.FS

// Migration filename regex: 001_migration_name.up.sql or 001_migration_name.down.sql
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// EmbeddedMigration wraps the embedded migration files with validation:
// filename format, up/down pairing, and gap-free sequencing. Validation runs
// at startup and before every state-changing operation so a bad build never
// half-applies a schema.
type EmbeddedMigration struct {
	fs fs.FS
}

// MigrationInfo contains parsed information about a migration file.
type MigrationInfo struct {
	Sequence  int
	Name      string
	Direction string // "up" or "down"
	Filename  string
}

// NewEmbeddedMigration creates an EmbeddedMigration with an injectable
// filesystem dependency. Pass nil to use the default embedded migrations.
func NewEmbeddedMigration(filesystem fs.FS) *EmbeddedMigration {
	if filesystem == nil {
		filesystem = embeddedMigrations
	}

	return &EmbeddedMigration{fs: filesystem}
}

// FS returns the file system containing the migration files.
func (e *EmbeddedMigration) FS() fs.FS {
	return e.fs
}

// List returns all embedded migration files conforming to the naming
// standard, sorted lexicographically (which matches sequence order).
func (e *EmbeddedMigration) List() ([]string, error) {
	entries, err := fs.ReadDir(e.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := entry.Name()
		if filepath.Ext(filename) == ".sql" && migrationFilenameRegex.MatchString(filename) {
			files = append(files, filename)
		}
	}

	sort.Strings(files)

	return files, nil
}

// Validate checks filename format, up/down pairing, and sequence continuity
// of all embedded migration files.
func (e *EmbeddedMigration) Validate() error {
	files, err := e.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no embedded migration files found")
	}

	migrations := make(map[string]map[string]*MigrationInfo) // sequence_name -> direction
	sequences := make(map[int]bool)

	for _, file := range files {
		info, err := parseMigrationFilename(file)
		if err != nil {
			return fmt.Errorf("filename validation failed for %s: %w", file, err)
		}

		if _, err := fs.ReadFile(e.fs, file); err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		key := fmt.Sprintf("%03d_%s", info.Sequence, info.Name)
		if migrations[key] == nil {
			migrations[key] = make(map[string]*MigrationInfo)
		}

		migrations[key][info.Direction] = info
		sequences[info.Sequence] = true
	}

	for key, directions := range migrations {
		if _, hasUp := directions["up"]; !hasUp {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if _, hasDown := directions["down"]; !hasDown {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return validateSequence(sequences)
}

// MaxSequence returns the highest migration sequence number in the embedded
// files, or 0 when none can be read.
func (e *EmbeddedMigration) MaxSequence() int {
	files, err := e.List()
	if err != nil {
		return 0
	}

	maxSequence := 0

	for _, file := range files {
		if info, err := parseMigrationFilename(file); err == nil && info.Sequence > maxSequence {
			maxSequence = info.Sequence
		}
	}

	return maxSequence
}

// parseMigrationFilename extracts sequence, name, and direction from a
// migration filename.
func parseMigrationFilename(filename string) (*MigrationInfo, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf(
			"invalid migration filename format: %s (expected: 001_name.up.sql or 001_name.down.sql)",
			filename,
		)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return &MigrationInfo{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

// validateSequence ensures sequences start at 001 with no gaps.
func validateSequence(sequences map[int]bool) error {
	if len(sequences) == 0 {
		return nil
	}

	numbers := make([]int, 0, len(sequences))
	for seq := range sequences {
		numbers = append(numbers, seq)
	}

	sort.Ints(numbers)

	if numbers[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, but found %03d", numbers[0])
	}

	for i := 1; i < len(numbers); i++ {
		if numbers[i] != numbers[i-1]+1 {
			return fmt.Errorf("gap in migration sequence: expected %03d, found %03d", numbers[i-1]+1, numbers[i])
		}
	}

	return nil
}
