// Package audit persists fetched pages verbatim to an append-only,
// line-delimited record store.
//
// The trail exists for human inspection and reprocessing only: ingestion
// restart logic never reads these files back (resumption is always
// watermark-based).
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tripfeed-io/tripfeed/internal/trips"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o600
)

// ErrAuditWriteFailed is returned when a raw page cannot be persisted.
var ErrAuditWriteFailed = errors.New("raw page write failed")

// Compile-time interface assertion.
var _ trips.PageWriter = (*Writer)(nil)

// Writer writes each fetched page as one JSONL file under
//
//	<root>/since=<YYYY-MM-DD>/part-offset-<offset>.jsonl
//
// partitioned by the run's starting watermark date and page offset. A rerun
// from the same watermark overwrites its own partition files with identical
// content, which keeps replays harmless.
type Writer struct {
	root string
}

// NewWriter creates a page writer rooted at the given directory.
func NewWriter(root string) *Writer {
	return &Writer{root: root}
}

// WritePage implements trips.PageWriter.
func (w *Writer) WritePage(since time.Time, offset int, records []trips.RawRecord) error {
	dir := filepath.Join(w.root, fmt.Sprintf("since=%s", since.Format("2006-01-02")))

	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("%w: create partition %s: %w", ErrAuditWriteFailed, dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("part-offset-%d.jsonl", offset))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermissions) //nolint:gosec // path is built from run metadata
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrAuditWriteFailed, path, err)
	}

	encoder := json.NewEncoder(f)

	for _, rec := range records {
		if err := encoder.Encode(rec); err != nil {
			_ = f.Close()

			return fmt.Errorf("%w: encode record to %s: %w", ErrAuditWriteFailed, path, err)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrAuditWriteFailed, path, err)
	}

	return nil
}
