package sqlite

import (
	"fmt"
	"time"

	"seedemu/internal/repository"
)

// ============================================================================
// Time Helpers
// ============================================================================

// formatTime renders t as stored in the text timestamp columns
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a text timestamp column
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// ============================================================================
// Row Scanning Helpers
// ============================================================================

// snapshotRow holds the scanned metadata columns of a snapshot
type snapshotRow struct {
	name      string
	id        string
	emulator  string
	size      int
	createdAt string
	updatedAt string
}

// scanArgs returns pointers for rows.Scan in column order
func (r *snapshotRow) scanArgs() []any {
	return []any{&r.name, &r.id, &r.emulator, &r.size, &r.createdAt, &r.updatedAt}
}

// toRecord converts the row to a repository record
func (r *snapshotRow) toRecord() (repository.Record, error) {
	created, err := parseTime(r.createdAt)
	if err != nil {
		return repository.Record{}, err
	}
	updated, err := parseTime(r.updatedAt)
	if err != nil {
		return repository.Record{}, err
	}
	return repository.Record{
		Name:     r.name,
		ID:       r.id,
		Emulator: r.emulator,
		Size:     r.size,
		Created:  created,
		Updated:  updated,
	}, nil
}
