package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"seedemu/internal/codec"
	"seedemu/internal/errdefs"
	"seedemu/internal/repository"
)

// Store implements repository.SnapshotStore using SQLite
type Store struct {
	db *sql.DB
}

var _ repository.SnapshotStore = (*Store)(nil)

// New opens the database at dbPath, creating the schema if needed.
// ":memory:" opens a private in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = "file:" + dbPath + "?_pragma=busy_timeout=5000&_pragma=journal_mode=WAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection, so an in-memory database is shared by all queries
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		name TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		emulator TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_emulator ON snapshots(emulator);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save stores a snapshot under name
func (s *Store) Save(ctx context.Context, name string, snap *codec.Snapshot) (repository.Record, error) {
	if name == "" {
		return repository.Record{}, fmt.Errorf("snapshot name is empty: %w", errdefs.ErrInvalidTopology)
	}
	var buf bytes.Buffer
	if err := snap.Write(&buf); err != nil {
		return repository.Record{}, err
	}

	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (name, id, emulator, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			id = excluded.id,
			emulator = excluded.emulator,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, name, snap.Header.ID, snap.Header.Emulator, buf.Bytes(), now, now)
	if err != nil {
		return repository.Record{}, fmt.Errorf("failed to save snapshot %s: %w", name, err)
	}
	return s.record(ctx, name)
}

// Get loads the snapshot stored under name
func (s *Store) Get(ctx context.Context, name string) (*codec.Snapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", name, errdefs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot %s: %w", name, err)
	}
	return codec.Read(bytes.NewReader(data))
}

// List returns the stored snapshots ordered by name
func (s *Store) List(ctx context.Context) ([]repository.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, id, emulator, length(data), created_at, updated_at
		FROM snapshots
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var records []repository.Record
	for rows.Next() {
		var row snapshotRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return records, nil
}

// Delete removes the snapshot stored under name
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("snapshot %s: %w", name, errdefs.ErrNotFound)
	}
	return nil
}

func (s *Store) record(ctx context.Context, name string) (repository.Record, error) {
	var row snapshotRow
	err := s.db.QueryRowContext(ctx, `
		SELECT name, id, emulator, length(data), created_at, updated_at
		FROM snapshots WHERE name = ?
	`, name).Scan(row.scanArgs()...)
	if err != nil {
		return repository.Record{}, fmt.Errorf("failed to query snapshot %s: %w", name, err)
	}
	return row.toRecord()
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
