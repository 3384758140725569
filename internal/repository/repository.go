package repository

import (
	"context"
	"time"

	"seedemu/internal/codec"
)

// Record describes a stored snapshot
type Record struct {
	Name     string
	ID       string
	Emulator string
	Size     int
	Created  time.Time
	Updated  time.Time
}

// SnapshotStore persists emulator snapshots by name
type SnapshotStore interface {
	// Save stores s under name, replacing any snapshot of that name
	Save(ctx context.Context, name string, s *codec.Snapshot) (Record, error)
	Get(ctx context.Context, name string) (*codec.Snapshot, error)
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, name string) error

	// Close releases resources
	Close() error
}
