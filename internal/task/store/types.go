package store

import (
	"context"
	"errors"
	"time"

	"briefbot/internal/task"
)

var (
	ErrDisabled = errors.New("task store disabled")
	ErrNotFound = errors.New("task not found")
	ErrExists   = errors.New("task id already exists")
)

// Config configures the task store.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//   - "memory": volatile in-process store (tests, dry runs)
//
// If Driver is empty or "none", the store is disabled; the scheduler
// refuses to start without one.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is durable CRUD for task records.
//
// Implementations are safe for concurrent use from multiple worker
// goroutines; callers never need external locking. Save is atomic from the
// reader's perspective, and same-id saves resolve last-writer-wins.
type Store interface {
	// Save upserts the record.
	Save(ctx context.Context, t *task.Task) error

	// SaveExisting persists the record only while its id is still present.
	// It returns ErrNotFound when the task was deleted; an execution that
	// outlived its task uses this to discard its late result write.
	SaveExisting(ctx context.Context, t *task.Task) error

	// Load returns the record or ErrNotFound.
	Load(ctx context.Context, id string) (*task.Task, error)

	// LoadAll returns every readable record. A corrupted record is logged
	// and skipped, never fatal; a store-wide failure returns an error.
	LoadAll(ctx context.Context) ([]*task.Task, error)

	// Delete removes the record. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// Export serializes all records into a portable blob.
	Export(ctx context.Context) ([]byte, error)

	// Import loads records from an Export blob. Each record succeeds or
	// fails on its own; the report carries per-record failure reasons.
	Import(ctx context.Context, blob []byte) (ImportReport, error)

	// Sweep permanently deletes terminal tasks last updated before cutoff
	// and reports how many were removed.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}

// ExportBlob is the on-the-wire shape produced by Export.
type ExportBlob struct {
	SchemaVersion int          `json:"schema_version"`
	ExportedAt    time.Time    `json:"exported_at"`
	Tasks         []*task.Task `json:"tasks"`
}

// ImportReport summarizes a partial import.
type ImportReport struct {
	Imported []string       `json:"imported"`
	Failed   []ImportFailed `json:"failed,omitempty"`
}

// ImportFailed names one record that was rejected and why.
type ImportFailed struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}
