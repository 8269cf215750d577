package repository

import (
	"context"
	"time"
)

// JobRow is the persisted form of a tracked job: enough to re-create the
// engine job after a restart plus the coarse last-known sample. It is not
// a statistics history.
type JobRow struct {
	ID           string
	SourceKind   string
	Source       string
	Metainfo     []byte
	Name         string
	Sequential   bool
	SuperSeeding bool
	Paused       bool
	State        string
	Progress     float64
	TotalSize    int64
	Downloaded   int64
	AddedAt      time.Time
}

// JobStore persists the tracked-job set across restarts.
type JobStore interface {
	// Init creates the schema if it does not exist.
	Init(ctx context.Context) error

	// Save inserts the row or replaces an existing one with the same id.
	Save(ctx context.Context, row JobRow) error

	// SetPaused records the paused flag for a job.
	SetPaused(ctx context.Context, id string, paused bool) error

	// SetSuperSeeding records the super-seeding latch for a job.
	SetSuperSeeding(ctx context.Context, id string, enabled bool) error

	// UpdateSample records the coarse last-known sample for a job.
	UpdateSample(ctx context.Context, id, state, name string, progress float64, totalSize, downloaded int64) error

	// Delete removes a job row. Deleting an absent row is not an error.
	Delete(ctx context.Context, id string) error

	// List returns all rows ordered by the time they were added.
	List(ctx context.Context) ([]JobRow, error)
}
