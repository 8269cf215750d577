package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"torrentd/internal/repository"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	source_kind   TEXT NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	metainfo      BLOB,
	name          TEXT NOT NULL DEFAULT '',
	sequential    INTEGER NOT NULL DEFAULT 0,
	super_seeding INTEGER NOT NULL DEFAULT 0,
	paused        INTEGER NOT NULL DEFAULT 0,
	state         TEXT NOT NULL DEFAULT '',
	progress      REAL NOT NULL DEFAULT 0,
	total_size    INTEGER NOT NULL DEFAULT 0,
	downloaded    INTEGER NOT NULL DEFAULT 0,
	added_at      DATETIME NOT NULL
);
`

// JobRepository is the sqlite-backed JobStore.
type JobRepository struct {
	db *sql.DB
}

var _ repository.JobStore = (*JobRepository)(nil)

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createJobsTable); err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	return nil
}

func (r *JobRepository) Save(ctx context.Context, row repository.JobRow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, source_kind, source, metainfo, name, sequential, super_seeding, paused, state, progress, total_size, downloaded, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_kind = excluded.source_kind,
			source = excluded.source,
			metainfo = excluded.metainfo,
			name = excluded.name,
			sequential = excluded.sequential,
			super_seeding = excluded.super_seeding,
			paused = excluded.paused,
			state = excluded.state,
			progress = excluded.progress,
			total_size = excluded.total_size,
			downloaded = excluded.downloaded,
			added_at = excluded.added_at
	`, row.ID, row.SourceKind, row.Source, row.Metainfo, row.Name, row.Sequential,
		row.SuperSeeding, row.Paused, row.State, row.Progress, row.TotalSize,
		row.Downloaded, row.AddedAt.UTC())
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (r *JobRepository) SetPaused(ctx context.Context, id string, paused bool) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE jobs SET paused = ? WHERE id = ?`, paused, id); err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	return nil
}

func (r *JobRepository) SetSuperSeeding(ctx context.Context, id string, enabled bool) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE jobs SET super_seeding = ? WHERE id = ?`, enabled, id); err != nil {
		return fmt.Errorf("set super seeding: %w", err)
	}
	return nil
}

func (r *JobRepository) UpdateSample(ctx context.Context, id, state, name string, progress float64, totalSize, downloaded int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, name = ?, progress = ?, total_size = ?, downloaded = ? WHERE id = ?
	`, state, name, progress, totalSize, downloaded, id)
	if err != nil {
		return fmt.Errorf("update sample: %w", err)
	}
	return nil
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func (r *JobRepository) List(ctx context.Context) ([]repository.JobRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_kind, source, metainfo, name, sequential, super_seeding, paused, state, progress, total_size, downloaded, added_at
		FROM jobs ORDER BY added_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []repository.JobRow
	for rows.Next() {
		row, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (repository.JobRow, error) {
	var row repository.JobRow
	err := scanner.Scan(
		&row.ID, &row.SourceKind, &row.Source, &row.Metainfo, &row.Name,
		&row.Sequential, &row.SuperSeeding, &row.Paused, &row.State,
		&row.Progress, &row.TotalSize, &row.Downloaded, &row.AddedAt,
	)
	if err != nil {
		return repository.JobRow{}, fmt.Errorf("scan job: %w", err)
	}
	return row, nil
}
