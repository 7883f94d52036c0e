package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/media"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobsTable = "ppe_jobs"

type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var (
	_ Tracker = (*Postgres)(nil)
	_ Pruner  = (*Postgres)(nil)
)

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, now: time.Now}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + jobsTable + ` (
    job_key TEXT PRIMARY KEY,
    attempt TEXT NOT NULL DEFAULT '',
    input_key TEXT NOT NULL,
    output_key TEXT NOT NULL,
    kind TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'processing',
    error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
		`ALTER TABLE ` + jobsTable + ` ADD COLUMN IF NOT EXISTS attempt TEXT NOT NULL DEFAULT '';`,
		`CREATE INDEX IF NOT EXISTS idx_` + jobsTable + `_status_updated ON ` + jobsTable + ` (status, updated_at);`,
	}
	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure jobs schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, job Job) error {
	job, err := prepare(job, p.now())
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, `
INSERT INTO `+jobsTable+` (job_key, attempt, input_key, output_key, kind, status, error, created_at, updated_at)
VALUES ($1, $7, $2, $3, $4, $5, '', $6, $6)
ON CONFLICT (job_key)
DO UPDATE SET attempt = EXCLUDED.attempt,
              input_key = EXCLUDED.input_key,
              output_key = EXCLUDED.output_key,
              kind = EXCLUDED.kind,
              status = EXCLUDED.status,
              error = '',
              created_at = EXCLUDED.created_at,
              updated_at = EXCLUDED.updated_at
`, job.Key, job.InputKey, job.OutputKey, string(job.Kind), string(job.Status), job.CreatedAt, job.Attempt)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.Key, err)
	}
	return nil
}

func (p *Postgres) SetStatus(ctx context.Context, key, attempt string, status Status, reason string) error {
	if err := checkTransition(status); err != nil {
		return err
	}

	tag, err := p.pool.Exec(ctx, `
UPDATE `+jobsTable+`
SET status = $2, error = $3, updated_at = $4
WHERE job_key = $1 AND attempt = $5 AND status = 'processing'
`, key, string(status), reason, p.now(), attempt)
	if err != nil {
		return fmt.Errorf("set status %s: %w", key, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	job, err := p.Get(ctx, key)
	if err != nil {
		return err
	}
	if job.Attempt != attempt {
		return ErrSuperseded
	}
	return ErrTerminal
}

func (p *Postgres) Get(ctx context.Context, key string) (Job, error) {
	var job Job
	var kind, status string
	row := p.pool.QueryRow(ctx, `
SELECT job_key, attempt, input_key, output_key, kind, status, error, created_at, updated_at
FROM `+jobsTable+`
WHERE job_key = $1
`, key)
	if err := row.Scan(&job.Key, &job.Attempt, &job.InputKey, &job.OutputKey, &kind, &status,
		&job.Error, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("get job %s: %w", key, err)
	}
	job.Kind = media.Kind(kind)
	job.Status = Status(status)
	return job, nil
}

func (p *Postgres) Status(ctx context.Context, key string) (Status, error) {
	return statusFromGet(p.Get(ctx, key))
}

func (p *Postgres) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `
DELETE FROM `+jobsTable+`
WHERE status <> 'processing' AND updated_at < $1
`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
