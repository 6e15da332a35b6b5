package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

// jobRepo persists generation jobs. Every transition is a single conditional
// UPDATE whose WHERE clause names the expected current status; the row is the
// serialization point, so two racing transitions resolve to exactly one
// winner and one domain.ErrInvalidTransition.
type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

const jobColumns = `
id, owner, prompt, style, aspect_ratio, duration, status,
COALESCE(artifact_key, ''), COALESCE(artifact_url, ''),
retries, COALESCE(last_error, ''), created_at, updated_at`

func (r *jobRepo) Save(ctx context.Context, tx repository.Tx, job *model.VideoGenerationJob) error {
	job.UpdatedAt = time.Now()

	var artifactKey, artifactURL interface{}
	if job.Artifact != nil {
		if job.Artifact.Key != "" {
			artifactKey = job.Artifact.Key
		}
		if job.Artifact.URL != "" {
			artifactURL = job.Artifact.URL
		}
	}

	const q = `
INSERT INTO jobs (id, owner, prompt, style, aspect_ratio, duration, status,
                  artifact_key, artifact_url, retries, last_error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  artifact_key = EXCLUDED.artifact_key,
  artifact_url = EXCLUDED.artifact_url,
  retries = EXCLUDED.retries,
  last_error = EXCLUDED.last_error,
  updated_at = EXCLUDED.updated_at;`

	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.Owner, job.Prompt, job.Style, job.AspectRatio, job.Duration,
		string(job.Status), artifactKey, artifactURL, job.Retries, job.LastError,
		job.CreatedAt, job.UpdatedAt)
	return err
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.VideoGenerationJob, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1;`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) ListByOwner(ctx context.Context, tx repository.Tx, owner string) ([]*model.VideoGenerationJob, error) {
	rows, err := pickRows(ctx, r.pool, tx,
		`SELECT `+jobColumns+` FROM jobs WHERE owner = $1 ORDER BY created_at DESC;`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*model.VideoGenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *jobRepo) MarkProcessing(ctx context.Context, tx repository.Tx, id string) error {
	const q = `
UPDATE jobs SET status = 'processing', updated_at = now()
WHERE id = $1 AND status = 'queued';`
	return r.transition(ctx, tx, id, q, id)
}

func (r *jobRepo) AttachArtifact(ctx context.Context, tx repository.Tx, id string, ref model.BlobRef) error {
	var key, url interface{}
	if ref.Key != "" {
		key = ref.Key
	}
	if ref.URL != "" {
		url = ref.URL
	}
	const q = `
UPDATE jobs SET artifact_key = $2, artifact_url = $3, updated_at = now()
WHERE id = $1 AND status = 'processing'
  AND artifact_key IS NULL AND artifact_url IS NULL;`
	return r.transition(ctx, tx, id, q, id, key, url)
}

func (r *jobRepo) Complete(ctx context.Context, tx repository.Tx, id string) error {
	const q = `
UPDATE jobs SET status = 'completed', updated_at = now()
WHERE id = $1 AND status = 'processing'
  AND (artifact_key IS NOT NULL OR artifact_url IS NOT NULL);`
	cmd, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}
	// Distinguish "no artifact yet" from a genuine bad edge.
	job, err := r.FindByID(ctx, tx, id)
	if err != nil {
		return err
	}
	if job.Status == model.VideoStatusProcessing && job.Artifact == nil {
		return domain.ErrNotReady
	}
	return domain.ErrInvalidTransition
}

func (r *jobRepo) MarkFailed(ctx context.Context, tx repository.Tx, id string, reason string) error {
	const q = `
UPDATE jobs SET status = 'failed', last_error = $2, updated_at = now()
WHERE id = $1 AND status IN ('queued', 'processing');`
	return r.transition(ctx, tx, id, q, id, reason)
}

func (r *jobRepo) RecordRetry(ctx context.Context, tx repository.Tx, id string, retries int, lastError string) error {
	const q = `
UPDATE jobs SET retries = $2, last_error = $3, updated_at = now()
WHERE id = $1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, retries, lastError)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// transition runs a conditional update and translates zero affected rows
// into ErrNotFound (row missing) or ErrInvalidTransition (race loser).
func (r *jobRepo) transition(ctx context.Context, tx repository.Tx, id, q string, args ...interface{}) error {
	cmd, err := execSQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}
	if _, err := r.FindByID(ctx, tx, id); err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

func scanJob(row pgx.Row) (*model.VideoGenerationJob, error) {
	var (
		job         model.VideoGenerationJob
		statusStr   string
		artifactKey string
		artifactURL string
	)
	err := row.Scan(
		&job.ID, &job.Owner, &job.Prompt, &job.Style, &job.AspectRatio, &job.Duration,
		&statusStr, &artifactKey, &artifactURL, &job.Retries, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	job.Status = model.VideoStatus(statusStr)
	if artifactKey != "" || artifactURL != "" {
		job.Artifact = &model.BlobRef{Key: artifactKey, URL: artifactURL}
	}
	return &job, nil
}
