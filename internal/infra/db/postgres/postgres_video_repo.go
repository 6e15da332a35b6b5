package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/repository"
)

var _ repository.VideoRepository = (*videoRepo)(nil)

type videoRepo struct {
	pool *pgxpool.Pool
}

func NewVideoRepo(pool *pgxpool.Pool) *videoRepo {
	return &videoRepo{pool: pool}
}

const videoColumns = `
id, owner, prompt, style, aspect_ratio, duration, status,
COALESCE(artifact_key, ''), COALESCE(artifact_url, ''), created_at`

func (r *videoRepo) Save(ctx context.Context, tx repository.Tx, v *model.Video) error {
	var artifactKey, artifactURL interface{}
	if v.Artifact.Key != "" {
		artifactKey = v.Artifact.Key
	}
	if v.Artifact.URL != "" {
		artifactURL = v.Artifact.URL
	}

	// Videos are written exactly once, at job completion; a conflicting id
	// means a duplicate finalize lost the race and the insert is a no-op.
	const q = `
INSERT INTO videos (id, owner, prompt, style, aspect_ratio, duration, status,
                    artifact_key, artifact_url, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO NOTHING;`

	_, err := execSQL(ctx, r.pool, tx, q,
		v.ID, v.Owner, v.Prompt, v.Style, v.AspectRatio, v.Duration,
		string(v.Status), artifactKey, artifactURL, v.CreatedAt)
	return err
}

func (r *videoRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Video, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+videoColumns+` FROM videos WHERE id = $1;`, id)
	if err != nil {
		return nil, err
	}
	return scanVideo(row)
}

func (r *videoRepo) ListByOwner(ctx context.Context, tx repository.Tx, owner string) ([]*model.Video, error) {
	rows, err := pickRows(ctx, r.pool, tx,
		`SELECT `+videoColumns+` FROM videos WHERE owner = $1 ORDER BY created_at DESC;`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*model.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (r *videoRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	cmd, err := execSQL(ctx, r.pool, tx, `DELETE FROM videos WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanVideo(row pgx.Row) (*model.Video, error) {
	var (
		v         model.Video
		statusStr string
	)
	err := row.Scan(
		&v.ID, &v.Owner, &v.Prompt, &v.Style, &v.AspectRatio, &v.Duration,
		&statusStr, &v.Artifact.Key, &v.Artifact.URL, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	v.Status = model.VideoStatus(statusStr)
	return &v, nil
}
