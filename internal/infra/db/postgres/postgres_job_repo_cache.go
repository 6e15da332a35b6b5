package postgres

import (
	"context"
	"encoding/json"
	"time"

	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/repository"
	"video-generation-service/internal/infra/metrics"
	red "video-generation-service/internal/infra/redis"
)

var _ repository.JobRepository = (*jobRepoCacheDecorator)(nil)

// jobRepoCacheDecorator puts a short-TTL redis cache in front of job reads.
// Clients poll getJob every few seconds; the cache absorbs that load.
// Every mutation invalidates the entry before hitting the inner repo, and
// transactional reads always bypass the cache so FOR UPDATE-style flows see
// committed row state.
type jobRepoCacheDecorator struct {
	inner repository.JobRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewJobRepoCacheDecorator(inner repository.JobRepository, cache red.RedisClient, ttl time.Duration) repository.JobRepository {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &jobRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func jobCacheKey(id string) string { return "job:id:" + id }

func (d *jobRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.VideoGenerationJob, error) {
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}

	if val, err := d.cache.Get(ctx, jobCacheKey(id)); err == nil {
		var job model.VideoGenerationJob
		if json.Unmarshal([]byte(val), &job) == nil {
			metrics.IncCacheRequest("job", "hit")
			return &job, nil
		}
	}

	metrics.IncCacheRequest("job", "miss")
	job, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if bytes, err := json.Marshal(job); err == nil {
		_ = d.cache.Set(ctx, jobCacheKey(id), bytes, d.ttl)
	}
	return job, nil
}

func (d *jobRepoCacheDecorator) ListByOwner(ctx context.Context, tx repository.Tx, owner string) ([]*model.VideoGenerationJob, error) {
	return d.inner.ListByOwner(ctx, tx, owner)
}

func (d *jobRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, job *model.VideoGenerationJob) error {
	_ = d.cache.Del(ctx, jobCacheKey(job.ID))
	return d.inner.Save(ctx, tx, job)
}

func (d *jobRepoCacheDecorator) MarkProcessing(ctx context.Context, tx repository.Tx, id string) error {
	_ = d.cache.Del(ctx, jobCacheKey(id))
	return d.inner.MarkProcessing(ctx, tx, id)
}

func (d *jobRepoCacheDecorator) AttachArtifact(ctx context.Context, tx repository.Tx, id string, ref model.BlobRef) error {
	_ = d.cache.Del(ctx, jobCacheKey(id))
	return d.inner.AttachArtifact(ctx, tx, id, ref)
}

func (d *jobRepoCacheDecorator) Complete(ctx context.Context, tx repository.Tx, id string) error {
	_ = d.cache.Del(ctx, jobCacheKey(id))
	return d.inner.Complete(ctx, tx, id)
}

func (d *jobRepoCacheDecorator) MarkFailed(ctx context.Context, tx repository.Tx, id string, reason string) error {
	_ = d.cache.Del(ctx, jobCacheKey(id))
	return d.inner.MarkFailed(ctx, tx, id, reason)
}

func (d *jobRepoCacheDecorator) RecordRetry(ctx context.Context, tx repository.Tx, id string, retries int, lastError string) error {
	_ = d.cache.Del(ctx, jobCacheKey(id))
	return d.inner.RecordRetry(ctx, tx, id, retries, lastError)
}
