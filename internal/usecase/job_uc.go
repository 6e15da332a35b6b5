package usecase

import (
	"context"
	"errors"
	"time"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/repository"
	"video-generation-service/internal/infra/logging"
	"video-generation-service/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// Locker serializes multi-step transitions on one job across instances.
// The redis implementation satisfies this; tests use an in-process stub.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// Compile-time check
var _ JobUseCase = (*jobUC)(nil)

// JobUseCase owns the job lifecycle: queued -> processing -> completed|failed.
// Single-statement conditional updates in the repository serialize concurrent
// transitions; exactly one of two racing attempts succeeds, the loser gets
// domain.ErrInvalidTransition.
type JobUseCase interface {
	Generate(ctx context.Context, owner string, params model.VideoParams) (*model.VideoGenerationJob, error)
	Regenerate(ctx context.Context, caller, originalVideoID string, params model.VideoParams) (*model.VideoGenerationJob, error)
	GetJob(ctx context.Context, caller, jobID string) (*model.VideoGenerationJob, error)
	ListByOwner(ctx context.Context, owner string) ([]*model.VideoGenerationJob, error)

	// Internal transitions, driven by the dispatcher or the provider callback.
	MarkProcessing(ctx context.Context, jobID string) error
	UpdateStatus(ctx context.Context, jobID string, status model.VideoStatus, artifact *model.BlobRef) error
	AttachArtifact(ctx context.Context, jobID string, ref model.BlobRef) error
	Finalize(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID, reason string) error
	RecordRetry(ctx context.Context, jobID string, retries int, lastError string) error
}

type jobUC struct {
	jobs   repository.JobRepository
	videos repository.VideoRepository
	access AccessUseCase
	tm     repository.TransactionManager
	locker Locker
	log    *zerolog.Logger
}

func NewJobUseCase(
	jobs repository.JobRepository,
	videos repository.VideoRepository,
	access AccessUseCase,
	tm repository.TransactionManager,
	locker Locker,
	logger *zerolog.Logger,
) *jobUC {
	return &jobUC{
		jobs:   jobs,
		videos: videos,
		access: access,
		tm:     tm,
		locker: locker,
		log:    logger,
	}
}

func (u *jobUC) Generate(ctx context.Context, owner string, params model.VideoParams) (*model.VideoGenerationJob, error) {
	defer logging.TraceDuration(u.log, "JobUC.Generate")()

	job, err := model.NewVideoGenerationJob(owner, params)
	if err != nil {
		return nil, err
	}
	if err := u.jobs.Save(ctx, repository.NoTX, job); err != nil {
		return nil, err
	}
	u.log.Info().Str("job_id", job.ID).Str("owner", owner).Msg("job created")
	return job, nil
}

// Regenerate derives a brand-new job from the video's originating parameters.
// Zero-valued fields in params inherit the original value; the source video
// and its job are untouched.
func (u *jobUC) Regenerate(ctx context.Context, caller, originalVideoID string, params model.VideoParams) (*model.VideoGenerationJob, error) {
	defer logging.TraceDuration(u.log, "JobUC.Regenerate")()

	original, err := u.videos.FindByID(ctx, repository.NoTX, originalVideoID)
	if err != nil {
		return nil, err
	}
	ok, err := canMutate(ctx, u.access, caller, original.Owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrUnauthorized
	}

	if params.Prompt == "" {
		params.Prompt = original.Prompt
	}
	if params.Duration == 0 {
		params.Duration = original.Duration
	}
	if params.Style == "" {
		params.Style = original.Style
	}
	if params.AspectRatio == "" {
		params.AspectRatio = original.AspectRatio
	}

	job, err := u.Generate(ctx, original.Owner, params)
	if err != nil {
		return nil, err
	}
	u.log.Info().Str("job_id", job.ID).Str("source_video", originalVideoID).Msg("regeneration job created")
	return job, nil
}

func (u *jobUC) GetJob(ctx context.Context, caller, jobID string) (*model.VideoGenerationJob, error) {
	job, err := u.jobs.FindByID(ctx, repository.NoTX, jobID)
	if err != nil {
		return nil, err
	}
	ok, err := canMutate(ctx, u.access, caller, job.Owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	return job, nil
}

func (u *jobUC) ListByOwner(ctx context.Context, owner string) ([]*model.VideoGenerationJob, error) {
	return u.jobs.ListByOwner(ctx, repository.NoTX, owner)
}

func (u *jobUC) MarkProcessing(ctx context.Context, jobID string) error {
	if err := u.jobs.MarkProcessing(ctx, repository.NoTX, jobID); err != nil {
		return err
	}
	u.log.Debug().Str("job_id", jobID).Msg("job processing")
	return nil
}

// UpdateStatus is the provider-callback entry point. It validates the
// requested edge against the state machine and routes terminal statuses
// through Finalize / Fail so the invariants hold on every path.
func (u *jobUC) UpdateStatus(ctx context.Context, jobID string, status model.VideoStatus, artifact *model.BlobRef) error {
	defer logging.TraceDuration(u.log, "JobUC.UpdateStatus")()

	switch status {
	case model.VideoStatusProcessing:
		return u.MarkProcessing(ctx, jobID)
	case model.VideoStatusCompleted:
		if artifact != nil && !artifact.Empty() {
			if err := u.AttachArtifact(ctx, jobID, *artifact); err != nil {
				return err
			}
		}
		return u.Finalize(ctx, jobID)
	case model.VideoStatusFailed:
		return u.Fail(ctx, jobID, "failed by status update")
	case model.VideoStatusQueued:
		return domain.ErrInvalidTransition
	default:
		return domain.ErrInvalidParams
	}
}

func (u *jobUC) AttachArtifact(ctx context.Context, jobID string, ref model.BlobRef) error {
	if ref.Empty() {
		return domain.ErrInvalidParams
	}
	return u.jobs.AttachArtifact(ctx, repository.NoTX, jobID, ref)
}

// Finalize moves processing -> completed and writes the Video projection in
// the same transaction. A per-job lock keeps a late retry and the original
// response from finalizing twice across instances; within one instance the
// conditional Complete update already guarantees a single winner.
func (u *jobUC) Finalize(ctx context.Context, jobID string) error {
	defer logging.TraceDuration(u.log, "JobUC.Finalize")()

	token, err := u.locker.TryLock(ctx, "job:"+jobID, 30*time.Second)
	if err != nil {
		return domain.ErrLockNotAcquired
	}
	defer func() { _ = u.locker.Unlock(ctx, "job:"+jobID, token) }()

	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		job, err := u.jobs.FindByID(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != model.VideoStatusProcessing {
			return domain.ErrInvalidTransition
		}
		if job.Artifact == nil || job.Artifact.Empty() {
			return domain.ErrNotReady
		}
		if err := u.jobs.Complete(ctx, tx, jobID); err != nil {
			return err
		}
		job.Status = model.VideoStatusCompleted
		video, err := model.NewVideoFromJob(job)
		if err != nil {
			return err
		}
		return u.videos.Save(ctx, tx, video)
	})
	if err != nil {
		return err
	}

	metrics.IncJobProcessed(string(model.VideoStatusCompleted))
	u.log.Info().Str("job_id", jobID).Msg("job completed")
	return nil
}

// Fail moves a non-terminal job to failed. Failing an already-failed job is
// an idempotent no-op; failing a completed job is an invalid transition.
func (u *jobUC) Fail(ctx context.Context, jobID, reason string) error {
	err := u.jobs.MarkFailed(ctx, repository.NoTX, jobID, reason)
	if err == nil {
		metrics.IncJobProcessed(string(model.VideoStatusFailed))
		u.log.Warn().Str("job_id", jobID).Str("reason", reason).Msg("job failed")
		return nil
	}
	if errors.Is(err, domain.ErrInvalidTransition) {
		job, ferr := u.jobs.FindByID(ctx, repository.NoTX, jobID)
		if ferr != nil {
			return err
		}
		if job.Status == model.VideoStatusFailed {
			u.log.Debug().Str("job_id", jobID).Msg("job already failed")
			return nil
		}
	}
	return err
}

func (u *jobUC) RecordRetry(ctx context.Context, jobID string, retries int, lastError string) error {
	return u.jobs.RecordRetry(ctx, repository.NoTX, jobID, retries, lastError)
}
