package repository

import (
	"context"

	"video-generation-service/internal/domain/model"
)

// JobRepository is the durable store for generation jobs. All transition
// methods are conditional single-statement updates: the WHERE clause names
// the expected current status, and zero affected rows surfaces as
// domain.ErrInvalidTransition. That makes the store the single writer per
// job identity: concurrent transition attempts race on the row and exactly
// one wins.
type JobRepository interface {
	Save(ctx context.Context, tx Tx, job *model.VideoGenerationJob) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.VideoGenerationJob, error)
	// ListByOwner returns the owner's jobs most-recent-first.
	ListByOwner(ctx context.Context, tx Tx, owner string) ([]*model.VideoGenerationJob, error)

	// MarkProcessing performs queued -> processing.
	MarkProcessing(ctx context.Context, tx Tx, id string) error
	// AttachArtifact sets the artifact on a processing job that has none yet.
	AttachArtifact(ctx context.Context, tx Tx, id string, ref model.BlobRef) error
	// Complete performs processing -> completed, requiring an attached artifact.
	Complete(ctx context.Context, tx Tx, id string) error
	// MarkFailed performs queued|processing -> failed with a reason. Returns
	// domain.ErrInvalidTransition when the job is already completed; callers
	// treat an already-failed job as a logged no-op.
	MarkFailed(ctx context.Context, tx Tx, id string, reason string) error
	// RecordRetry bumps the retry counter and stores the last provider error.
	RecordRetry(ctx context.Context, tx Tx, id string, retries int, lastError string) error
}
