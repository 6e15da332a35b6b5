package repository

import (
	"context"

	"video-generation-service/internal/domain/model"
)

// VideoRepository stores the durable projections of completed jobs.
// Deleting a video never touches its originating job.
type VideoRepository interface {
	Save(ctx context.Context, tx Tx, video *model.Video) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Video, error)
	ListByOwner(ctx context.Context, tx Tx, owner string) ([]*model.Video, error)
	Delete(ctx context.Context, tx Tx, id string) error
}
