package usecase

import (
	"context"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/repository"
	"video-generation-service/internal/infra/logging"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ VideoUseCase = (*videoUC)(nil)

// VideoUseCase serves the durable library of completed generations.
type VideoUseCase interface {
	GetVideo(ctx context.Context, caller, videoID string) (*model.Video, error)
	ListByOwner(ctx context.Context, owner string) ([]*model.Video, error)
	// Delete removes a video record. The originating job is retained for audit.
	Delete(ctx context.Context, caller, videoID string) error
}

type videoUC struct {
	videos repository.VideoRepository
	access AccessUseCase
	log    *zerolog.Logger
}

func NewVideoUseCase(videos repository.VideoRepository, access AccessUseCase, logger *zerolog.Logger) *videoUC {
	return &videoUC{videos: videos, access: access, log: logger}
}

func (u *videoUC) GetVideo(ctx context.Context, caller, videoID string) (*model.Video, error) {
	video, err := u.videos.FindByID(ctx, repository.NoTX, videoID)
	if err != nil {
		return nil, err
	}
	ok, err := canMutate(ctx, u.access, caller, video.Owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	return video, nil
}

func (u *videoUC) ListByOwner(ctx context.Context, owner string) ([]*model.Video, error) {
	return u.videos.ListByOwner(ctx, repository.NoTX, owner)
}

func (u *videoUC) Delete(ctx context.Context, caller, videoID string) error {
	defer logging.TraceDuration(u.log, "VideoUC.Delete")()

	video, err := u.videos.FindByID(ctx, repository.NoTX, videoID)
	if err != nil {
		return err
	}
	ok, err := canMutate(ctx, u.access, caller, video.Owner)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrUnauthorized
	}
	if err := u.videos.Delete(ctx, repository.NoTX, videoID); err != nil {
		return err
	}
	u.log.Info().Str("video_id", videoID).Str("caller", caller).Msg("video deleted")
	return nil
}
