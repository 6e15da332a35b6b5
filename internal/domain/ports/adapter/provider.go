package adapter

import (
	"context"

	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/transform"
)

// GenerationRequest carries everything the provider needs for one attempt.
type GenerationRequest struct {
	JobID  string
	URL    string
	Params model.VideoParams
}

// VideoProviderAdapter is the port for the external AI generation service.
// Implementations return the raw wire response untouched; canonicalization
// and interpretation belong to the dispatcher, never the adapter.
type VideoProviderAdapter interface {
	RequestGeneration(ctx context.Context, req GenerationRequest) (*transform.RawResponse, error)
}
