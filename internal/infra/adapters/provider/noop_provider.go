package provider

import (
	"context"
	"encoding/json"
	"time"

	"video-generation-service/internal/domain/ports/adapter"
	"video-generation-service/internal/transform"
)

var _ adapter.VideoProviderAdapter = (*NoopProvider)(nil)

// NoopProvider implements the provider port for local/dev runs. It simulates
// a short generation delay and answers with a fake CDN URL.
type NoopProvider struct{}

func NewNoopProvider() *NoopProvider { return &NoopProvider{} }

func (p *NoopProvider) RequestGeneration(ctx context.Context, req adapter.GenerationRequest) (*transform.RawResponse, error) {
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	body, _ := json.Marshal(map[string]string{
		"video_url": "https://cdn.invalid/videos/" + req.JobID + ".mp4",
	})
	return &transform.RawResponse{
		Status: 200,
		Headers: []transform.Header{
			{Name: "Content-Type", Value: "application/json"},
		},
		Body: body,
	}, nil
}
