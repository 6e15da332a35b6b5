package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/ports/adapter"
	"video-generation-service/internal/transform"

	"github.com/rs/zerolog"
)

var _ adapter.VideoProviderAdapter = (*HTTPProvider)(nil)

// maxReadBytes caps how much of an upstream body is read. Slightly above
// the canonical ceiling so truncation happens in the transform, not here.
const maxReadBytes = transform.MaxBodyBytes + 1024

// HTTPProvider calls the external AI generation service over plain HTTP and
// hands back the wire response untouched. Interpreting the response is the
// dispatcher's job.
type HTTPProvider struct {
	apiKey string
	client *http.Client
	log    *zerolog.Logger
}

func NewHTTPProvider(apiKey string, timeout time.Duration, logger *zerolog.Logger) *HTTPProvider {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &HTTPProvider{
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		log:    logger,
	}
}

type generationBody struct {
	JobID       string `json:"job_id"`
	Prompt      string `json:"prompt"`
	Duration    int    `json:"duration"`
	Style       string `json:"style"`
	AspectRatio string `json:"aspect_ratio"`
}

func (p *HTTPProvider) RequestGeneration(ctx context.Context, req adapter.GenerationRequest) (*transform.RawResponse, error) {
	body, err := json.Marshal(generationBody{
		JobID:       req.JobID,
		Prompt:      req.Params.Prompt,
		Duration:    req.Params.Duration,
		Style:       req.Params.Style,
		AspectRatio: req.Params.AspectRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("encode generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}

	out := &transform.RawResponse{
		Status: int64(resp.StatusCode),
		Body:   raw,
	}
	for name, values := range resp.Header {
		for _, v := range values {
			out.Headers = append(out.Headers, transform.Header{Name: name, Value: v})
		}
	}

	p.log.Debug().Str("job_id", req.JobID).Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).Msg("provider response")
	return out, nil
}
