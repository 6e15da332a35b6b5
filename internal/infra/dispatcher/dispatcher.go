package dispatcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/adapter"
	"video-generation-service/internal/domain/ports/repository"
	"video-generation-service/internal/infra/logging"
	"video-generation-service/internal/infra/metrics"
	"video-generation-service/internal/transform"

	"github.com/rs/zerolog"
)

// JobControl is the slice of the job use case the dispatcher drives.
type JobControl interface {
	MarkProcessing(ctx context.Context, jobID string) error
	AttachArtifact(ctx context.Context, jobID string, ref model.BlobRef) error
	Finalize(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID, reason string) error
	RecordRetry(ctx context.Context, jobID string, retries int, lastError string) error
}

// Config bounds the provider interaction per job.
type Config struct {
	CallTimeout time.Duration // per-attempt deadline
	MaxAttempts int
	BackoffBase time.Duration
}

// Dispatcher bridges queued jobs to the external generation provider. Each
// dispatched job runs as one pool task carrying a cancellable context keyed
// by job identity; Cancel revokes the token so a late provider response for
// a deleted or cancelled job is discarded instead of resurrecting it.
type Dispatcher struct {
	jobs     repository.JobRepository
	control  JobControl
	provider adapter.VideoProviderAdapter
	blobs    adapter.BlobStore
	pool     *Pool
	cfg      Config
	log      *zerolog.Logger

	mu     sync.Mutex
	tokens map[string]context.CancelFunc
}

func New(
	jobs repository.JobRepository,
	control JobControl,
	provider adapter.VideoProviderAdapter,
	blobs adapter.BlobStore,
	pool *Pool,
	cfg Config,
	logger *zerolog.Logger,
) *Dispatcher {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	return &Dispatcher{
		jobs:     jobs,
		control:  control,
		provider: provider,
		blobs:    blobs,
		pool:     pool,
		cfg:      cfg,
		log:      logger,
		tokens:   make(map[string]context.CancelFunc),
	}
}

// Dispatch schedules the provider call for a queued job and returns an
// acknowledgement immediately; it never blocks on the provider.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID, url string) (string, error) {
	job, err := d.jobs.FindByID(ctx, repository.NoTX, jobID)
	if err != nil {
		return "", err
	}
	if job.Status != model.VideoStatusQueued {
		return "", domain.ErrInvalidTransition
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	if _, exists := d.tokens[jobID]; exists {
		d.mu.Unlock()
		cancel()
		return "", domain.ErrInvalidTransition
	}
	d.tokens[jobID] = cancel
	d.mu.Unlock()

	params := job.Params()
	err = d.pool.Submit(func(context.Context) error {
		defer d.release(jobID)
		d.run(jobCtx, jobID, url, params)
		return nil
	})
	if err != nil {
		d.release(jobID)
		return "", err
	}

	metrics.JobDispatched()
	d.log.Info().Str("job_id", jobID).Str("url", url).Msg("job dispatched")
	return "dispatched:" + jobID, nil
}

// Cancel revokes the job's dispatch token. Safe to call for unknown jobs.
func (d *Dispatcher) Cancel(jobID string) {
	d.mu.Lock()
	cancel, ok := d.tokens[jobID]
	d.mu.Unlock()
	if ok {
		cancel()
		d.log.Debug().Str("job_id", jobID).Msg("dispatch cancelled")
	}
}

func (d *Dispatcher) release(jobID string) {
	d.mu.Lock()
	cancel, ok := d.tokens[jobID]
	delete(d.tokens, jobID)
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

func (d *Dispatcher) run(ctx context.Context, jobID, url string, params model.VideoParams) {
	defer metrics.JobSettled()

	ctx = logging.WithJobID(ctx, jobID)
	log := logging.With(ctx, d.log)

	if err := d.control.MarkProcessing(ctx, jobID); err != nil {
		// Another worker already owns this job, or it was deleted.
		log.Debug().Err(err).Msg("skipping dispatch")
		return
	}

	req := adapter.GenerationRequest{JobID: jobID, URL: url, Params: params}
	var raw *transform.RawResponse
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			log.Debug().Msg("dispatch token cancelled; discarding")
			return
		}

		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		start := time.Now()
		resp, err := d.provider.RequestGeneration(attemptCtx, req)
		cancel()
		latency := int(time.Since(start) / time.Millisecond)

		retryable, failReason := classify(resp, err)
		if failReason == "" && !retryable {
			metrics.ObserveProviderCall(latency, true)
			raw = resp
			break
		}
		metrics.ObserveProviderCall(latency, false)

		if !retryable {
			_ = d.control.Fail(context.Background(), jobID, failReason)
			return
		}

		lastErr := failReason
		if err != nil {
			lastErr = err.Error()
		}
		_ = d.control.RecordRetry(context.Background(), jobID, attempt, lastErr)

		if attempt >= d.cfg.MaxAttempts {
			log.Warn().Err(domain.ErrProviderExhausted).Int("attempts", attempt).Msg("giving up on job")
			_ = d.control.Fail(context.Background(), jobID, "ProviderExhausted")
			return
		}

		metrics.IncProviderRetry()
		backoff := d.cfg.BackoffBase << (attempt - 1)
		log.Warn().Int("attempt", attempt).
			Dur("backoff", backoff).Str("error", lastErr).Msg("provider call failed; retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}

	// The dispatcher and the public transform endpoint share this exact
	// function, so redundant fetch paths agree on the result.
	canonical := transform.Canonicalize(transform.Input{
		Response: *raw,
		Context:  []byte(jobID),
	})

	ref, err := d.storeArtifact(ctx, jobID, canonical.Body)
	if err != nil {
		_ = d.control.Fail(context.Background(), jobID, "MalformedResponse")
		return
	}

	if ctx.Err() != nil {
		log.Debug().Msg("job cancelled before finalize; discarding result")
		return
	}
	if err := d.control.AttachArtifact(context.Background(), jobID, ref); err != nil {
		log.Debug().Err(err).Msg("artifact attach rejected; discarding")
		return
	}
	if err := d.control.Finalize(context.Background(), jobID); err != nil {
		log.Error().Err(err).Msg("finalize failed")
	}
}

// providerPayload is the success body shape: either a CDN URL or inline
// base64 content.
type providerPayload struct {
	VideoURL    string `json:"video_url"`
	URL         string `json:"url"`
	VideoBase64 string `json:"video_b64"`
}

func (d *Dispatcher) storeArtifact(ctx context.Context, jobID string, body []byte) (model.BlobRef, error) {
	var payload providerPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.BlobRef{}, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	key := jobID + ".mp4"

	switch {
	case payload.VideoURL != "":
		return d.blobs.StoreFromURL(ctx, key, payload.VideoURL)
	case payload.URL != "":
		return d.blobs.StoreFromURL(ctx, key, payload.URL)
	case payload.VideoBase64 != "":
		data, err := base64.StdEncoding.DecodeString(payload.VideoBase64)
		if err != nil {
			return model.BlobRef{}, fmt.Errorf("%w: bad base64 body", domain.ErrMalformedResponse)
		}
		return d.blobs.StoreBytes(ctx, key, data)
	default:
		return model.BlobRef{}, domain.ErrMalformedResponse
	}
}

// classify maps an attempt outcome to (retryable, failReason). A nil reason
// with retryable=false means success. Timeouts and 5xx are transient; 4xx
// and transport-level malformed responses are permanent.
func classify(resp *transform.RawResponse, err error) (retryable bool, failReason string) {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return true, "ProviderTransient"
		}
		if errors.Is(err, domain.ErrMalformedResponse) {
			return false, "MalformedResponse"
		}
		// Network-level failures, including wrapped ErrProviderTransient,
		// are assumed transient.
		return true, "ProviderTransient"
	}
	switch {
	case resp == nil:
		return false, "MalformedResponse"
	case resp.Status >= 500:
		return true, "ProviderTransient"
	case resp.Status >= 400:
		return false, fmt.Sprintf("provider rejected request: status %d", resp.Status)
	case resp.Status >= 200 && resp.Status < 300:
		return false, ""
	default:
		return false, "MalformedResponse"
	}
}
