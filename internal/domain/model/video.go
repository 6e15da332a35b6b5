package model

import (
	"time"

	"video-generation-service/internal/domain"

	"github.com/oklog/ulid/v2"
)

type VideoStatus string

const (
	VideoStatusQueued     VideoStatus = "queued"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusFailed     VideoStatus = "failed"
)

// ParseVideoStatus validates a raw status string against the closed set.
func ParseVideoStatus(s string) (VideoStatus, error) {
	switch VideoStatus(s) {
	case VideoStatusQueued, VideoStatusProcessing, VideoStatusCompleted, VideoStatusFailed:
		return VideoStatus(s), nil
	default:
		return "", domain.ErrInvalidParams
	}
}

// Terminal reports whether no further transition is permitted out of s.
func (s VideoStatus) Terminal() bool {
	return s == VideoStatusCompleted || s == VideoStatusFailed
}

// CanTransitionTo encodes the only legal edges:
// queued -> processing -> {completed, failed}, queued -> failed.
func (s VideoStatus) CanTransitionTo(next VideoStatus) bool {
	switch s {
	case VideoStatusQueued:
		return next == VideoStatusProcessing || next == VideoStatusFailed
	case VideoStatusProcessing:
		return next == VideoStatusCompleted || next == VideoStatusFailed
	case VideoStatusCompleted, VideoStatusFailed:
		return false
	default:
		return false
	}
}

// BlobRef is an opaque handle to stored binary content. Either Key (local
// store) or URL (remote reference) identifies the artifact; both may be set.
type BlobRef struct {
	Key string `json:"key,omitempty"`
	URL string `json:"url,omitempty"`
}

func (b BlobRef) Empty() bool { return b.Key == "" && b.URL == "" }

// VideoParams is the immutable value object describing one generation request.
type VideoParams struct {
	Prompt      string `json:"prompt"`
	Duration    int    `json:"duration"`
	Style       string `json:"style"`
	AspectRatio string `json:"aspect_ratio"`
}

var knownStyles = map[string]struct{}{
	"cinematic":   {},
	"animation":   {},
	"realistic":   {},
	"artistic":    {},
	"cartoon":     {},
	"documentary": {},
}

var knownAspectRatios = map[string]struct{}{
	"16:9": {},
	"9:16": {},
	"1:1":  {},
	"4:3":  {},
}

func (p VideoParams) Validate() error {
	if p.Prompt == "" {
		return domain.ErrInvalidParams
	}
	if p.Duration <= 0 {
		return domain.ErrInvalidParams
	}
	if _, ok := knownStyles[p.Style]; !ok {
		return domain.ErrInvalidParams
	}
	if _, ok := knownAspectRatios[p.AspectRatio]; !ok {
		return domain.ErrInvalidParams
	}
	return nil
}

// VideoGenerationJob tracks one generation attempt through its lifecycle.
// Owner and ID are immutable after creation. Artifact attaches while the job
// is processing and must be present before the job can complete.
type VideoGenerationJob struct {
	ID          string      `json:"id"`
	Owner       string      `json:"owner"`
	Prompt      string      `json:"prompt"`
	Style       string      `json:"style"`
	AspectRatio string      `json:"aspect_ratio"`
	Duration    int         `json:"duration"`
	Status      VideoStatus `json:"status"`
	Artifact    *BlobRef    `json:"artifact,omitempty"`
	Retries     int         `json:"retries"`
	LastError   string      `json:"last_error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// NewVideoGenerationJob validates params and mints a queued job with a fresh
// identity. ULIDs sort by creation time, which the owner job listing relies on.
func NewVideoGenerationJob(owner string, params VideoParams) (*VideoGenerationJob, error) {
	if owner == "" {
		return nil, domain.ErrInvalidParams
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	return &VideoGenerationJob{
		ID:          ulid.Make().String(),
		Owner:       owner,
		Prompt:      params.Prompt,
		Style:       params.Style,
		AspectRatio: params.AspectRatio,
		Duration:    params.Duration,
		Status:      VideoStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Params returns the value object the job was created from.
func (j *VideoGenerationJob) Params() VideoParams {
	return VideoParams{
		Prompt:      j.Prompt,
		Duration:    j.Duration,
		Style:       j.Style,
		AspectRatio: j.AspectRatio,
	}
}

// Video is the durable projection of a completed job. Its artifact is
// mandatory and immutable once written.
type Video struct {
	ID          string      `json:"id"`
	Owner       string      `json:"owner"`
	Prompt      string      `json:"prompt"`
	Style       string      `json:"style"`
	AspectRatio string      `json:"aspect_ratio"`
	Duration    int         `json:"duration"`
	Status      VideoStatus `json:"status"`
	Artifact    BlobRef     `json:"artifact"`
	CreatedAt   time.Time   `json:"created_at"`
}

// NewVideoFromJob promotes a completed job into its Video record.
func NewVideoFromJob(job *VideoGenerationJob) (*Video, error) {
	if job.Status != VideoStatusCompleted {
		return nil, domain.ErrInvalidTransition
	}
	if job.Artifact == nil || job.Artifact.Empty() {
		return nil, domain.ErrNotReady
	}
	return &Video{
		ID:          job.ID,
		Owner:       job.Owner,
		Prompt:      job.Prompt,
		Style:       job.Style,
		AspectRatio: job.AspectRatio,
		Duration:    job.Duration,
		Status:      VideoStatusCompleted,
		Artifact:    *job.Artifact,
		CreatedAt:   job.CreatedAt,
	}, nil
}
