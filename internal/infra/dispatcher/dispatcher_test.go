package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/adapter"
	"video-generation-service/internal/domain/ports/repository"
	"video-generation-service/internal/transform"

	"github.com/rs/zerolog"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

type stubJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.VideoGenerationJob
}

func newStubJobRepo(jobs ...*model.VideoGenerationJob) *stubJobRepo {
	r := &stubJobRepo{jobs: make(map[string]*model.VideoGenerationJob)}
	for _, j := range jobs {
		r.jobs[j.ID] = j
	}
	return r
}

func (r *stubJobRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.VideoGenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (r *stubJobRepo) Save(context.Context, repository.Tx, *model.VideoGenerationJob) error {
	return nil
}
func (r *stubJobRepo) ListByOwner(context.Context, repository.Tx, string) ([]*model.VideoGenerationJob, error) {
	return nil, nil
}
func (r *stubJobRepo) MarkProcessing(context.Context, repository.Tx, string) error { return nil }
func (r *stubJobRepo) AttachArtifact(context.Context, repository.Tx, string, model.BlobRef) error {
	return nil
}
func (r *stubJobRepo) Complete(context.Context, repository.Tx, string) error { return nil }
func (r *stubJobRepo) MarkFailed(context.Context, repository.Tx, string, string) error {
	return nil
}
func (r *stubJobRepo) RecordRetry(context.Context, repository.Tx, string, int, string) error {
	return nil
}

// stubControl records lifecycle calls and signals on settle so tests can wait
// deterministically instead of sleeping.
type stubControl struct {
	mu         sync.Mutex
	processing []string
	artifacts  map[string]model.BlobRef
	finalized  []string
	failed     map[string]string
	retries    int

	settled chan struct{}
}

func newStubControl() *stubControl {
	return &stubControl{
		artifacts: make(map[string]model.BlobRef),
		failed:    make(map[string]string),
		settled:   make(chan struct{}, 8),
	}
}

func (c *stubControl) MarkProcessing(_ context.Context, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processing = append(c.processing, jobID)
	return nil
}

func (c *stubControl) AttachArtifact(_ context.Context, jobID string, ref model.BlobRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.artifacts[jobID] = ref
	return nil
}

func (c *stubControl) Finalize(_ context.Context, jobID string) error {
	c.mu.Lock()
	c.finalized = append(c.finalized, jobID)
	c.mu.Unlock()
	c.settled <- struct{}{}
	return nil
}

func (c *stubControl) Fail(_ context.Context, jobID, reason string) error {
	c.mu.Lock()
	c.failed[jobID] = reason
	c.mu.Unlock()
	c.settled <- struct{}{}
	return nil
}

func (c *stubControl) RecordRetry(_ context.Context, _ string, _ int, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries++
	return nil
}

func (c *stubControl) waitSettled(t *testing.T) {
	t.Helper()
	select {
	case <-c.settled:
	case <-time.After(5 * time.Second):
		t.Fatal("job never settled")
	}
}

// scriptedProvider returns its responses in order; the last entry repeats.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []func(ctx context.Context) (*transform.RawResponse, error)
	calls     int
}

func (p *scriptedProvider) RequestGeneration(ctx context.Context, _ adapter.GenerationRequest) (*transform.RawResponse, error) {
	p.mu.Lock()
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	fn := p.responses[idx]
	p.calls++
	p.mu.Unlock()
	return fn(ctx)
}

func ok(body string) func(context.Context) (*transform.RawResponse, error) {
	return func(context.Context) (*transform.RawResponse, error) {
		return &transform.RawResponse{Status: 200, Body: []byte(body)}, nil
	}
}

func status(code int64) func(context.Context) (*transform.RawResponse, error) {
	return func(context.Context) (*transform.RawResponse, error) {
		return &transform.RawResponse{Status: code}, nil
	}
}

func netErr() func(context.Context) (*transform.RawResponse, error) {
	return func(context.Context) (*transform.RawResponse, error) {
		return nil, errors.New("connection refused")
	}
}

type stubBlobs struct {
	mu    sync.Mutex
	byURL map[string]string
	data  map[string][]byte
}

func newStubBlobs() *stubBlobs {
	return &stubBlobs{byURL: make(map[string]string), data: make(map[string][]byte)}
}

func (b *stubBlobs) StoreBytes(_ context.Context, key string, data []byte) (model.BlobRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = data
	return model.BlobRef{Key: key}, nil
}

func (b *stubBlobs) StoreFromURL(_ context.Context, key, url string) (model.BlobRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byURL[key] = url
	return model.BlobRef{Key: key, URL: url}, nil
}

func (b *stubBlobs) Bytes(context.Context, model.BlobRef) ([]byte, error) { return nil, nil }
func (b *stubBlobs) DirectURL(ref model.BlobRef) string                   { return ref.URL }

func queuedJob(id string) *model.VideoGenerationJob {
	return &model.VideoGenerationJob{
		ID:          id,
		Owner:       "alice",
		Prompt:      "p",
		Style:       "cinematic",
		AspectRatio: "16:9",
		Duration:    5,
		Status:      model.VideoStatusQueued,
	}
}

type harness struct {
	repo     *stubJobRepo
	control  *stubControl
	provider *scriptedProvider
	blobs    *stubBlobs
	pool     *Pool
	disp     *Dispatcher
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, provider *scriptedProvider, jobs ...*model.VideoGenerationJob) *harness {
	t.Helper()
	h := &harness{
		repo:     newStubJobRepo(jobs...),
		control:  newStubControl(),
		provider: provider,
		blobs:    newStubBlobs(),
		pool:     NewPool(2, testLogger()),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		h.pool.Stop()
	})
	h.disp = h.newDispatcher()
	return h
}

func (h *harness) newDispatcher() *Dispatcher {
	return New(h.repo, h.control, h.provider, h.blobs, h.pool, Config{
		CallTimeout: 200 * time.Millisecond,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
	}, testLogger())
}

func TestDispatchSuccess(t *testing.T) {
	provider := &scriptedProvider{responses: []func(context.Context) (*transform.RawResponse, error){
		ok(`{"video_url":"https://cdn.example/out.mp4"}`),
	}}
	h := newHarness(t, provider, queuedJob("job-1"))

	ack, err := h.disp.Dispatch(context.Background(), "job-1", "https://provider.example/generate")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if ack != "dispatched:job-1" {
		t.Errorf("ack = %q", ack)
	}

	h.control.waitSettled(t)

	if len(h.control.finalized) != 1 || h.control.finalized[0] != "job-1" {
		t.Errorf("finalized = %v", h.control.finalized)
	}
	ref := h.control.artifacts["job-1"]
	if ref.Key != "job-1.mp4" || ref.URL != "https://cdn.example/out.mp4" {
		t.Errorf("artifact = %+v", ref)
	}
	if len(h.control.failed) != 0 {
		t.Errorf("unexpected failures: %v", h.control.failed)
	}
}

func TestDispatchInlineBase64(t *testing.T) {
	// "video" base64-encoded
	provider := &scriptedProvider{responses: []func(context.Context) (*transform.RawResponse, error){
		ok(`{"video_b64":"dmlkZW8="}`),
	}}
	h := newHarness(t, provider, queuedJob("job-1"))

	if _, err := h.disp.Dispatch(context.Background(), "job-1", "u"); err != nil {
		t.Fatal(err)
	}
	h.control.waitSettled(t)

	if string(h.blobs.data["job-1.mp4"]) != "video" {
		t.Errorf("stored bytes = %q", h.blobs.data["job-1.mp4"])
	}
}

func TestDispatchRejectsNonQueued(t *testing.T) {
	job := queuedJob("job-1")
	job.Status = model.VideoStatusProcessing
	h := newHarness(t, &scriptedProvider{responses: []func(context.Context) (*transform.RawResponse, error){ok(`{}`)}}, job)

	if _, err := h.disp.Dispatch(context.Background(), "job-1", "u"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := h.disp.Dispatch(context.Background(), "missing", "u"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDispatchTransientExhaustion(t *testing.T) {
	provider := &scriptedProvider{responses: []func(context.Context) (*transform.RawResponse, error){
		status(503),
	}}
	h := newHarness(t, provider, queuedJob("job-1"))

	if _, err := h.disp.Dispatch(context.Background(), "job-1", "u"); err != nil {
		t.Fatal(err)
	}
	h.control.waitSettled(t)

	if reason := h.control.failed["job-1"]; reason != "ProviderExhausted" {
		t.Errorf("fail reason = %q, want ProviderExhausted", reason)
	}
	if h.provider.calls != 3 {
		t.Errorf("provider calls = %d, want 3", h.provider.calls)
	}
	if h.control.retries != 3 {
		t.Errorf("recorded retries = %d, want 3", h.control.retries)
	}
	if len(h.control.finalized) != 0 {
		t.Errorf("exhausted job must not finalize: %v", h.control.finalized)
	}
}

func TestDispatchNetworkErrorsRetryThenSucceed(t *testing.T) {
	provider := &scriptedProvider{responses: []func(context.Context) (*transform.RawResponse, error){
		netErr(),
		netErr(),
		ok(`{"url":"https://cdn.example/v.mp4"}`),
	}}
	h := newHarness(t, provider, queuedJob("job-1"))

	if _, err := h.disp.Dispatch(context.Background(), "job-1", "u"); err != nil {
		t.Fatal(err)
	}
	h.control.waitSettled(t)

	if len(h.control.finalized) != 1 {
		t.Errorf("finalized = %v, failed = %v", h.control.finalized, h.control.failed)
	}
	if h.provider.calls != 3 {
		t.Errorf("provider calls = %d, want 3", h.provider.calls)
	}
}

func TestDispatchClientErrorIsPermanent(t *testing.T) {
	provider := &scriptedProvider{responses: []func(context.Context) (*transform.RawResponse, error){
		status(400),
	}}
	h := newHarness(t, provider, queuedJob("job-1"))

	if _, err := h.disp.Dispatch(context.Background(), "job-1", "u"); err != nil {
		t.Fatal(err)
	}
	h.control.waitSettled(t)

	if h.provider.calls != 1 {
		t.Errorf("4xx must not retry, calls = %d", h.provider.calls)
	}
	if reason := h.control.failed["job-1"]; reason == "" || reason == "ProviderExhausted" {
		t.Errorf("fail reason = %q", reason)
	}
}

func TestDispatchMalformedBody(t *testing.T) {
	provider := &scriptedProvider{responses: []func(context.Context) (*transform.RawResponse, error){
		ok(`not json at all`),
	}}
	h := newHarness(t, provider, queuedJob("job-1"))

	if _, err := h.disp.Dispatch(context.Background(), "job-1", "u"); err != nil {
		t.Fatal(err)
	}
	h.control.waitSettled(t)

	if reason := h.control.failed["job-1"]; reason != "MalformedResponse" {
		t.Errorf("fail reason = %q, want MalformedResponse", reason)
	}
}

func TestDispatchDuplicateRejected(t *testing.T) {
	block := make(chan struct{})
	provider := &scriptedProvider{responses: []func(context.Context) (*transform.RawResponse, error){
		func(ctx context.Context) (*transform.RawResponse, error) {
			select {
			case <-block:
			case <-ctx.Done():
			}
			return &transform.RawResponse{Status: 200, Body: []byte(`{"url":"https://cdn.example/v.mp4"}`)}, nil
		},
	}}
	h := newHarness(t, provider, queuedJob("job-1"))

	if _, err := h.disp.Dispatch(context.Background(), "job-1", "u"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.disp.Dispatch(context.Background(), "job-1", "u"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("duplicate dispatch must be rejected, got %v", err)
	}
	close(block)
	h.control.waitSettled(t)
}

func TestCancelDiscardsLateResponse(t *testing.T) {
	inCall := make(chan struct{})
	provider := &scriptedProvider{responses: []func(context.Context) (*transform.RawResponse, error){
		func(ctx context.Context) (*transform.RawResponse, error) {
			close(inCall)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
	h := newHarness(t, provider, queuedJob("job-1"))

	if _, err := h.disp.Dispatch(context.Background(), "job-1", "u"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-inCall:
	case <-time.After(5 * time.Second):
		t.Fatal("provider never called")
	}
	h.disp.Cancel("job-1")

	// The cancelled job must settle without a finalize or a terminal fail.
	select {
	case <-h.control.settled:
		t.Fatalf("cancelled job settled: finalized=%v failed=%v", h.control.finalized, h.control.failed)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		resp      *transform.RawResponse
		err       error
		retryable bool
		reason    string
	}{
		{"success", &transform.RawResponse{Status: 200}, nil, false, ""},
		{"timeout", nil, context.DeadlineExceeded, true, "ProviderTransient"},
		{"network", nil, errors.New("dial tcp: refused"), true, "ProviderTransient"},
		{"server error", &transform.RawResponse{Status: 502}, nil, true, "ProviderTransient"},
		{"client error", &transform.RawResponse{Status: 422}, nil, false, "provider rejected request: status 422"},
		{"nil response", nil, nil, false, "MalformedResponse"},
		{"odd status", &transform.RawResponse{Status: 302}, nil, false, "MalformedResponse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			retryable, reason := classify(tc.resp, tc.err)
			if retryable != tc.retryable || reason != tc.reason {
				t.Errorf("classify = (%v, %q), want (%v, %q)", retryable, reason, tc.retryable, tc.reason)
			}
		})
	}
}

func TestPoolBackpressure(t *testing.T) {
	pool := NewPool(1, testLogger())
	// Not started, so the queue (capacity 4) fills and Submit must refuse
	// rather than block.
	for i := 0; i < 4; i++ {
		if err := pool.Submit(func(context.Context) error { return nil }); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if err := pool.Submit(func(context.Context) error { return nil }); err == nil {
		t.Error("saturated queue must reject submissions")
	}
}
