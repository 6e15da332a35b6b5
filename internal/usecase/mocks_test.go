package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// memJobRepo mirrors the postgres repository's contract: every transition is
// a compare-and-swap on the current status under one mutex, so concurrent
// attempts race and exactly one wins.
type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.VideoGenerationJob
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[string]*model.VideoGenerationJob)}
}

func (r *memJobRepo) Save(_ context.Context, _ repository.Tx, job *model.VideoGenerationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *memJobRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.VideoGenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *memJobRepo) ListByOwner(_ context.Context, _ repository.Tx, owner string) ([]*model.VideoGenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.VideoGenerationJob
	for _, job := range r.jobs {
		if job.Owner == owner {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memJobRepo) MarkProcessing(_ context.Context, _ repository.Tx, id string) error {
	return r.cas(id, func(j *model.VideoGenerationJob) error {
		if j.Status != model.VideoStatusQueued {
			return domain.ErrInvalidTransition
		}
		j.Status = model.VideoStatusProcessing
		return nil
	})
}

func (r *memJobRepo) AttachArtifact(_ context.Context, _ repository.Tx, id string, ref model.BlobRef) error {
	return r.cas(id, func(j *model.VideoGenerationJob) error {
		if j.Status != model.VideoStatusProcessing || j.Artifact != nil {
			return domain.ErrInvalidTransition
		}
		j.Artifact = &ref
		return nil
	})
}

func (r *memJobRepo) Complete(_ context.Context, _ repository.Tx, id string) error {
	return r.cas(id, func(j *model.VideoGenerationJob) error {
		if j.Status != model.VideoStatusProcessing {
			return domain.ErrInvalidTransition
		}
		if j.Artifact == nil || j.Artifact.Empty() {
			return domain.ErrNotReady
		}
		j.Status = model.VideoStatusCompleted
		return nil
	})
}

func (r *memJobRepo) MarkFailed(_ context.Context, _ repository.Tx, id, reason string) error {
	return r.cas(id, func(j *model.VideoGenerationJob) error {
		if j.Status.Terminal() {
			return domain.ErrInvalidTransition
		}
		j.Status = model.VideoStatusFailed
		j.LastError = reason
		return nil
	})
}

func (r *memJobRepo) RecordRetry(_ context.Context, _ repository.Tx, id string, retries int, lastError string) error {
	return r.cas(id, func(j *model.VideoGenerationJob) error {
		j.Retries = retries
		j.LastError = lastError
		return nil
	})
}

func (r *memJobRepo) cas(id string, mutate func(*model.VideoGenerationJob) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if err := mutate(job); err != nil {
		return err
	}
	job.UpdatedAt = time.Now()
	return nil
}

type memVideoRepo struct {
	mu     sync.Mutex
	videos map[string]*model.Video
}

func newMemVideoRepo() *memVideoRepo {
	return &memVideoRepo{videos: make(map[string]*model.Video)}
}

func (r *memVideoRepo) Save(_ context.Context, _ repository.Tx, video *model.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.videos[video.ID]; exists {
		return nil // write-exactly-once, matching ON CONFLICT DO NOTHING
	}
	cp := *video
	r.videos[video.ID] = &cp
	return nil
}

func (r *memVideoRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	video, ok := r.videos[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *video
	return &cp, nil
}

func (r *memVideoRepo) ListByOwner(_ context.Context, _ repository.Tx, owner string) ([]*model.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Video
	for _, v := range r.videos {
		if v.Owner == owner {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memVideoRepo) Delete(_ context.Context, _ repository.Tx, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.videos[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.videos, id)
	return nil
}

type memRoleRepo struct {
	mu    sync.Mutex
	roles map[string]model.UserRole
}

func newMemRoleRepo() *memRoleRepo {
	return &memRoleRepo{roles: make(map[string]model.UserRole)}
}

func (r *memRoleRepo) RoleOf(_ context.Context, _ repository.Tx, principal string) (model.UserRole, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[principal]
	if !ok {
		return "", domain.ErrNotFound
	}
	return role, nil
}

func (r *memRoleRepo) Assign(_ context.Context, _ repository.Tx, principal string, role model.UserRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[principal] = role
	return nil
}

// memTxManager runs fn directly; the in-memory repositories are already
// atomic per call, which is enough for these tests.
type memTxManager struct{}

func (memTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, repository.NoTX)
}

type memLocker struct {
	mu    sync.Mutex
	held  map[string]string
	next  int
	fails bool
}

func newMemLocker() *memLocker { return &memLocker{held: make(map[string]string)} }

func (l *memLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fails {
		return "", domain.ErrLockNotAcquired
	}
	if _, taken := l.held[key]; taken {
		return "", domain.ErrLockNotAcquired
	}
	l.next++
	token := fmt.Sprintf("tok-%d", l.next)
	l.held[key] = token
	return token, nil
}

func (l *memLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

type ucFixture struct {
	jobs   *memJobRepo
	videos *memVideoRepo
	roles  *memRoleRepo
	locker *memLocker
	access AccessUseCase
	jobUC  JobUseCase
	video  VideoUseCase
}

func newFixture() *ucFixture {
	f := &ucFixture{
		jobs:   newMemJobRepo(),
		videos: newMemVideoRepo(),
		roles:  newMemRoleRepo(),
		locker: newMemLocker(),
	}
	log := testLogger()
	f.access = NewAccessUseCase(f.roles, log)
	f.jobUC = NewJobUseCase(f.jobs, f.videos, f.access, memTxManager{}, f.locker, log)
	f.video = NewVideoUseCase(f.videos, f.access, log)
	return f
}

func validParams() model.VideoParams {
	return model.VideoParams{
		Prompt:      "a fox crossing a frozen lake",
		Duration:    5,
		Style:       "cinematic",
		AspectRatio: "16:9",
	}
}
