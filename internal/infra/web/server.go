package web

import (
	"context"
	"net/http"
	"time"

	"video-generation-service/internal/domain/ports/adapter"
	"video-generation-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// JobDispatcher is the slice of the dispatcher the HTTP layer drives.
type JobDispatcher interface {
	Dispatch(ctx context.Context, jobID, url string) (string, error)
	Cancel(jobID string)
}

type Server struct {
	jobUC       usecase.JobUseCase
	videoUC     usecase.VideoUseCase
	accessUC    usecase.AccessUseCase
	dispatcher  JobDispatcher
	blobs       adapter.BlobStore
	auth        *AuthManager
	providerURL string
	log         *zerolog.Logger
}

func NewServer(
	jobUC usecase.JobUseCase,
	videoUC usecase.VideoUseCase,
	accessUC usecase.AccessUseCase,
	dispatcher JobDispatcher,
	blobs adapter.BlobStore,
	auth *AuthManager,
	providerURL string,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		jobUC:       jobUC,
		videoUC:     videoUC,
		accessUC:    accessUC,
		dispatcher:  dispatcher,
		blobs:       blobs,
		auth:        auth,
		providerURL: providerURL,
		log:         logger,
	}
}

// Router assembles the public API surface.
func (s *Server) Router(requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(traceID(), recoverer(s.log), requestLog(s.log), timeout(requestTimeout), authenticate(s.auth))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/videos", func(r chi.Router) {
			r.Get("/", s.handleListVideos)
			r.Post("/generate", s.handleGenerateVideo)
			r.Get("/{videoID}", s.handleGetVideo)
			r.Delete("/{videoID}", s.handleDeleteVideo)
			r.Post("/{videoID}/regenerate", s.handleRegenerateVideo)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Get("/{jobID}", s.handleGetJob)
			// Internal surface: provider callbacks and operational tooling.
			r.Post("/{jobID}/status", s.handleUpdateJobStatus)
			r.Post("/{jobID}/finalize", s.handleFinalizeJob)
			r.Post("/{jobID}/dispatch", s.handleDispatchJob)
		})

		r.Post("/transform", s.handleTransform)

		r.Route("/roles", func(r chi.Router) {
			r.Post("/assign", s.handleAssignRole)
			r.Get("/me", s.handleGetMyRole)
			r.Get("/me/admin", s.handleIsAdmin)
		})
	})

	return r
}
