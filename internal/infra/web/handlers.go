package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/transform"

	"github.com/go-chi/chi/v5"
)

// writeError maps the domain error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var code int
	switch {
	case errors.Is(err, domain.ErrInvalidParams):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		code = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrNotReady),
		errors.Is(err, domain.ErrLockNotAcquired):
		code = http.StatusConflict
	default:
		code = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// requireCaller rejects anonymous requests up front.
func requireCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller := Principal(r.Context())
	if caller == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return caller, true
}

// jobView augments a job with its artifact's retrievable URL.
type jobView struct {
	*model.VideoGenerationJob
	ArtifactURL string `json:"artifact_download_url,omitempty"`
}

func (s *Server) jobView(job *model.VideoGenerationJob) jobView {
	v := jobView{VideoGenerationJob: job}
	if job.Artifact != nil {
		v.ArtifactURL = s.blobs.DirectURL(*job.Artifact)
	}
	return v
}

type videoView struct {
	*model.Video
	ArtifactURL string `json:"artifact_download_url,omitempty"`
}

func (s *Server) videoView(video *model.Video) videoView {
	return videoView{Video: video, ArtifactURL: s.blobs.DirectURL(video.Artifact)}
}

func (s *Server) handleGenerateVideo(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var params model.VideoParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, domain.ErrInvalidParams)
		return
	}

	job, err := s.jobUC.Generate(r.Context(), caller, params)
	if err != nil {
		writeError(w, err)
		return
	}

	// Fire the provider call; the job stays queued for retry-by-dispatch if
	// the queue is saturated.
	if s.providerURL != "" {
		if _, err := s.dispatcher.Dispatch(r.Context(), job.ID, s.providerURL); err != nil {
			s.log.Warn().Err(err).Str("job_id", job.ID).Msg("auto-dispatch failed")
		}
	}

	writeJSON(w, http.StatusCreated, map[string]string{"job_id": job.ID})
}

func (s *Server) handleRegenerateVideo(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	videoID := chi.URLParam(r, "videoID")
	var params model.VideoParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, domain.ErrInvalidParams)
		return
	}

	job, err := s.jobUC.Regenerate(r.Context(), caller, videoID, params)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.providerURL != "" {
		if _, err := s.dispatcher.Dispatch(r.Context(), job.ID, s.providerURL); err != nil {
			s.log.Warn().Err(err).Str("job_id", job.ID).Msg("auto-dispatch failed")
		}
	}
	writeJSON(w, http.StatusCreated, map[string]string{"job_id": job.ID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	job, err := s.jobUC.GetJob(r.Context(), caller, chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.jobView(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	jobs, err := s.jobUC.ListByOwner(r.Context(), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, s.jobView(j))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	video, err := s.videoUC.GetVideo(r.Context(), caller, chi.URLParam(r, "videoID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.videoView(video))
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	videos, err := s.videoUC.ListByOwner(r.Context(), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]videoView, 0, len(videos))
	for _, v := range videos {
		views = append(views, s.videoView(v))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleDeleteVideo(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	videoID := chi.URLParam(r, "videoID")
	if err := s.videoUC.Delete(r.Context(), caller, videoID); err != nil {
		writeError(w, err)
		return
	}
	// Revoke any in-flight dispatch token so a late provider response for
	// the deleted record is discarded.
	s.dispatcher.Cancel(videoID)
	w.WriteHeader(http.StatusNoContent)
}

type statusUpdateRequest struct {
	Status   string         `json:"status"`
	Artifact *model.BlobRef `json:"artifact,omitempty"`
}

func (s *Server) handleUpdateJobStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalidParams)
		return
	}
	status, err := model.ParseVideoStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.jobUC.UpdateStatus(r.Context(), chi.URLParam(r, "jobID"), status, req.Artifact); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFinalizeJob(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if err := s.jobUC.Finalize(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type dispatchRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleDispatchJob(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, domain.ErrInvalidParams)
		return
	}
	ack, err := s.dispatcher.Dispatch(r.Context(), chi.URLParam(r, "jobID"), req.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"ack": ack})
}

// handleTransform exposes the canonicalization function verbatim so
// redundant execution paths can verify agreement out of band.
func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	var in transform.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, domain.ErrMalformedResponse)
		return
	}
	writeJSON(w, http.StatusOK, transform.Canonicalize(in))
}

type assignRoleRequest struct {
	Principal string `json:"principal"`
	Role      string `json:"role"`
}

func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalidParams)
		return
	}
	if err := s.accessUC.AssignRole(r.Context(), caller, req.Principal, model.UserRole(req.Role)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMyRole(w http.ResponseWriter, r *http.Request) {
	role, err := s.accessUC.RoleOf(r.Context(), Principal(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"role": string(role)})
}

func (s *Server) handleIsAdmin(w http.ResponseWriter, r *http.Request) {
	admin, err := s.accessUC.IsAdmin(r.Context(), Principal(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_admin": admin})
}

func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	caller, ok := requireCaller(w, r)
	if !ok {
		return false
	}
	admin, err := s.accessUC.IsAdmin(r.Context(), caller)
	if err != nil {
		writeError(w, err)
		return false
	}
	if !admin {
		writeError(w, domain.ErrUnauthorized)
		return false
	}
	return true
}
