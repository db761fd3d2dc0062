package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"annotation-ml-controller/internal/domain"
	"annotation-ml-controller/internal/domain/model"
	"annotation-ml-controller/internal/usecase"
)

var validate = validator.New()

// jobSubmitRequest is the JSON body for POST /api/v1/jobs.
type jobSubmitRequest struct {
	ProjectID        string   `json:"project_id" validate:"required"`
	Kind             string   `json:"kind" validate:"required,oneof=train inference"`
	Origin           string   `json:"origin" validate:"omitempty,oneof=user auto"`
	RequestedWorkers int      `json:"requested_workers" validate:"gte=-1"`
	ConfigRef        string   `json:"config_ref"`
	DataRef          string   `json:"data_ref"`
	InputRefs        []string `json:"input_refs"`
}

type jobResponse struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"project_id"`
	Kind             string    `json:"kind"`
	Origin           string    `json:"origin"`
	RequestedWorkers int       `json:"requested_workers"`
	Status           string    `json:"status"`
	FailReason       string    `json:"fail_reason,omitempty"`
	ResultRefs       []string  `json:"result_refs,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	Tasks []taskResponse `json:"tasks,omitempty"`
}

type taskResponse struct {
	ID        string    `json:"id"`
	WorkerID  string    `json:"worker_id"`
	Status    string    `json:"status"`
	Attempt   int       `json:"attempt"`
	ResultRef string    `json:"result_ref,omitempty"`
	ErrorInfo string    `json:"error_info,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

type modelResponse struct {
	ProjectID   string    `json:"project_id"`
	Version     int64     `json:"version"`
	ArtifactRef string    `json:"artifact_ref"`
	JobID       string    `json:"job_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type workerResponse struct {
	ID            string    `json:"id"`
	Tags          []string  `json:"tags,omitempty"`
	InFlight      int       `json:"in_flight"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req jobSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	origin := model.JobOrigin(req.Origin)
	if origin == "" {
		origin = model.JobOriginUser
	}

	jobID, err := s.admission.SubmitJob(r.Context(), usecase.SubmitParams{
		ProjectID:        req.ProjectID,
		Kind:             model.JobKind(req.Kind),
		Origin:           origin,
		RequestedWorkers: req.RequestedWorkers,
		ConfigRef:        req.ConfigRef,
		DataRef:          req.DataRef,
		InputRefs:        req.InputRefs,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"id": jobID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, tasks, err := s.admission.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := jobResponse{
		ID:               job.ID,
		ProjectID:        job.ProjectID,
		Kind:             string(job.Kind),
		Origin:           string(job.Origin),
		RequestedWorkers: job.RequestedWorkers,
		Status:           string(job.Status),
		FailReason:       job.FailReason,
		ResultRefs:       job.ResultRefs,
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
	}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, taskResponse{
			ID:        t.ID,
			WorkerID:  t.WorkerID,
			Status:    string(t.Status),
			Attempt:   t.Attempt,
			ResultRef: t.ResultRef,
			ErrorInfo: t.ErrorInfo,
			SentAt:    t.SentAt,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if err := s.admission.CancelJob(r.Context(), jobID); err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": jobID, "status": "cancelled"})
}

func (s *Server) handleCurrentModel(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	ms, err := s.admission.CurrentModel(r.Context(), projectID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, modelResponse{
		ProjectID:   ms.ProjectID,
		Version:     ms.Version,
		ArtifactRef: ms.ArtifactRef,
		JobID:       ms.JobID,
		CreatedAt:   ms.CreatedAt,
	})
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	workers := s.registry.Snapshot()
	resp := struct {
		Items []workerResponse `json:"items"`
	}{Items: []workerResponse{}}
	for _, wk := range workers {
		resp.Items = append(resp.Items, workerResponse{
			ID:            wk.ID,
			Tags:          wk.Tags,
			InFlight:      wk.InFlight,
			LastHeartbeat: wk.LastHeartbeat,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrAutoJobAlreadyRunning), errors.Is(err, domain.ErrJobTerminal):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.log.Error().Err(err).Msg("admin API request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
