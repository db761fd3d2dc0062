package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"annotation-ml-controller/internal/domain"
	"annotation-ml-controller/internal/domain/model"
	"annotation-ml-controller/internal/domain/ports/repository"
	"annotation-ml-controller/internal/infra/metrics"
)

// SubmitParams is one job request as it arrives from the admin API or the
// auto-retrain trigger.
type SubmitParams struct {
	ProjectID        string
	Kind             model.JobKind
	Origin           model.JobOrigin
	RequestedWorkers int
	ConfigRef        string
	DataRef          string
	InputRefs        []string
}

// AdmissionUseCase decides whether a requested job may run now. Jobs that do
// not fit under the project's effective ceiling wait in a FIFO queue and are
// promoted when a slot frees up; the running-job count moves at promotion
// time, never at submission.
type AdmissionUseCase struct {
	jobs          repository.JobRepository
	tasks         repository.TaskRepository
	projects      repository.ProjectRepository
	modelStates   repository.ModelStateRepository
	dispatcher    *DispatchUseCase
	gate          *ProjectGate
	globalCeiling int
	log           *zerolog.Logger
}

func NewAdmissionUseCase(
	jobs repository.JobRepository,
	tasks repository.TaskRepository,
	projects repository.ProjectRepository,
	modelStates repository.ModelStateRepository,
	dispatcher *DispatchUseCase,
	gate *ProjectGate,
	globalCeiling int,
	logger *zerolog.Logger,
) *AdmissionUseCase {
	l := logger.With().Str("component", "admission").Logger()
	return &AdmissionUseCase{
		jobs:          jobs,
		tasks:         tasks,
		projects:      projects,
		modelStates:   modelStates,
		dispatcher:    dispatcher,
		gate:          gate,
		globalCeiling: globalCeiling,
		log:           &l,
	}
}

// SubmitJob validates and accepts a job request, then promotes queued jobs as
// far as the effective ceiling allows. Returns the new job's id.
func (uc *AdmissionUseCase) SubmitJob(ctx context.Context, p SubmitParams) (string, error) {
	if p.Kind == model.JobKindInference && len(p.InputRefs) == 0 {
		return "", domain.ErrInvalidArgument
	}
	job, err := model.NewJob(p.ProjectID, p.Kind, p.Origin, p.RequestedWorkers)
	if err != nil {
		return "", err
	}
	job.ConfigRef = p.ConfigRef
	job.DataRef = p.DataRef
	job.InputRefs = p.InputRefs

	unlock := uc.gate.Lock(p.ProjectID)
	defer unlock()

	project, err := uc.projects.EnsureExists(ctx, nil, p.ProjectID)
	if err != nil {
		return "", err
	}
	if p.Origin == model.JobOriginAuto {
		active, err := uc.jobs.HasActiveAuto(ctx, nil, p.ProjectID)
		if err != nil {
			return "", err
		}
		if active {
			return "", domain.ErrAutoJobAlreadyRunning
		}
	}
	if err := uc.jobs.Save(ctx, nil, job); err != nil {
		return "", err
	}
	metrics.IncJob(string(model.JobStatusQueued))
	uc.log.Info().Str("job_id", job.ID).Str("project_id", p.ProjectID).
		Str("kind", string(p.Kind)).Str("origin", string(p.Origin)).Msg("job accepted")

	uc.promoteLocked(ctx, project)
	return job.ID, nil
}

// CancelJob marks the job cancelled unless it already completed or failed.
// Cancellation is advisory to dispatched tasks; their late results are
// discarded by the collector.
func (uc *AdmissionUseCase) CancelJob(ctx context.Context, jobID string) error {
	job, err := uc.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrJobNotFound
		}
		return err
	}

	unlock := uc.gate.Lock(job.ProjectID)
	defer unlock()

	job, err = uc.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case model.JobStatusCancelled:
		return nil // idempotent
	case model.JobStatusComplete, model.JobStatusFailed:
		return domain.ErrJobTerminal
	}
	wasRunning := job.Status != model.JobStatusQueued
	if err := job.Transition(model.JobStatusCancelled); err != nil {
		return err
	}
	if err := uc.jobs.Save(ctx, nil, job); err != nil {
		return err
	}
	metrics.IncJob(string(model.JobStatusCancelled))
	uc.log.Info().Str("job_id", job.ID).Msg("job cancelled")

	if wasRunning {
		project, err := uc.projects.FindByID(ctx, nil, job.ProjectID)
		if err != nil {
			return err
		}
		uc.promoteLocked(ctx, project)
	}
	return nil
}

// PromoteNext re-evaluates the project's queue after a slot freed up.
func (uc *AdmissionUseCase) PromoteNext(ctx context.Context, projectID string) error {
	unlock := uc.gate.Lock(projectID)
	defer unlock()

	project, err := uc.projects.FindByID(ctx, nil, projectID)
	if err != nil {
		return err
	}
	uc.promoteLocked(ctx, project)
	return nil
}

// promoteLocked dispatches queued jobs FIFO while slots remain under the
// effective ceiling. Dispatch always moves a job out of queued (to dispatched
// or failed), so the loop terminates. Caller must hold the project gate.
func (uc *AdmissionUseCase) promoteLocked(ctx context.Context, project *model.Project) {
	for {
		ceiling := model.EffectiveCeiling(uc.globalCeiling, project.MaxConcurrent)
		running, err := uc.jobs.CountRunning(ctx, nil, project.ID)
		if err != nil {
			uc.log.Error().Err(err).Str("project_id", project.ID).Msg("count running jobs")
			return
		}
		if ceiling > 0 && running >= ceiling {
			return
		}
		next, err := uc.jobs.NextQueued(ctx, nil, project.ID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				uc.log.Error().Err(err).Str("project_id", project.ID).Msg("fetch queued job")
			}
			return
		}
		if err := uc.dispatcher.Dispatch(ctx, next); err != nil {
			// Job was failed by the dispatcher; keep draining the queue.
			continue
		}
		metrics.IncJob(string(model.JobStatusDispatched))
	}
}

// GetJob returns the job plus its task set for the status query interface.
func (uc *AdmissionUseCase) GetJob(ctx context.Context, jobID string) (*model.Job, []*model.Task, error) {
	job, err := uc.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, domain.ErrJobNotFound
		}
		return nil, nil, err
	}
	tasks, err := uc.tasks.ListByJob(ctx, nil, jobID)
	if err != nil {
		return nil, nil, err
	}
	return job, tasks, nil
}

// CurrentModel returns the project's current model state.
func (uc *AdmissionUseCase) CurrentModel(ctx context.Context, projectID string) (*model.ModelState, error) {
	ms, err := uc.modelStates.FindCurrent(ctx, nil, projectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return ms, nil
}
