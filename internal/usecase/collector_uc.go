package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"annotation-ml-controller/internal/domain"
	"annotation-ml-controller/internal/domain/model"
	"annotation-ml-controller/internal/domain/ports/broker"
	regport "annotation-ml-controller/internal/domain/ports/registry"
	"annotation-ml-controller/internal/domain/ports/repository"
	"annotation-ml-controller/internal/infra/metrics"
)

// CollectorUseCase consumes completion notifications from the result store,
// tracks partial completion and finalizes jobs once every task reached a
// terminal state.
type CollectorUseCase struct {
	jobs       repository.JobRepository
	tasks      repository.TaskRepository
	registry   regport.WorkerRegistry
	aggregator *AggregatorUseCase
	admission  *AdmissionUseCase
	gate       *ProjectGate
	src        broker.ResultSource
	log        *zerolog.Logger
}

func NewCollectorUseCase(
	jobs repository.JobRepository,
	tasks repository.TaskRepository,
	reg regport.WorkerRegistry,
	aggregator *AggregatorUseCase,
	admission *AdmissionUseCase,
	gate *ProjectGate,
	src broker.ResultSource,
	logger *zerolog.Logger,
) *CollectorUseCase {
	l := logger.With().Str("component", "collector").Logger()
	return &CollectorUseCase{
		jobs:       jobs,
		tasks:      tasks,
		registry:   reg,
		aggregator: aggregator,
		admission:  admission,
		gate:       gate,
		src:        src,
		log:        &l,
	}
}

// Run consumes the result source until ctx is done. This should be run in a
// goroutine.
func (uc *CollectorUseCase) Run(ctx context.Context) error {
	uc.log.Info().Msg("result collector started")
	for {
		select {
		case <-ctx.Done():
			uc.log.Info().Msg("result collector stopping")
			return ctx.Err()
		default:
		}
		msg, err := uc.src.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			uc.log.Error().Err(err).Msg("result source error")
			continue
		}
		if msg == nil {
			continue
		}
		if err := uc.HandleResult(ctx, msg); err != nil {
			uc.log.Error().Err(err).Str("task_id", msg.TaskID).Msg("handle result")
		}
	}
}

// HandleResult applies one notification. Results for unknown tasks or
// terminal jobs are discarded; the job itself is never mutated after it
// reached a terminal status.
func (uc *CollectorUseCase) HandleResult(ctx context.Context, msg *broker.ResultMessage) error {
	task, err := uc.tasks.FindByID(ctx, nil, msg.TaskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IncDroppedResult("unknown_task")
			return nil
		}
		return err
	}
	job, err := uc.jobs.FindByID(ctx, nil, task.JobID)
	if err != nil {
		return err
	}

	promoteProject := ""
	unlock := uc.gate.Lock(job.ProjectID)
	err = func() error {
		defer unlock()

		job, err = uc.jobs.FindByID(ctx, nil, task.JobID)
		if err != nil {
			return err
		}

		if msg.Status == broker.ResultAck {
			if task.Status == model.TaskStatusSent {
				task.Status = model.TaskStatusAcknowledged
				return uc.tasks.Save(ctx, nil, task)
			}
			return nil
		}

		if task.Status.Terminal() {
			// Duplicate notification or a result racing the timeout sweep.
			metrics.IncDroppedResult("duplicate")
			return nil
		}

		switch msg.Status {
		case broker.ResultSucceeded:
			task.Status = model.TaskStatusSucceeded
			task.ResultRef = msg.ResultRef
		case broker.ResultFailed:
			task.Status = model.TaskStatusFailed
			task.ErrorInfo = msg.ErrorInfo
		default:
			metrics.IncDroppedResult("bad_status")
			return nil
		}
		if err := uc.tasks.Save(ctx, nil, task); err != nil {
			return err
		}
		uc.registry.DecInFlight(task.WorkerID)
		metrics.IncTask(string(task.Status))

		if job.Status.Terminal() {
			// Advisory cancellation: the worker's late result is ignored.
			metrics.IncDroppedResult("job_terminal")
			return nil
		}

		terminal, err := uc.finalizeLocked(ctx, job)
		if err != nil {
			return err
		}
		if terminal {
			promoteProject = job.ProjectID
		}
		return nil
	}()
	if err != nil {
		return err
	}
	if promoteProject != "" {
		return uc.admission.PromoteNext(ctx, promoteProject)
	}
	return nil
}

// finalizeLocked re-evaluates a job after one of its tasks reached a terminal
// state and performs the resulting job transition. Returns true when the job
// reached a terminal status, which frees a concurrency slot. Caller must hold
// the project gate.
func (uc *CollectorUseCase) finalizeLocked(ctx context.Context, job *model.Job) (bool, error) {
	tasks, err := uc.tasks.ListByJob(ctx, nil, job.ID)
	if err != nil {
		return false, err
	}

	inFlight := 0
	terminalCount := 0
	var succeeded []*model.Task
	for _, t := range tasks {
		if t.InFlight() {
			inFlight++
			continue
		}
		terminalCount++
		if t.Status == model.TaskStatusSucceeded {
			succeeded = append(succeeded, t)
		}
	}

	if inFlight > 0 {
		if terminalCount > 0 && job.Status == model.JobStatusDispatched {
			if err := job.Transition(model.JobStatusPartiallyComplete); err != nil {
				return false, err
			}
			if err := uc.jobs.Save(ctx, nil, job); err != nil {
				return false, err
			}
			metrics.IncJob(string(model.JobStatusPartiallyComplete))
		}
		return false, nil
	}

	switch job.Kind {
	case model.JobKindInference:
		return true, uc.finishInference(ctx, job, tasks, succeeded)
	default:
		return true, uc.finishTraining(ctx, job, succeeded)
	}
}

// finishInference completes the job only when every partition has a succeeded
// task; otherwise the output set would be incomplete and the job fails.
func (uc *CollectorUseCase) finishInference(ctx context.Context, job *model.Job, tasks []*model.Task, succeeded []*model.Task) error {
	covered := make(map[string]bool)
	for _, t := range succeeded {
		covered[t.PayloadRef] = true
	}
	for _, t := range tasks {
		if !covered[t.PayloadRef] {
			if err := job.Fail(FailReasonIncomplete); err != nil {
				return err
			}
			if err := uc.jobs.Save(ctx, nil, job); err != nil {
				return err
			}
			metrics.IncJob(string(model.JobStatusFailed))
			uc.log.Warn().Str("job_id", job.ID).Msg("inference job incomplete")
			return nil
		}
	}
	for _, t := range succeeded {
		job.ResultRefs = append(job.ResultRefs, t.ResultRef)
	}
	if err := job.Transition(model.JobStatusComplete); err != nil {
		return err
	}
	if err := uc.jobs.Save(ctx, nil, job); err != nil {
		return err
	}
	metrics.IncJob(string(model.JobStatusComplete))
	uc.log.Info().Str("job_id", job.ID).Int("results", len(job.ResultRefs)).Msg("inference job complete")
	return nil
}

// finishTraining aggregates whatever tasks did succeed; a training job only
// fails when not a single partial model came back.
func (uc *CollectorUseCase) finishTraining(ctx context.Context, job *model.Job, succeeded []*model.Task) error {
	if len(succeeded) == 0 {
		if err := job.Fail(FailReasonAllFailed); err != nil {
			return err
		}
		if err := uc.jobs.Save(ctx, nil, job); err != nil {
			return err
		}
		metrics.IncJob(string(model.JobStatusFailed))
		uc.log.Warn().Str("job_id", job.ID).Msg("training job failed, no partial results")
		return nil
	}

	if err := job.Transition(model.JobStatusAggregating); err != nil {
		return err
	}
	if err := uc.jobs.Save(ctx, nil, job); err != nil {
		return err
	}
	metrics.IncJob(string(model.JobStatusAggregating))

	refs := make([]string, 0, len(succeeded))
	for _, t := range succeeded {
		refs = append(refs, t.ResultRef)
	}
	ms, err := uc.aggregator.Aggregate(ctx, job.ProjectID, job.ID, refs)
	if err != nil {
		if ferr := job.Fail(FailReasonAggregation); ferr != nil {
			return ferr
		}
		if serr := uc.jobs.Save(ctx, nil, job); serr != nil {
			return serr
		}
		metrics.IncJob(string(model.JobStatusFailed))
		uc.log.Error().Err(err).Str("job_id", job.ID).Msg("aggregation failed, previous model state kept")
		return nil
	}

	job.ResultRefs = []string{ms.ArtifactRef}
	if err := job.Transition(model.JobStatusComplete); err != nil {
		return err
	}
	if err := uc.jobs.Save(ctx, nil, job); err != nil {
		return err
	}
	metrics.IncJob(string(model.JobStatusComplete))
	uc.log.Info().Str("job_id", job.ID).Int64("model_version", ms.Version).Msg("training job complete")
	return nil
}
