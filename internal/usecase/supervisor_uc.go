package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"annotation-ml-controller/internal/domain"
	"annotation-ml-controller/internal/domain/model"
	regport "annotation-ml-controller/internal/domain/ports/registry"
	"annotation-ml-controller/internal/domain/ports/repository"
	"annotation-ml-controller/internal/infra/metrics"
)

const sweepBatchSize = 100

// SupervisorUseCase watches outstanding tasks for missing or late workers.
// A timed-out task is retried on a different worker while attempts remain;
// after that it is terminal and the job proceeds with whatever succeeded.
type SupervisorUseCase struct {
	jobs       repository.JobRepository
	tasks      repository.TaskRepository
	registry   regport.WorkerRegistry
	dispatcher *DispatchUseCase
	collector  *CollectorUseCase
	admission  *AdmissionUseCase
	gate       *ProjectGate
	timeout    time.Duration
	retryLimit int
	log        *zerolog.Logger
}

func NewSupervisorUseCase(
	jobs repository.JobRepository,
	tasks repository.TaskRepository,
	reg regport.WorkerRegistry,
	dispatcher *DispatchUseCase,
	collector *CollectorUseCase,
	admission *AdmissionUseCase,
	gate *ProjectGate,
	timeout time.Duration,
	retryLimit int,
	logger *zerolog.Logger,
) *SupervisorUseCase {
	l := logger.With().Str("component", "supervisor").Logger()
	return &SupervisorUseCase{
		jobs:       jobs,
		tasks:      tasks,
		registry:   reg,
		dispatcher: dispatcher,
		collector:  collector,
		admission:  admission,
		gate:       gate,
		timeout:    timeout,
		retryLimit: retryLimit,
		log:        &l,
	}
}

// Sweep times out every in-flight task whose window elapsed. Returns the
// number of tasks acted on.
func (uc *SupervisorUseCase) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-uc.timeout)
	overdue, err := uc.tasks.ListOverdue(ctx, nil, cutoff, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	for _, task := range overdue {
		if err := uc.timeOut(ctx, task); err != nil {
			uc.log.Error().Err(err).Str("task_id", task.ID).Msg("timeout handling failed")
		}
	}
	return len(overdue), nil
}

// OnWorkerLost is invoked when a worker's heartbeat expires or it explicitly
// deregisters. All of its in-flight tasks go through the same
// retry-or-terminal policy immediately.
func (uc *SupervisorUseCase) OnWorkerLost(ctx context.Context, workerID string) error {
	uc.log.Warn().Str("worker_id", workerID).Msg("worker lost, reassigning in-flight tasks")
	inflight, err := uc.tasks.ListInFlightByWorker(ctx, nil, workerID)
	if err != nil {
		return err
	}
	for _, task := range inflight {
		if err := uc.timeOut(ctx, task); err != nil {
			uc.log.Error().Err(err).Str("task_id", task.ID).Msg("timeout handling failed")
		}
	}
	return nil
}

// timeOut marks one task timed-out and either redispatches it or lets the
// owning job finalize with the tasks that did succeed.
func (uc *SupervisorUseCase) timeOut(ctx context.Context, task *model.Task) error {
	job, err := uc.jobs.FindByID(ctx, nil, task.JobID)
	if err != nil {
		return err
	}

	promoteProject := ""
	unlock := uc.gate.Lock(job.ProjectID)
	err = func() error {
		defer unlock()

		task, err := uc.tasks.FindByID(ctx, nil, task.ID)
		if err != nil {
			return err
		}
		if task.Status.Terminal() {
			return nil // result arrived while we were sweeping
		}
		task.Status = model.TaskStatusTimedOut
		if err := uc.tasks.Save(ctx, nil, task); err != nil {
			return err
		}
		uc.registry.DecInFlight(task.WorkerID)
		metrics.IncTask(string(model.TaskStatusTimedOut))

		job, err = uc.jobs.FindByID(ctx, nil, task.JobID)
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			return nil
		}

		if task.Attempt <= uc.retryLimit {
			_, err := uc.dispatcher.Redispatch(ctx, job, task)
			if err == nil {
				uc.log.Info().Str("task_id", task.ID).Str("job_id", job.ID).Msg("timed-out task retried")
				return nil
			}
			if !errors.Is(err, domain.ErrNoEligibleWorker) {
				return err
			}
			// Nobody to retry on: fall through and let the job finalize.
			uc.log.Warn().Str("task_id", task.ID).Msg("no worker available for retry")
		}

		terminal, err := uc.collector.finalizeLocked(ctx, job)
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
