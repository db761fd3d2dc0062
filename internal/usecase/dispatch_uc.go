package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"annotation-ml-controller/internal/config"
	"annotation-ml-controller/internal/domain"
	"annotation-ml-controller/internal/domain/model"
	"annotation-ml-controller/internal/domain/ports/broker"
	regport "annotation-ml-controller/internal/domain/ports/registry"
	"annotation-ml-controller/internal/domain/ports/repository"
	"annotation-ml-controller/internal/infra/metrics"
)

const (
	FailReasonNoWorker    = "no_eligible_worker"
	FailReasonAllFailed   = "all_tasks_failed"
	FailReasonIncomplete  = "incomplete_inference"
	FailReasonAggregation = "aggregation_failed"
	FailReasonPublish     = "publish_failed"
)

// DispatchUseCase fans an admitted job out as one task per selected worker.
// Once a job is dispatched its task set is fixed; only the supervisor may add
// replacement tasks via Redispatch.
type DispatchUseCase struct {
	jobs     repository.JobRepository
	tasks    repository.TaskRepository
	registry regport.WorkerRegistry
	pub      broker.TaskPublisher
	cfg      config.SchedulerConfig
	log      *zerolog.Logger
}

func NewDispatchUseCase(
	jobs repository.JobRepository,
	tasks repository.TaskRepository,
	reg regport.WorkerRegistry,
	pub broker.TaskPublisher,
	cfg config.SchedulerConfig,
	logger *zerolog.Logger,
) *DispatchUseCase {
	l := logger.With().Str("component", "dispatcher").Logger()
	return &DispatchUseCase{jobs: jobs, tasks: tasks, registry: reg, pub: pub, cfg: cfg, log: &l}
}

// Dispatch selects the worker set, publishes one task message per worker and
// moves the job to dispatched. On any dispatch error the job is failed before
// return, so callers always observe the job leaving the queued status.
// Caller must hold the project gate.
func (uc *DispatchUseCase) Dispatch(ctx context.Context, job *model.Job) error {
	start := time.Now()
	capability := model.RequiredCapability(job.Kind)
	eligible := uc.registry.Eligible(capability)
	if len(eligible) == 0 {
		return uc.failJob(ctx, job, FailReasonNoWorker, domain.ErrNoEligibleWorker)
	}

	n := uc.workerCount(job, len(eligible))
	chosen := uc.pickWorkers(eligible, n)

	var parts [][]string
	if job.Kind == model.JobKindInference {
		parts = partition(job.InputRefs, len(chosen))
	}

	// Publish every task before the job is marked dispatched.
	for i, w := range chosen {
		task, err := model.NewTask(job.ID, w.ID, taskPayload(job, parts, i), 1)
		if err != nil {
			return uc.failJob(ctx, job, FailReasonPublish, err)
		}
		task.Shard = i
		if err := uc.tasks.Save(ctx, nil, task); err != nil {
			return uc.failJob(ctx, job, FailReasonPublish, err)
		}
		if err := uc.pub.Publish(ctx, w.ID, uc.message(job, task)); err != nil {
			return uc.failJob(ctx, job, FailReasonPublish, err)
		}
		uc.registry.IncInFlight(w.ID)
		job.TaskIDs = append(job.TaskIDs, task.ID)
	}

	if err := job.Transition(model.JobStatusDispatched); err != nil {
		return err
	}
	if err := uc.jobs.Save(ctx, nil, job); err != nil {
		return err
	}
	metrics.ObserveDispatch(string(job.Kind), len(chosen), time.Since(start))
	uc.log.Info().Str("job_id", job.ID).Str("project_id", job.ProjectID).
		Int("workers", len(chosen)).Msg("job dispatched")
	return nil
}

// Redispatch creates the replacement task for a timed-out one, assigned to a
// different eligible worker. Caller must hold the project gate.
func (uc *DispatchUseCase) Redispatch(ctx context.Context, job *model.Job, failed *model.Task) (*model.Task, error) {
	capability := model.RequiredCapability(job.Kind)
	var candidates []*model.Worker
	for _, w := range uc.registry.Eligible(capability) {
		if w.ID != failed.WorkerID {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return nil, domain.ErrNoEligibleWorker
	}
	w := uc.pickWorkers(candidates, 1)[0]

	task, err := model.NewTask(job.ID, w.ID, failed.PayloadRef, failed.Attempt+1)
	if err != nil {
		return nil, err
	}
	// The replacement covers the same shard; the seed stays distinct because
	// ShardSeed mixes in the attempt.
	task.Shard = failed.Shard
	if err := uc.tasks.Save(ctx, nil, task); err != nil {
		return nil, err
	}
	if err := uc.pub.Publish(ctx, w.ID, uc.message(job, task)); err != nil {
		return nil, err
	}
	uc.registry.IncInFlight(w.ID)
	job.TaskIDs = append(job.TaskIDs, task.ID)
	if err := uc.jobs.Save(ctx, nil, job); err != nil {
		return nil, err
	}
	metrics.IncTaskRetry()
	uc.log.Info().Str("job_id", job.ID).Str("task_id", task.ID).
		Str("worker_id", w.ID).Int("attempt", task.Attempt).Msg("task redispatched")
	return task, nil
}

func (uc *DispatchUseCase) failJob(ctx context.Context, job *model.Job, reason string, cause error) error {
	if err := job.Fail(reason); err != nil {
		return err
	}
	if err := uc.jobs.Save(ctx, nil, job); err != nil {
		return err
	}
	metrics.IncJob(string(model.JobStatusFailed))
	uc.log.Warn().Str("job_id", job.ID).Str("reason", reason).Err(cause).Msg("job failed at dispatch")
	return fmt.Errorf("dispatch %s: %w", job.ID, cause)
}

// workerCount resolves the requested worker count against the configured
// per-kind maximum and the eligible fleet size.
func (uc *DispatchUseCase) workerCount(job *model.Job, eligible int) int {
	max := uc.cfg.MaxWorkersTrain
	if job.Kind == model.JobKindInference {
		max = uc.cfg.MaxWorkersInference
	}
	n := job.RequestedWorkers
	if n == model.WorkersAll || n > eligible {
		n = eligible
	}
	if max > 0 && n > max {
		n = max
	}
	// The per-worker batch cap can force a wider spread for inference.
	if job.Kind == model.JobKindInference && uc.cfg.InferenceBatchCap > 0 && len(job.InputRefs) > 0 {
		need := (len(job.InputRefs) + uc.cfg.InferenceBatchCap - 1) / uc.cfg.InferenceBatchCap
		if need > n {
			n = need
		}
		if n > eligible {
			n = eligible
		}
	}
	// Never more tasks than inference inputs; a wider spread would ship
	// empty partitions.
	if job.Kind == model.JobKindInference && n > len(job.InputRefs) {
		n = len(job.InputRefs)
	}
	if n < 1 {
		n = 1
	}
	return n
}

// pickWorkers returns the n least-busy workers; ties go to the most recently
// seen worker so tasks avoid agents about to expire.
func (uc *DispatchUseCase) pickWorkers(workers []*model.Worker, n int) []*model.Worker {
	sorted := make([]*model.Worker, len(workers))
	copy(sorted, workers)
	preferRecent := uc.cfg.PreferRecentWorkers == nil || *uc.cfg.PreferRecentWorkers
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].InFlight != sorted[j].InFlight {
			return sorted[i].InFlight < sorted[j].InFlight
		}
		if preferRecent {
			return sorted[i].LastHeartbeat.After(sorted[j].LastHeartbeat)
		}
		return sorted[i].ID < sorted[j].ID
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

func (uc *DispatchUseCase) message(job *model.Job, task *model.Task) broker.TaskMessage {
	msg := broker.TaskMessage{
		TaskID:    task.ID,
		JobID:     job.ID,
		Kind:      string(job.Kind),
		ConfigRef: job.ConfigRef,
		DataRef:   task.PayloadRef,
		Attempt:   task.Attempt,
	}
	if job.Kind == model.JobKindTrain {
		// Every training worker gets the same config and data reference plus a
		// distinct seed so the partial models stay comparable for merging.
		msg.DataRef = job.DataRef
		msg.Seed = model.ShardSeed(job.ID, task.Shard, task.Attempt)
	}
	return msg
}

func taskPayload(job *model.Job, parts [][]string, i int) string {
	if job.Kind == model.JobKindTrain {
		return job.DataRef
	}
	if i < len(parts) {
		return strings.Join(parts[i], ",")
	}
	return ""
}

// partition splits refs into n chunks as evenly as possible, the first
// len(refs)%n chunks one element larger.
func partition(refs []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	out := make([][]string, n)
	base := len(refs) / n
	extra := len(refs) % n
	idx := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		out[i] = refs[idx : idx+size]
		idx += size
	}
	return out
}
