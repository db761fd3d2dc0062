package model

import (
	"time"

	"github.com/oklog/ulid/v2"

	"annotation-ml-controller/internal/domain"
)

type JobKind string

const (
	JobKindTrain     JobKind = "train"
	JobKindInference JobKind = "inference"
)

type JobOrigin string

const (
	JobOriginUser JobOrigin = "user"
	JobOriginAuto JobOrigin = "auto"
)

type JobStatus string

const (
	JobStatusQueued            JobStatus = "queued"
	JobStatusDispatched        JobStatus = "dispatched"
	JobStatusPartiallyComplete JobStatus = "partially-complete"
	JobStatusAggregating       JobStatus = "aggregating"
	JobStatusComplete          JobStatus = "complete"
	JobStatusFailed            JobStatus = "failed"
	JobStatusCancelled         JobStatus = "cancelled"
)

// WorkersAll is the sentinel for "every eligible worker gets one task".
const WorkersAll = -1

// Job is one admitted unit of train/inference work for a project.
type Job struct {
	ID               string
	ProjectID        string
	Kind             JobKind
	Origin           JobOrigin
	RequestedWorkers int
	Status           JobStatus
	FailReason       string
	ConfigRef        string
	DataRef          string
	InputRefs        []string // inference work items, partitioned at dispatch
	TaskIDs          []string
	ResultRefs       []string // inference output set, filled on completion
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

var statusRank = map[JobStatus]int{
	JobStatusQueued:            0,
	JobStatusDispatched:        1,
	JobStatusPartiallyComplete: 2,
	JobStatusAggregating:       3,
	JobStatusComplete:          4,
	JobStatusFailed:            4,
	JobStatusCancelled:         4,
}

// NewJob validates the submission parameters and returns a queued job.
// Job IDs are ULIDs so the per-project FIFO order falls out of a plain
// ORDER BY id.
func NewJob(projectID string, kind JobKind, origin JobOrigin, requestedWorkers int) (*Job, error) {
	if projectID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if kind != JobKindTrain && kind != JobKindInference {
		return nil, domain.ErrInvalidArgument
	}
	if origin != JobOriginUser && origin != JobOriginAuto {
		return nil, domain.ErrInvalidArgument
	}
	if requestedWorkers < 1 && requestedWorkers != WorkersAll {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Job{
		ID:               ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		ProjectID:        projectID,
		Kind:             kind,
		Origin:           origin,
		RequestedWorkers: requestedWorkers,
		Status:           JobStatusQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed || s == JobStatusCancelled
}

// Transition moves the job forward through its lifecycle. Statuses are never
// revisited; cancelled/failed are reachable from any non-terminal status.
func (j *Job) Transition(to JobStatus) error {
	if j.Status.Terminal() {
		return domain.ErrJobTerminal
	}
	if to == JobStatusCancelled || to == JobStatusFailed {
		j.Status = to
		j.UpdatedAt = time.Now()
		return nil
	}
	if statusRank[to] <= statusRank[j.Status] {
		return domain.ErrBadTransition
	}
	j.Status = to
	j.UpdatedAt = time.Now()
	return nil
}

// Fail marks the job failed with a reason code surfaced by the query API.
func (j *Job) Fail(reason string) error {
	if err := j.Transition(JobStatusFailed); err != nil {
		return err
	}
	j.FailReason = reason
	return nil
}

// ShardSeed derives the per-worker randomness for training tasks so that the
// partial models are comparable when merged. Seeds must differ across every
// (shard, attempt) pair of a job, not be unpredictable: a retried shard may
// never repeat the seed another live shard trains with. Shard and attempt
// occupy disjoint bit ranges above the job hash.
func ShardSeed(jobID string, shard, attempt int) int64 {
	var h int64
	for _, c := range jobID {
		h = h*31 + int64(c)
	}
	return h ^ (int64(shard+1) << 32) ^ (int64(attempt-1) << 16)
}
