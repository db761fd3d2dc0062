package model

import (
	"time"

	"github.com/google/uuid"

	"annotation-ml-controller/internal/domain"
)

type TaskStatus string

const (
	TaskStatusSent         TaskStatus = "sent"
	TaskStatusAcknowledged TaskStatus = "acknowledged"
	TaskStatusSucceeded    TaskStatus = "succeeded"
	TaskStatusFailed       TaskStatus = "failed"
	TaskStatusTimedOut     TaskStatus = "timed-out"
)

// Task is the portion of a job sent to exactly one worker. The worker
// assignment is immutable once sent; a retry is a brand new task with
// Attempt incremented, never a mutation of this one.
type Task struct {
	ID         string
	JobID      string
	WorkerID   string
	Status     TaskStatus
	Attempt    int
	Shard      int
	PayloadRef string
	ResultRef  string
	ErrorInfo  string
	SentAt     time.Time
	UpdatedAt  time.Time
}

func NewTask(jobID, workerID, payloadRef string, attempt int) (*Task, error) {
	if jobID == "" || workerID == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Task{
		ID:         uuid.NewString(),
		JobID:      jobID,
		WorkerID:   workerID,
		Status:     TaskStatusSent,
		Attempt:    attempt,
		PayloadRef: payloadRef,
		SentAt:     now,
		UpdatedAt:  now,
	}, nil
}

func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed || s == TaskStatusTimedOut
}

// InFlight reports whether the task still occupies a worker slot.
func (t *Task) InFlight() bool {
	return t.Status == TaskStatusSent || t.Status == TaskStatusAcknowledged
}
