package repository

import (
	"context"
	"time"

	"annotation-ml-controller/internal/domain/model"
)

type TaskRepository interface {
	Save(ctx context.Context, tx Tx, task *model.Task) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Task, error)
	ListByJob(ctx context.Context, tx Tx, jobID string) ([]*model.Task, error)
	// ListInFlightByWorker returns sent/acknowledged tasks assigned to the
	// worker, used when a worker drops off the registry.
	ListInFlightByWorker(ctx context.Context, tx Tx, workerID string) ([]*model.Task, error)
	// ListOverdue returns in-flight tasks whose SentAt is older than the
	// cutoff, candidates for the timeout policy.
	ListOverdue(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.Task, error)
}
