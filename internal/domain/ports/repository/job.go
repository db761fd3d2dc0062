package repository

import (
	"context"

	"annotation-ml-controller/internal/domain/model"
)

type JobRepository interface {
	Save(ctx context.Context, tx Tx, job *model.Job) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)
	// CountRunning counts jobs holding a concurrency slot, i.e. in status
	// dispatched, partially-complete or aggregating. Queued jobs do not count.
	CountRunning(ctx context.Context, tx Tx, projectID string) (int, error)
	// NextQueued returns the oldest queued job for the project (FIFO by
	// submission time) or domain.ErrNotFound.
	NextQueued(ctx context.Context, tx Tx, projectID string) (*model.Job, error)
	// HasActiveAuto reports whether any auto-triggered job for the project is
	// in a non-terminal status, queued included.
	HasActiveAuto(ctx context.Context, tx Tx, projectID string) (bool, error)
	ListByProject(ctx context.Context, tx Tx, projectID string, limit int) ([]*model.Job, error)
}
