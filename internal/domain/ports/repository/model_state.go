package repository

import (
	"context"

	"annotation-ml-controller/internal/domain/model"
)

type ModelStateRepository interface {
	// Commit performs the atomic swap protocol: allocate the next version for
	// the project, insert the new model state row and repoint the project's
	// current pointer, all inside one transaction. Versions are strictly
	// increasing per project and never reused.
	Commit(ctx context.Context, projectID, jobID, artifactRef string) (*model.ModelState, error)
	// FindByJob returns the model state produced by a training job, or
	// domain.ErrNotFound. Used for aggregation idempotence.
	FindByJob(ctx context.Context, tx Tx, jobID string) (*model.ModelState, error)
	FindCurrent(ctx context.Context, tx Tx, projectID string) (*model.ModelState, error)
}
