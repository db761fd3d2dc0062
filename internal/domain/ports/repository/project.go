package repository

import (
	"context"

	"annotation-ml-controller/internal/domain/model"
)

type ProjectRepository interface {
	Save(ctx context.Context, tx Tx, project *model.Project) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Project, error)
	// EnsureExists provisions a project row with no ceiling override on first
	// contact and returns it.
	EnsureExists(ctx context.Context, tx Tx, id string) (*model.Project, error)
}
