package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"annotation-ml-controller/internal/domain"
	"annotation-ml-controller/internal/domain/model"
	"annotation-ml-controller/internal/domain/ports/repository"
)

var _ repository.ProjectRepository = (*projectRepo)(nil)

type projectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *projectRepo {
	return &projectRepo{pool: pool}
}

const projectColumns = `id, max_concurrent, current_model_version, current_model_ref, created_at, updated_at`

func (r *projectRepo) Save(ctx context.Context, tx repository.Tx, project *model.Project) error {
	project.UpdatedAt = time.Now()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = project.UpdatedAt
	}

	const q = `
INSERT INTO projects (id, max_concurrent, current_model_version, current_model_ref, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
  max_concurrent = EXCLUDED.max_concurrent,
  current_model_version = EXCLUDED.current_model_version,
  current_model_ref = EXCLUDED.current_model_ref,
  updated_at = EXCLUDED.updated_at;`

	_, err := execSQL(ctx, r.pool, tx, q,
		project.ID, project.MaxConcurrent, project.CurrentModelVersion, project.CurrentModelRef,
		project.CreatedAt, project.UpdatedAt)
	return err
}

func (r *projectRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Project, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+projectColumns+` FROM projects WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanProject(row)
}

func (r *projectRepo) EnsureExists(ctx context.Context, tx repository.Tx, id string) (*model.Project, error) {
	const q = `
INSERT INTO projects (id, max_concurrent, current_model_version, current_model_ref, created_at, updated_at)
VALUES ($1, 0, 0, '', NOW(), NOW())
ON CONFLICT (id) DO NOTHING;`
	if _, err := execSQL(ctx, r.pool, tx, q, id); err != nil {
		return nil, err
	}
	return r.FindByID(ctx, tx, id)
}

func scanProject(row pgx.Row) (*model.Project, error) {
	var p model.Project
	err := row.Scan(&p.ID, &p.MaxConcurrent, &p.CurrentModelVersion, &p.CurrentModelRef, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &p, nil
}
