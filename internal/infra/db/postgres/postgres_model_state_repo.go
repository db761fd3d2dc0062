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

var _ repository.ModelStateRepository = (*modelStateRepo)(nil)

type modelStateRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewModelStateRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *modelStateRepo {
	return &modelStateRepo{pool: pool, tm: tm}
}

const modelStateColumns = `project_id, version, artifact_ref, job_id, created_at`

// Commit allocates the next version under a row lock on the project, inserts
// the model state and repoints the project's current pointer in the same
// transaction. Readers either see the previous version or the new one, never
// a mix.
func (r *modelStateRepo) Commit(ctx context.Context, projectID, jobID, artifactRef string) (*model.ModelState, error) {
	var ms *model.ModelState
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		row, err := pickRow(ctx, r.pool, tx, `SELECT id FROM projects WHERE id=$1 FOR UPDATE;`, projectID)
		if err != nil {
			return err
		}
		var id string
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrProjectNotFound
			}
			return domain.ErrReadDatabaseRow
		}

		row, err = pickRow(ctx, r.pool, tx, `SELECT COALESCE(MAX(version), 0) FROM model_states WHERE project_id=$1;`, projectID)
		if err != nil {
			return err
		}
		var current int64
		if err := row.Scan(&current); err != nil {
			return domain.ErrReadDatabaseRow
		}

		ms = &model.ModelState{
			ProjectID:   projectID,
			Version:     current + 1,
			ArtifactRef: artifactRef,
			JobID:       jobID,
			CreatedAt:   time.Now(),
		}
		const insert = `
INSERT INTO model_states (project_id, version, artifact_ref, job_id, created_at)
VALUES ($1, $2, $3, $4, $5);`
		if _, err := execSQL(ctx, r.pool, tx, insert, ms.ProjectID, ms.Version, ms.ArtifactRef, ms.JobID, ms.CreatedAt); err != nil {
			return err
		}

		const repoint = `
UPDATE projects SET current_model_version=$2, current_model_ref=$3, updated_at=NOW() WHERE id=$1;`
		_, err = execSQL(ctx, r.pool, tx, repoint, projectID, ms.Version, ms.ArtifactRef)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ms, nil
}

func (r *modelStateRepo) FindByJob(ctx context.Context, tx repository.Tx, jobID string) (*model.ModelState, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+modelStateColumns+` FROM model_states WHERE job_id=$1;`, jobID)
	if err != nil {
		return nil, err
	}
	return scanModelState(row)
}

func (r *modelStateRepo) FindCurrent(ctx context.Context, tx repository.Tx, projectID string) (*model.ModelState, error) {
	const q = `
SELECT ` + modelStateColumns + ` FROM model_states
 WHERE project_id=$1
 ORDER BY version DESC
 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, projectID)
	if err != nil {
		return nil, err
	}
	return scanModelState(row)
}

func scanModelState(row pgx.Row) (*model.ModelState, error) {
	var ms model.ModelState
	err := row.Scan(&ms.ProjectID, &ms.Version, &ms.ArtifactRef, &ms.JobID, &ms.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &ms, nil
}
