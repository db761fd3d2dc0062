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

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

const jobColumns = `id, project_id, kind, origin, requested_workers, status, fail_reason,
       config_ref, data_ref, input_refs, task_ids, result_refs, created_at, updated_at`

func (r *jobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	job.UpdatedAt = time.Now()

	const q = `
INSERT INTO jobs (id, project_id, kind, origin, requested_workers, status, fail_reason,
                  config_ref, data_ref, input_refs, task_ids, result_refs, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  fail_reason = EXCLUDED.fail_reason,
  task_ids = EXCLUDED.task_ids,
  result_refs = EXCLUDED.result_refs,
  updated_at = EXCLUDED.updated_at;`

	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.ProjectID, job.Kind, job.Origin, job.RequestedWorkers, job.Status, job.FailReason,
		job.ConfigRef, job.DataRef, job.InputRefs, job.TaskIDs, job.ResultRefs, job.CreatedAt, job.UpdatedAt)
	return err
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) CountRunning(ctx context.Context, tx repository.Tx, projectID string) (int, error) {
	const q = `
SELECT COUNT(*) FROM jobs
 WHERE project_id=$1 AND status IN ('dispatched', 'partially-complete', 'aggregating');`
	row, err := pickRow(ctx, r.pool, tx, q, projectID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func (r *jobRepo) NextQueued(ctx context.Context, tx repository.Tx, projectID string) (*model.Job, error) {
	// Job ids are ULIDs, so ordering by id is submission order.
	const q = `SELECT ` + jobColumns + ` FROM jobs WHERE project_id=$1 AND status='queued' ORDER BY id LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, projectID)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) HasActiveAuto(ctx context.Context, tx repository.Tx, projectID string) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM jobs
   WHERE project_id=$1 AND origin='auto'
     AND status NOT IN ('complete', 'failed', 'cancelled'));`
	row, err := pickRow(ctx, r.pool, tx, q, projectID)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return exists, nil
}

func (r *jobRepo) ListByProject(ctx context.Context, tx repository.Tx, projectID string, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT ` + jobColumns + ` FROM jobs WHERE project_id=$1 ORDER BY id DESC LIMIT $2;`
	rows, err := pickRows(ctx, r.pool, tx, q, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var kind, origin, status string
	err := row.Scan(&j.ID, &j.ProjectID, &kind, &origin, &j.RequestedWorkers, &status, &j.FailReason,
		&j.ConfigRef, &j.DataRef, &j.InputRefs, &j.TaskIDs, &j.ResultRefs, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	j.Kind = model.JobKind(kind)
	j.Origin = model.JobOrigin(origin)
	j.Status = model.JobStatus(status)
	return &j, nil
}
