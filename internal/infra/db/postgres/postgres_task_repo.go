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

var _ repository.TaskRepository = (*taskRepo)(nil)

type taskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *taskRepo {
	return &taskRepo{pool: pool}
}

const taskColumns = `id, job_id, worker_id, status, attempt, shard, payload_ref, result_ref, error_info, sent_at, updated_at`

func (r *taskRepo) Save(ctx context.Context, tx repository.Tx, task *model.Task) error {
	task.UpdatedAt = time.Now()

	const q = `
INSERT INTO tasks (id, job_id, worker_id, status, attempt, shard, payload_ref, result_ref, error_info, sent_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  result_ref = EXCLUDED.result_ref,
  error_info = EXCLUDED.error_info,
  updated_at = EXCLUDED.updated_at;`

	_, err := execSQL(ctx, r.pool, tx, q,
		task.ID, task.JobID, task.WorkerID, task.Status, task.Attempt, task.Shard,
		task.PayloadRef, task.ResultRef, task.ErrorInfo, task.SentAt, task.UpdatedAt)
	return err
}

func (r *taskRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Task, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanTask(row)
}

func (r *taskRepo) ListByJob(ctx context.Context, tx repository.Tx, jobID string) ([]*model.Task, error) {
	const q = `SELECT ` + taskColumns + ` FROM tasks WHERE job_id=$1 ORDER BY sent_at, id;`
	rows, err := pickRows(ctx, r.pool, tx, q, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *taskRepo) ListInFlightByWorker(ctx context.Context, tx repository.Tx, workerID string) ([]*model.Task, error) {
	const q = `
SELECT ` + taskColumns + ` FROM tasks
 WHERE worker_id=$1 AND status IN ('sent', 'acknowledged')
 ORDER BY sent_at;`
	rows, err := pickRows(ctx, r.pool, tx, q, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *taskRepo) ListOverdue(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Task, error) {
	const q = `
SELECT ` + taskColumns + ` FROM tasks
 WHERE status IN ('sent', 'acknowledged') AND sent_at < $1
 ORDER BY sent_at
 LIMIT $2;`
	rows, err := pickRows(ctx, r.pool, tx, q, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows pgx.Rows) ([]*model.Task, error) {
	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	var status string
	err := row.Scan(&t.ID, &t.JobID, &t.WorkerID, &status, &t.Attempt, &t.Shard,
		&t.PayloadRef, &t.ResultRef, &t.ErrorInfo, &t.SentAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	t.Status = model.TaskStatus(status)
	return &t, nil
}
