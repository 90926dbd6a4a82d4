package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"beatframe/internal/queue/models"
	id "beatframe/pkg/domain"
	"beatframe/pkg/platform/sentinel"
	"beatframe/pkg/platform/tx"
)

const uniqueViolation = "23505"

const jobColumns = `id, user_id, engine, workflow, params, status, remote_id, output, error, attempts, worker_id, created_at, started_at, heartbeat_at, finished_at`

// PostgresJobStore persists jobs in PostgreSQL.
type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresJobStore) conn(ctx context.Context) queryer {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

func (s *PostgresJobStore) Create(ctx context.Context, job *models.Job) error {
	output, err := marshalOutput(job.Output)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO workflow_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		uuid.UUID(job.ID), string(job.UserID), job.Engine, job.Workflow, string(job.Params),
		string(job.Status), job.RemoteID, output, job.Error, job.Attempts, job.WorkerID,
		job.CreatedAt, nullTime(job.StartedAt), nullTime(job.HeartbeatAt), nullTime(job.FinishedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("job %s already exists: %w", job.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) FindByID(ctx context.Context, jobID id.JobID) (*models.Job, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+jobColumns+` FROM workflow_jobs WHERE id = $1`, uuid.UUID(jobID))
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find job: %w", err)
	}
	return job, nil
}

func (s *PostgresJobStore) ListByUser(ctx context.Context, userID id.UserID) ([]*models.Job, error) {
	return s.list(ctx, `SELECT `+jobColumns+` FROM workflow_jobs WHERE user_id = $1 ORDER BY created_at DESC, seq DESC`, string(userID))
}

func (s *PostgresJobStore) ListByStatus(ctx context.Context, status models.Status) ([]*models.Job, error) {
	return s.list(ctx, `SELECT `+jobColumns+` FROM workflow_jobs WHERE status = $1 ORDER BY seq`, string(status))
}

func (s *PostgresJobStore) list(ctx context.Context, query string, arg any) ([]*models.Job, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

func (s *PostgresJobStore) CountByStatus(ctx context.Context, status models.Status) (int, error) {
	var n int
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_jobs WHERE status = $1`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

// ClaimNext starts the oldest queued job for workerID unless one is already
// running. The one-running index turns a concurrent claim into
// sentinel.ErrConflict.
func (s *PostgresJobStore) ClaimNext(ctx context.Context, workerID string, now time.Time) (*models.Job, error) {
	var claimed *models.Job
	err := tx.RunInTx(ctx, s.db, func(ctx context.Context, sqlTx *sql.Tx) error {
		var running bool
		if err := sqlTx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM workflow_jobs WHERE status = 'running')`,
		).Scan(&running); err != nil {
			return fmt.Errorf("check running job: %w", err)
		}
		if running {
			return fmt.Errorf("a job is running: %w", sentinel.ErrConflict)
		}

		job, err := scanJob(sqlTx.QueryRowContext(ctx, `
			SELECT `+jobColumns+` FROM workflow_jobs
			WHERE status = 'queued'
			ORDER BY seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED`))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("no queued job: %w", sentinel.ErrNotFound)
			}
			return fmt.Errorf("select queued job: %w", err)
		}
		if err := job.Start(workerID, now); err != nil {
			return fmt.Errorf("%s: %w", err, sentinel.ErrInvalidState)
		}
		if err := s.update(ctx, sqlTx, job); err != nil {
			return err
		}
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// DeleteFinishedBefore drops terminal jobs that finished before cutoff.
func (s *PostgresJobStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM workflow_jobs
		WHERE status IN ('succeeded', 'failed', 'timed_out', 'canceled') AND finished_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	return int(n), nil
}

func (s *PostgresJobStore) update(ctx context.Context, q queryer, job *models.Job) error {
	output, err := marshalOutput(job.Output)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE workflow_jobs
		SET status = $2, remote_id = $3, output = $4, error = $5, attempts = $6, worker_id = $7,
			started_at = $8, heartbeat_at = $9, finished_at = $10
		WHERE id = $1`,
		uuid.UUID(job.ID), string(job.Status), job.RemoteID, output, job.Error, job.Attempts, job.WorkerID,
		nullTime(job.StartedAt), nullTime(job.HeartbeatAt), nullTime(job.FinishedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("a job is running: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

// Execute locks the row, validates and persists the mutation in one transaction.
func (s *PostgresJobStore) Execute(ctx context.Context, jobID id.JobID, validate func(*models.Job) error, mutate func(*models.Job)) (*models.Job, error) {
	var result *models.Job
	var validateErr error
	err := tx.RunInTx(ctx, s.db, func(ctx context.Context, sqlTx *sql.Tx) error {
		job, err := scanJob(sqlTx.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM workflow_jobs WHERE id = $1 FOR UPDATE`, uuid.UUID(jobID)))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("job not found: %w", sentinel.ErrNotFound)
			}
			return fmt.Errorf("lock job: %w", err)
		}
		result = job
		if err := validate(job); err != nil {
			validateErr = err
			return nil
		}
		mutate(job)
		return s.update(ctx, sqlTx, job)
	})
	if err != nil {
		return nil, err
	}
	return result, validateErr
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*models.Job, error) {
	var (
		jobID       uuid.UUID
		userID      string
		status      string
		params      []byte
		output      []byte
		startedAt   sql.NullTime
		heartbeatAt sql.NullTime
		finishedAt  sql.NullTime
		job         models.Job
	)
	if err := row.Scan(&jobID, &userID, &job.Engine, &job.Workflow, &params, &status,
		&job.RemoteID, &output, &job.Error, &job.Attempts, &job.WorkerID,
		&job.CreatedAt, &startedAt, &heartbeatAt, &finishedAt); err != nil {
		return nil, err
	}
	job.ID = id.JobID(jobID)
	job.UserID = id.UserID(userID)
	job.Status = models.Status(status)
	job.Params = json.RawMessage(params)
	if len(output) > 0 {
		if err := json.Unmarshal(output, &job.Output); err != nil {
			return nil, fmt.Errorf("unmarshal job output: %w", err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if heartbeatAt.Valid {
		t := heartbeatAt.Time
		job.HeartbeatAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	return &job, nil
}

// JSON columns are bound as text; lib/pq would hex-encode a []byte as bytea.
func marshalOutput(output map[string]any) (any, error) {
	if output == nil {
		return nil, nil
	}
	b, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("marshal job output: %w", err)
	}
	return string(b), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
