package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/imageq/internal/domain"
	_ "github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS derivative_jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	request JSONB NOT NULL,
	result JSONB,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	requestJSON, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("marshal job request: %w", err)
	}
	resultJSON, err := marshalResult(job.Result)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO derivative_jobs (id, user_id, status, request, result, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID,
		job.UserID,
		job.Status,
		requestJSON,
		resultJSON,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, user_id, status, request, result, error, created_at, updated_at
		 FROM derivative_jobs
		 WHERE id = $1`,
		id,
	)

	var (
		job         domain.Job
		requestJSON []byte
		resultJSON  []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&requestJSON,
		&resultJSON,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	if err := json.Unmarshal(requestJSON, &job.Request); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job request: %w", err)
	}
	if len(resultJSON) > 0 {
		var result domain.TaskResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return domain.Job{}, false, fmt.Errorf("unmarshal job result: %w", err)
		}
		job.Result = &result
	}

	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE derivative_jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		now,
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job status: %w", err)
	}

	return s.mustGet(ctx, id)
}

func (s *PostgresJobStore) SaveResult(ctx context.Context, id, status string, result *domain.TaskResult, errMsg string) (domain.Job, error) {
	resultJSON, err := marshalResult(result)
	if err != nil {
		return domain.Job{}, err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(
		ctx,
		`UPDATE derivative_jobs
		 SET status = $1, result = $2, error = $3, updated_at = $4
		 WHERE id = $5`,
		status,
		resultJSON,
		errMsg,
		now,
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("save job result: %w", err)
	}

	return s.mustGet(ctx, id)
}

func (s *PostgresJobStore) mustGet(ctx context.Context, id string) (domain.Job, error) {
	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

func marshalResult(result *domain.TaskResult) ([]byte, error) {
	if result == nil {
		return nil, nil
	}
	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal job result: %w", err)
	}
	return body, nil
}
