package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixeltensor/internal/domain"
	_ "github.com/lib/pq"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS conversions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL,
	output_key TEXT NOT NULL DEFAULT '',
	convert_spec JSONB NOT NULL,
	failure TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	job_id TEXT NOT NULL,
	source_pixels BIGINT NOT NULL,
	tensor_elements BIGINT NOT NULL,
	output_bytes BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS usage_logs_user_created_idx ON usage_logs (user_id, created_at);
`

const selectConversionSQL = `SELECT id, user_id, status, source_type, webhook_url, object_key, output_key,
	convert_spec, failure, created_at, updated_at
 FROM conversions
 WHERE id = $1`

// PostgresJobStore persists conversions and usage logs through lib/pq.
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
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure conversions schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	specJSON, err := json.Marshal(job.Convert)
	if err != nil {
		return fmt.Errorf("marshal convert spec: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO conversions (id, user_id, status, source_type, webhook_url, object_key, output_key,
			convert_spec, failure, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID,
		job.UserID,
		job.Status,
		job.SourceType,
		job.WebhookURL,
		job.ObjectKey,
		job.OutputKey,
		specJSON,
		job.Failure,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversion: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	var (
		job      domain.Job
		specJSON []byte
	)
	err := s.db.QueryRowContext(ctx, selectConversionSQL, id).Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.SourceType,
		&job.WebhookURL,
		&job.ObjectKey,
		&job.OutputKey,
		&specJSON,
		&job.Failure,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("query conversion: %w", err)
	}

	if err := json.Unmarshal(specJSON, &job.Convert); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal convert spec: %w", err)
	}
	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	return s.exec(ctx, id,
		`UPDATE conversions SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) Finish(ctx context.Context, id, status, outputKey, failure string) (domain.Job, error) {
	return s.exec(ctx, id,
		`UPDATE conversions
		 SET status = $1, failure = $2, output_key = COALESCE(NULLIF($3, ''), output_key), updated_at = $4
		 WHERE id = $5`,
		status, failure, outputKey, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) exec(ctx context.Context, id, query string, args ...any) (domain.Job, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update conversion: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Job{}, ErrJobNotFound
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

func (s *PostgresJobStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (user_id, job_id, source_pixels, tensor_elements, output_bytes, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		usage.UserID,
		usage.JobID,
		usage.SourcePixels,
		usage.TensorElements,
		usage.OutputBytes,
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}
