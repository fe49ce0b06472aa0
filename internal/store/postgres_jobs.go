package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
)

const jobColumns = `id, account_id, title, prompt, status, settings, video_url, thumbnail_url, script,
	duration_seconds, error_message, created_at, updated_at, completed_at`

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job      domain.Job
		status   string
		settings []byte
	)
	err := row.Scan(&job.ID, &job.AccountID, &job.Title, &job.Prompt, &status, &settings,
		&job.ArtifactURL, &job.ThumbnailURL, &job.Script, &job.DurationSeconds, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.Settings = settings
	return &job, nil
}

// CreateJob inserts a new job in the pending state.
func (r *PostgresRepository) CreateJob(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	stored, err := scanJob(r.db.QueryRow(ctx, `
		INSERT INTO generation_jobs (id, account_id, title, prompt, status, settings)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		RETURNING `+jobColumns,
		job.ID, job.AccountID, job.Title, job.Prompt, string(domain.JobPending), jsonParam(job.Settings)))
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return stored, nil
}

// FindJobByID retrieves a job regardless of owner.
func (r *PostgresRepository) FindJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListJobsByAccountID returns the newest jobs first.
func (r *PostgresRepository) ListJobsByAccountID(ctx context.Context, accountID string, limit int) ([]domain.Job, error) {
	return r.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM generation_jobs
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
}

// UpdateJobIfActive writes update only while the job is not terminal. When the
// guard rejects the write the current row is returned with applied=false.
func (r *PostgresRepository) UpdateJobIfActive(ctx context.Context, jobID string, update domain.JobUpdate) (*domain.Job, bool, error) {
	job, err := scanJob(r.db.QueryRow(ctx, `
		UPDATE generation_jobs SET
			status = $2,
			video_url = COALESCE($3, video_url),
			thumbnail_url = COALESCE($4, thumbnail_url),
			script = COALESCE($5, script),
			duration_seconds = COALESCE($6, duration_seconds),
			error_message = COALESCE($7, error_message),
			completed_at = COALESCE($8, completed_at),
			updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
		RETURNING `+jobColumns,
		jobID, string(update.Status), update.ArtifactURL, update.ThumbnailURL, update.Script,
		update.DurationSeconds, update.ErrorMessage, update.CompletedAt))
	if err == nil {
		return job, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("update job %s: %w", jobID, err)
	}

	current, err := r.FindJobByID(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// FindStaleJobs lists non-terminal jobs untouched since olderThan.
func (r *PostgresRepository) FindStaleJobs(ctx context.Context, olderThan time.Time, limit int) ([]domain.Job, error) {
	return r.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM generation_jobs
		WHERE status IN ('pending', 'processing') AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`, olderThan, limit)
}

func (r *PostgresRepository) queryJobs(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
