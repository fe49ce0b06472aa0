package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
	"github.com/ZrianRashid/ai-ugc-generator/internal/metrics"
	"github.com/ZrianRashid/ai-ugc-generator/internal/store"
	"github.com/ZrianRashid/ai-ugc-generator/pkg/rabbitmq"
)

const staleJobMessage = "render timed out"

// CallbackPayload is the body posted by the render workflow.
type CallbackPayload struct {
	VideoID      string  `json:"videoId"`
	Status       string  `json:"status"`
	VideoURL     *string `json:"videoUrl,omitempty"`
	ThumbnailURL *string `json:"thumbnailUrl,omitempty"`
	Script       *string `json:"script,omitempty"`
	Duration     *int    `json:"duration,omitempty"`
	Error        *string `json:"error,omitempty"`
}

// JobTracker owns the generation job state machine.
type JobTracker struct {
	repo           store.JobRepository
	callbackSecret string
	credits        *CreditPolicy
	publisher      rabbitmq.Publisher
	logger         *slog.Logger
	now            func() time.Time
}

// NewJobTracker creates a job tracker.
func NewJobTracker(repo store.JobRepository, callbackSecret string, credits *CreditPolicy, publisher rabbitmq.Publisher, logger *slog.Logger) *JobTracker {
	return &JobTracker{
		repo:           repo,
		callbackSecret: callbackSecret,
		credits:        credits,
		publisher:      publisher,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new pending job.
func (t *JobTracker) Create(ctx context.Context, accountID, title, prompt string, settings domain.JobSettings) (*domain.Job, error) {
	raw, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("encode job settings: %w", err)
	}
	job, err := t.repo.CreateJob(ctx, &domain.Job{
		AccountID: accountID,
		Title:     title,
		Prompt:    prompt,
		Status:    domain.JobPending,
		Settings:  raw,
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	metrics.RecordJobTransition(string(domain.JobPending))
	t.publish(ctx, job)
	return job, nil
}

// Authorize compares the callback credential with the shared secret in
// constant time.
func (t *JobTracker) Authorize(credential string) error {
	if t.callbackSecret == "" {
		return fmt.Errorf("%w: callback secret is not configured", domain.ErrUnauthorized)
	}
	expected := "Bearer " + t.callbackSecret
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(credential)), []byte(expected)) != 1 {
		return domain.ErrUnauthorized
	}
	return nil
}

// ApplyCallback moves a job forward from a render callback. Callbacks for
// terminal jobs are accepted without mutation.
func (t *JobTracker) ApplyCallback(ctx context.Context, credential string, p CallbackPayload) (*domain.Job, error) {
	if err := t.Authorize(credential); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.VideoID) == "" || strings.TrimSpace(p.Status) == "" {
		return nil, fmt.Errorf("%w: %w: videoId and status are required", domain.ErrValidation, domain.ErrNotFound)
	}
	if _, err := uuid.Parse(p.VideoID); err != nil {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, p.VideoID)
	}

	update := domain.JobUpdate{
		Status:       domain.JobStatus(strings.ToLower(strings.TrimSpace(p.Status))),
		ThumbnailURL: nonEmpty(p.ThumbnailURL),
		Script:       nonEmpty(p.Script),
	}
	switch update.Status {
	case domain.JobProcessing:
	case domain.JobCompleted:
		update.ArtifactURL = nonEmpty(p.VideoURL)
		if update.ArtifactURL == nil {
			return nil, fmt.Errorf("%w: videoUrl is required for completed jobs", domain.ErrValidation)
		}
		if p.Duration != nil && *p.Duration >= 0 {
			update.DurationSeconds = p.Duration
		}
		completedAt := t.now()
		update.CompletedAt = &completedAt
	case domain.JobFailed:
		update.ErrorMessage = nonEmpty(p.Error)
		if update.ErrorMessage == nil {
			msg := "render failed"
			update.ErrorMessage = &msg
		}
	default:
		return nil, fmt.Errorf("%w: unsupported callback status %q", domain.ErrValidation, p.Status)
	}

	job, applied, err := t.repo.UpdateJobIfActive(ctx, p.VideoID, update)
	if err != nil {
		return nil, err
	}
	if !applied {
		t.logger.Info("callback for terminal job ignored", "job_id", job.ID, "status", job.Status, "callback_status", update.Status)
		return job, nil
	}

	t.afterTransition(ctx, job)
	return job, nil
}

// MarkFailed fails an active job outside the callback path and reports
// whether the job was still active.
func (t *JobTracker) MarkFailed(ctx context.Context, jobID, reason string) (*domain.Job, bool, error) {
	job, applied, err := t.repo.UpdateJobIfActive(ctx, jobID, domain.JobUpdate{
		Status:       domain.JobFailed,
		ErrorMessage: &reason,
	})
	if err != nil {
		return nil, false, err
	}
	if applied {
		t.afterTransition(ctx, job)
	}
	return job, applied, nil
}

// FailStale fails jobs left pending or processing since before olderThan.
func (t *JobTracker) FailStale(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	jobs, err := t.repo.FindStaleJobs(ctx, olderThan, limit)
	if err != nil {
		return 0, fmt.Errorf("find stale jobs: %w", err)
	}

	swept := 0
	for _, stale := range jobs {
		_, applied, err := t.MarkFailed(ctx, stale.ID, staleJobMessage)
		if err != nil {
			t.logger.Error("failed to expire stale job", "job_id", stale.ID, "error", err)
			continue
		}
		if applied {
			swept++
		}
	}
	metrics.RecordStaleJobsSwept(swept)
	return swept, nil
}

// Get returns one of the account's jobs.
func (t *JobTracker) Get(ctx context.Context, accountID, jobID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrNotFound
	}
	job, err := t.repo.FindJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.AccountID != accountID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// List returns the account's jobs, newest first.
func (t *JobTracker) List(ctx context.Context, accountID string, limit int) ([]domain.Job, error) {
	return t.repo.ListJobsByAccountID(ctx, accountID, clampLimit(limit))
}

func (t *JobTracker) afterTransition(ctx context.Context, job *domain.Job) {
	metrics.RecordJobTransition(string(job.Status))
	t.logger.Info("job status updated", "job_id", job.ID, "account_id", job.AccountID, "status", job.Status)

	switch job.Status {
	case domain.JobCompleted:
		t.credits.OnCompleted(ctx, job)
	case domain.JobFailed:
		t.credits.OnFailed(ctx, job)
	}
	t.publish(ctx, job)
}

func (t *JobTracker) publish(ctx context.Context, job *domain.Job) {
	if t.publisher == nil {
		return
	}
	event := domain.JobEvent{
		JobID:      job.ID,
		AccountID:  job.AccountID,
		Status:     job.Status,
		OccurredAt: t.now(),
	}
	if job.ArtifactURL != nil {
		event.VideoURL = *job.ArtifactURL
	}
	if job.ErrorMessage != nil {
		event.Error = *job.ErrorMessage
	}
	if err := t.publisher.PublishJobEvent(ctx, event); err != nil {
		t.logger.Warn("failed to publish job event", "job_id", job.ID, "error", err)
	}
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
