package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
)

const validAuth = "Bearer " + testCallbackSecret

func strPtr(s string) *string { return &s }

func createJob(t *testing.T, s *testSystem, accountID string) *domain.Job {
	t.Helper()
	job, err := s.jobs.Create(context.Background(), accountID, "Glow Serum - UGC", "make it pop", domain.JobSettings{ProductName: "Glow Serum"})
	require.NoError(t, err)
	require.Equal(t, domain.JobPending, job.Status)
	return job
}

func TestApplyCallbackAuthorization(t *testing.T) {
	s := newTestSystem("none", nil)
	job := createJob(t, s, "acct-1")

	for _, credential := range []string{"", "Bearer wrong", testCallbackSecret, "bearer " + testCallbackSecret} {
		_, err := s.jobs.ApplyCallback(context.Background(), credential, CallbackPayload{VideoID: job.ID, Status: "completed", VideoURL: strPtr("https://cdn/v.mp4")})
		require.ErrorIs(t, err, domain.ErrUnauthorized, "credential %q", credential)
	}

	stored, err := s.jobs.Get(context.Background(), "acct-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, stored.Status)
}

func TestApplyCallbackValidation(t *testing.T) {
	s := newTestSystem("none", nil)
	job := createJob(t, s, "acct-1")
	ctx := context.Background()

	_, err := s.jobs.ApplyCallback(ctx, validAuth, CallbackPayload{Status: "completed"})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.jobs.ApplyCallback(ctx, validAuth, CallbackPayload{VideoID: "not-a-uuid", Status: "completed"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.jobs.ApplyCallback(ctx, validAuth, CallbackPayload{VideoID: "00000000-0000-0000-0000-000000000000", Status: "processing"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.jobs.ApplyCallback(ctx, validAuth, CallbackPayload{VideoID: job.ID, Status: "exploded"})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.jobs.ApplyCallback(ctx, validAuth, CallbackPayload{VideoID: job.ID, Status: "completed"})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestApplyCallbackLifecycle(t *testing.T) {
	s := newTestSystem("none", nil)
	job := createJob(t, s, "acct-1")
	ctx := context.Background()

	updated, err := s.jobs.ApplyCallback(ctx, validAuth, CallbackPayload{VideoID: job.ID, Status: "processing"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobProcessing, updated.Status)

	duration := 30
	updated, err = s.jobs.ApplyCallback(ctx, validAuth, CallbackPayload{
		VideoID:      job.ID,
		Status:       "completed",
		VideoURL:     strPtr("https://cdn/v.mp4"),
		ThumbnailURL: strPtr("https://cdn/t.jpg"),
		Script:       strPtr("Hook. Demo. CTA."),
		Duration:     &duration,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, updated.Status)
	require.NotNil(t, updated.ArtifactURL)
	assert.Equal(t, "https://cdn/v.mp4", *updated.ArtifactURL)
	require.NotNil(t, updated.CompletedAt)
	assert.Equal(t, 30, *updated.DurationSeconds)

	require.Len(t, s.publisher.jobs, 3)
	assert.Equal(t, domain.JobCompleted, s.publisher.jobs[2].Status)
}

func TestApplyCallbackTerminalJobIsNotMutated(t *testing.T) {
	s := newTestSystem("none", nil)
	job := createJob(t, s, "acct-1")
	ctx := context.Background()

	_, err := s.jobs.ApplyCallback(ctx, validAuth, CallbackPayload{VideoID: job.ID, Status: "completed", VideoURL: strPtr("https://cdn/first.mp4")})
	require.NoError(t, err)

	again, err := s.jobs.ApplyCallback(ctx, validAuth, CallbackPayload{VideoID: job.ID, Status: "failed", Error: strPtr("late failure")})
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, again.Status)
	assert.Nil(t, again.ErrorMessage)

	again, err = s.jobs.ApplyCallback(ctx, validAuth, CallbackPayload{VideoID: job.ID, Status: "completed", VideoURL: strPtr("https://cdn/second.mp4")})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/first.mp4", *again.ArtifactURL)
}

func TestApplyCallbackFailedDefaultsMessage(t *testing.T) {
	s := newTestSystem("none", nil)
	job := createJob(t, s, "acct-1")

	failedJob, err := s.jobs.ApplyCallback(context.Background(), validAuth, CallbackPayload{VideoID: job.ID, Status: "failed"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, failedJob.Status)
	require.NotNil(t, failedJob.ErrorMessage)
	assert.Equal(t, "render failed", *failedJob.ErrorMessage)
}

func TestGetHidesOtherAccountsJobs(t *testing.T) {
	s := newTestSystem("none", nil)
	job := createJob(t, s, "acct-1")

	_, err := s.jobs.Get(context.Background(), "acct-2", job.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	jobs, err := s.jobs.List(context.Background(), "acct-2", 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestFailStaleSweepsOnlyOldActiveJobs(t *testing.T) {
	s := newTestSystem("none", nil)
	old := createJob(t, s, "acct-1")
	fresh := createJob(t, s, "acct-1")
	done := createJob(t, s, "acct-1")
	_, err := s.jobs.ApplyCallback(context.Background(), validAuth, CallbackPayload{VideoID: done.ID, Status: "completed", VideoURL: strPtr("https://cdn/v.mp4")})
	require.NoError(t, err)

	s.repo.setJobUpdatedAt(old.ID, time.Now().Add(-3*time.Hour))
	s.repo.setJobUpdatedAt(done.ID, time.Now().Add(-3*time.Hour))

	swept, err := s.jobs.FailStale(context.Background(), time.Now().Add(-2*time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	stored, err := s.jobs.Get(context.Background(), "acct-1", old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, stored.Status)
	assert.Equal(t, staleJobMessage, *stored.ErrorMessage)

	stored, err = s.jobs.Get(context.Background(), "acct-1", fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, stored.Status)
}

func TestSchedulerSweepUsesTimeout(t *testing.T) {
	s := newTestSystem("none", nil)
	job := createJob(t, s, "acct-1")
	s.repo.setJobUpdatedAt(job.ID, time.Now().Add(-time.Hour))

	NewScheduler(s.jobs, "@every 5m", 2*time.Hour, testLogger()).SweepStaleJobs()
	stored, err := s.jobs.Get(context.Background(), "acct-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, stored.Status)

	NewScheduler(s.jobs, "@every 5m", 30*time.Minute, testLogger()).SweepStaleJobs()
	stored, err = s.jobs.Get(context.Background(), "acct-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, stored.Status)
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	s := newTestSystem("none", nil)
	scheduler := NewScheduler(s.jobs, "not a schedule", time.Hour, testLogger())
	require.Error(t, scheduler.Start())
}

func TestSchedulerZeroTimeoutSkipsSweep(t *testing.T) {
	s := newTestSystem("none", nil)

	disabled := NewScheduler(s.jobs, "@every 5m", 0, testLogger())
	require.NoError(t, disabled.Start())
	<-disabled.Stop().Done()
	assert.Empty(t, disabled.cron.Entries())

	enabled := NewScheduler(s.jobs, "@every 5m", time.Hour, testLogger())
	enabled.SetLimiterPruner(NewMemoryRateLimiter())
	require.NoError(t, enabled.Start())
	<-enabled.Stop().Done()
	assert.Len(t, enabled.cron.Entries(), 2)
}
