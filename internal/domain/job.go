package domain

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are accepted.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is one requested video generation.
type Job struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"user_id"`
	Title           string          `json:"title"`
	Prompt          string          `json:"prompt"`
	Status          JobStatus       `json:"status"`
	Settings        json.RawMessage `json:"settings"`
	ArtifactURL     *string         `json:"video_url,omitempty"`
	ThumbnailURL    *string         `json:"thumbnail_url,omitempty"`
	Script          *string         `json:"script,omitempty"`
	DurationSeconds *int            `json:"duration,omitempty"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// JobSettings is the product metadata captured by the generation form.
type JobSettings struct {
	ProductName    string `json:"productName"`
	TargetAudience string `json:"targetAudience,omitempty"`
	VideoStyle     string `json:"videoStyle,omitempty"`
	Duration       string `json:"duration,omitempty"`
	Tone           string `json:"tone,omitempty"`
}

// JobUpdate carries the fields a render callback may set.
type JobUpdate struct {
	Status          JobStatus
	ArtifactURL     *string
	ThumbnailURL    *string
	Script          *string
	DurationSeconds *int
	ErrorMessage    *string
	CompletedAt     *time.Time
}

// JobEvent is published to the message broker on every lifecycle change.
type JobEvent struct {
	JobID      string    `json:"job_id"`
	AccountID  string    `json:"account_id"`
	Status     JobStatus `json:"status"`
	VideoURL   string    `json:"video_url,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
