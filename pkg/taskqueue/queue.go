// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrJobNotFound = errors.New("job not found")
)

// Job kinds.
const (
	KindAssembleVideo = "assemble_video"
	KindHDRMerge      = "hdr_merge"
)

// JobStatus values. failed_retryable jobs become claimable again once their
// visibility delay elapses; failed_terminal is the dead-letter state and is
// never auto-retried.
type JobStatus string

const (
	JobStatusQueued          JobStatus = "queued"
	JobStatusRunning         JobStatus = "running"
	JobStatusDone            JobStatus = "done"
	JobStatusFailedRetryable JobStatus = "failed_retryable"
	JobStatusFailedTerminal  JobStatus = "failed_terminal"
)

// Job is one durable FIFO entry.
type Job struct {
	ID   string `json:"id" gorm:"primaryKey;size:64"`
	Kind string `json:"kind" gorm:"size:32;index"`

	// SessionID is the dedup key: at most one live job per (kind, session).
	SessionID string `json:"session_id" gorm:"size:128;index"`

	Payload json.RawMessage `json:"payload" gorm:"type:text"`

	Status   JobStatus `json:"status" gorm:"size:24;index"`
	Attempts int       `json:"attempts" gorm:"default:0"`

	MaxAttempts int `json:"max_attempts" gorm:"default:3"`

	EnqueuedAt time.Time `json:"enqueued_at" gorm:"index"`
	// VisibleAt gates claims: a running job past VisibleAt is considered
	// abandoned and is redelivered by the janitor.
	VisibleAt   time.Time  `json:"visible_at" gorm:"index"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ClaimedBy string `json:"claimed_by,omitempty" gorm:"size:64"`
	LastError string `json:"last_error,omitempty" gorm:"size:1024"`
}

func (Job) TableName() string {
	return "brain_jobs"
}

func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusDone || j.Status == JobStatusFailedTerminal
}

// AssembleVideoPayload references the closed session to encode.
type AssembleVideoPayload struct {
	SessionID string `json:"session_id"`
}

// HDRMergePayload references one bracket group to merge.
type HDRMergePayload struct {
	SessionID  string `json:"session_id"`
	HDRGroupID string `json:"hdr_group_id"`
}

// Queue is a durable FIFO with at-least-once delivery: a claimed job is
// visible to exactly one worker until its visibility timeout, must be acked
// after success, and is redelivered otherwise.
type Queue interface {
	// Enqueue is idempotent per (kind, sessionID): if a live job with the
	// same key exists its id is returned and nothing is inserted.
	Enqueue(ctx context.Context, kind, sessionID string, payload interface{}) (jobID string, err error)

	// Claim returns the oldest claimable job, marked running, or (nil, nil)
	// when the queue is empty.
	Claim(ctx context.Context, workerID string) (*Job, error)

	// Ack marks a running job done.
	Ack(ctx context.Context, jobID string) error

	// Nack records a failed attempt. Retryable failures under the attempt
	// limit return to the queue after the visibility delay; everything else
	// dead-letters.
	Nack(ctx context.Context, jobID string, reason string, retryable bool) error

	Get(ctx context.Context, jobID string) (*Job, error)

	List(ctx context.Context, statuses []JobStatus, limit int) ([]*Job, error)

	ListDeadLetter(ctx context.Context, limit int) ([]*Job, error)

	// ReclaimExpired redelivers running jobs whose visibility timeout
	// elapsed (worker died mid-job).
	ReclaimExpired(ctx context.Context) (int, error)

	// Cleanup removes done jobs older than the retention window. Dead-letter
	// jobs are kept.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
}

// Config tunes queue semantics.
type Config struct {
	VisibilityTimeout time.Duration
	MaxAttempts       int
	RetentionDays     int
}

func DefaultConfig() *Config {
	return &Config{
		VisibilityTimeout: 10 * time.Minute,
		MaxAttempts:       3,
		RetentionDays:     7,
	}
}
