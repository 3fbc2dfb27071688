package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/AMD-AGI/Skylapse/brain/pkg/logger/log"
	brainsql "github.com/AMD-AGI/Skylapse/brain/pkg/sql"
)

// Store implements Queue on the queue database (embedded sqlite by default,
// external postgres via BRAIN_QUEUE_URL).
type Store struct {
	db     *gorm.DB
	config *Config
}

func NewStore(db *gorm.DB, config *Config) *Store {
	if config == nil {
		config = DefaultConfig()
	}
	return &Store{db: db, config: config}
}

// Migrate creates the job table.
func (s *Store) Migrate() error {
	return s.getDB().AutoMigrate(&Job{})
}

func (s *Store) getDB() *gorm.DB {
	if s.db != nil {
		return s.db
	}
	return brainsql.GetQueueDB()
}

var liveStatuses = []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusFailedRetryable}

func (s *Store) Enqueue(ctx context.Context, kind, sessionID string, payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	db := s.getDB().WithContext(ctx)
	var jobID string
	err = db.Transaction(func(tx *gorm.DB) error {
		var existing Job
		err := tx.Where("kind = ? AND session_id = ? AND status IN ?", kind, sessionID, liveStatuses).
			First(&existing).Error
		if err == nil {
			log.Debugf("Enqueue %s/%s deduplicated against job %s", kind, sessionID, existing.ID)
			jobID = existing.ID
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		job := &Job{
			ID:          uuid.New().String(),
			Kind:        kind,
			SessionID:   sessionID,
			Payload:     raw,
			Status:      JobStatusQueued,
			MaxAttempts: s.config.MaxAttempts,
			EnqueuedAt:  now,
			VisibleAt:   now,
		}
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		jobID = job.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return jobID, nil
}

func (s *Store) Claim(ctx context.Context, workerID string) (*Job, error) {
	db := s.getDB().WithContext(ctx)
	var job Job

	err := db.Transaction(func(tx *gorm.DB) error {
		query := tx.Where("status IN ? AND visible_at <= ?",
			[]JobStatus{JobStatusQueued, JobStatusFailedRetryable}, time.Now().UTC())
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := query.Order("enqueued_at ASC, id ASC").First(&job).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		job.Status = JobStatusRunning
		job.ClaimedBy = workerID
		job.StartedAt = &now
		job.VisibleAt = now.Add(s.config.VisibilityTimeout)
		return tx.Save(&job).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (s *Store) Ack(ctx context.Context, jobID string) error {
	db := s.getDB().WithContext(ctx)
	now := time.Now().UTC()

	result := db.Model(&Job{}).
		Where("id = ? AND status = ?", jobID, JobStatusRunning).
		Updates(map[string]interface{}{
			"status":       JobStatusDone,
			"completed_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *Store) Nack(ctx context.Context, jobID string, reason string, retryable bool) error {
	db := s.getDB().WithContext(ctx)

	return db.Transaction(func(tx *gorm.DB) error {
		var job Job
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return err
		}

		now := time.Now().UTC()
		job.Attempts++
		job.LastError = reason
		if retryable && job.Attempts < job.MaxAttempts {
			job.Status = JobStatusFailedRetryable
			job.VisibleAt = now.Add(s.config.VisibilityTimeout)
		} else {
			job.Status = JobStatusFailedTerminal
			job.CompletedAt = &now
			log.Warnf("Job %s (%s/%s) dead-lettered after %d attempts: %s",
				job.ID, job.Kind, job.SessionID, job.Attempts, reason)
		}
		return tx.Save(&job).Error
	})
}

func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	db := s.getDB().WithContext(ctx)
	var job Job
	err := db.Where("id = ?", jobID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (s *Store) List(ctx context.Context, statuses []JobStatus, limit int) ([]*Job, error) {
	db := s.getDB().WithContext(ctx)
	query := db.Model(&Job{}).Order("enqueued_at DESC")
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var jobs []*Job
	err := query.Find(&jobs).Error
	return jobs, err
}

func (s *Store) ListDeadLetter(ctx context.Context, limit int) ([]*Job, error) {
	return s.List(ctx, []JobStatus{JobStatusFailedTerminal}, limit)
}

func (s *Store) ReclaimExpired(ctx context.Context) (int, error) {
	db := s.getDB().WithContext(ctx)
	now := time.Now().UTC()
	count := 0

	err := db.Transaction(func(tx *gorm.DB) error {
		var expired []*Job
		if err := tx.Where("status = ? AND visible_at <= ?", JobStatusRunning, now).
			Find(&expired).Error; err != nil {
			return err
		}
		for _, job := range expired {
			job.Attempts++
			job.ClaimedBy = ""
			job.LastError = "visibility timeout expired"
			if job.Attempts < job.MaxAttempts {
				job.Status = JobStatusQueued
				job.VisibleAt = now
			} else {
				job.Status = JobStatusFailedTerminal
				job.CompletedAt = &now
				log.Warnf("Job %s (%s/%s) dead-lettered: visibility timeout after %d attempts",
					job.ID, job.Kind, job.SessionID, job.Attempts)
			}
			if err := tx.Save(job).Error; err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	db := s.getDB().WithContext(ctx)
	cutoff := time.Now().UTC().Add(-olderThan)

	result := db.Where("status = ? AND completed_at < ?", JobStatusDone, cutoff).
		Delete(&Job{})
	return int(result.RowsAffected), result.Error
}
