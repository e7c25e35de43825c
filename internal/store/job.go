package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/formahead/docproc/internal/store/model"
	"gorm.io/gorm"
)

// Job provides access to the queued OCR work table. Claiming is done with a
// lock token plus a lease deadline: the update only succeeds while no other
// worker holds an unexpired lease, which makes the claim atomic without any
// cross-worker coordination beyond the row itself.
type Job interface {
	Enqueue(ctx context.Context, documentID uuid.UUID, priority int, scheduledAt time.Time) (*model.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	ActiveForDocument(ctx context.Context, documentID uuid.UUID) (*model.Job, error)
	Claim(ctx context.Context, token string, lease time.Duration, now time.Time) (*model.Job, error)
	Heartbeat(ctx context.Context, id uuid.UUID, token string, lockedUntil time.Time) error
	ReleaseForRetry(ctx context.Context, id uuid.UUID, token string, runAt time.Time, lastError string) error
	Complete(ctx context.Context, id uuid.UUID, token string, now time.Time) error
	Fail(ctx context.Context, id uuid.UUID, token string, lastError string, now time.Time) error
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	InitialMigration(ctx context.Context) error
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) InitialMigration(ctx context.Context) error {
	return s.getDB(ctx).AutoMigrate(&model.Job{})
}

// Enqueue creates a new pending job unless the document already has an
// active one; a document has at most one job in flight.
func (s *JobStore) Enqueue(ctx context.Context, documentID uuid.UUID, priority int, scheduledAt time.Time) (*model.Job, error) {
	if existing, err := s.ActiveForDocument(ctx, documentID); err == nil && existing != nil {
		return nil, ErrDuplicateKey
	} else if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}

	job := model.Job{
		ID:          uuid.New(),
		DocumentID:  documentID,
		Status:      model.JobStatusPending,
		Priority:    priority,
		ScheduledAt: scheduledAt,
	}
	if result := s.getDB(ctx).Create(&job); result.Error != nil {
		return nil, fmt.Errorf("enqueuing job: %w", result.Error)
	}
	return &job, nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var job model.Job
	result := s.getDB(ctx).First(&job, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job: %w", result.Error)
	}
	return &job, nil
}

func (s *JobStore) ActiveForDocument(ctx context.Context, documentID uuid.UUID) (*model.Job, error) {
	var job model.Job
	result := s.getDB(ctx).
		Where("document_id = ? AND status IN ?", documentID, []string{model.JobStatusPending, model.JobStatusRunning}).
		First(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying active job: %w", result.Error)
	}
	return &job, nil
}

// Claim picks the highest-priority ready job and locks it for the caller.
// Ready means pending and due, or running with an expired lease (a stalled
// worker). The conditional update makes the claim race-free: when two
// workers pick the same candidate only one update matches.
func (s *JobStore) Claim(ctx context.Context, token string, lease time.Duration, now time.Time) (*model.Job, error) {
	db := s.getDB(ctx)

	var candidate model.Job
	result := db.
		Where("(status = ? AND scheduled_at <= ?) OR (status = ? AND locked_until < ?)",
			model.JobStatusPending, now, model.JobStatusRunning, now).
		Order("priority DESC, scheduled_at ASC").
		First(&candidate)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("selecting claimable job: %w", result.Error)
	}

	lockedUntil := now.Add(lease)
	update := db.Model(&model.Job{}).
		Where("id = ? AND ((status = ? AND scheduled_at <= ?) OR (status = ? AND locked_until < ?))",
			candidate.ID, model.JobStatusPending, now, model.JobStatusRunning, now).
		Updates(map[string]interface{}{
			"status":       model.JobStatusRunning,
			"lock_token":   token,
			"locked_until": lockedUntil,
			"attempts":     gorm.Expr("attempts + 1"),
		})
	if update.Error != nil {
		return nil, fmt.Errorf("claiming job: %w", update.Error)
	}
	if update.RowsAffected == 0 {
		// lost the race, let the caller poll again
		return nil, ErrRecordNotFound
	}

	return s.Get(ctx, candidate.ID)
}

// Heartbeat extends the lease. It fails with ErrRecordNotFound when the
// caller no longer holds the lock, which a worker must treat as losing the
// job.
func (s *JobStore) Heartbeat(ctx context.Context, id uuid.UUID, token string, lockedUntil time.Time) error {
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND lock_token = ? AND status = ?", id, token, model.JobStatusRunning).
		Update("locked_until", lockedUntil)
	if result.Error != nil {
		return fmt.Errorf("renewing job lease: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ReleaseForRetry returns the job to the pending pool with a future run
// time, recording the attempt's error. The lock is cleared so any worker can
// pick it up once due.
func (s *JobStore) ReleaseForRetry(ctx context.Context, id uuid.UUID, token string, runAt time.Time, lastError string) error {
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND lock_token = ?", id, token).
		Updates(map[string]interface{}{
			"status":       model.JobStatusPending,
			"lock_token":   nil,
			"locked_until": nil,
			"scheduled_at": runAt,
			"last_error":   lastError,
		})
	if result.Error != nil {
		return fmt.Errorf("releasing job for retry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *JobStore) Complete(ctx context.Context, id uuid.UUID, token string, now time.Time) error {
	return s.finish(ctx, id, token, model.JobStatusCompleted, nil, now)
}

func (s *JobStore) Fail(ctx context.Context, id uuid.UUID, token string, lastError string, now time.Time) error {
	return s.finish(ctx, id, token, model.JobStatusFailed, &lastError, now)
}

func (s *JobStore) finish(ctx context.Context, id uuid.UUID, token string, status string, lastError *string, now time.Time) error {
	updates := map[string]interface{}{
		"status":       status,
		"lock_token":   nil,
		"locked_until": nil,
		"completed_at": now,
	}
	if lastError != nil {
		updates["last_error"] = *lastError
	}

	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND lock_token = ?", id, token).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("finishing job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// DeleteTerminalBefore garbage-collects completed and failed jobs older than
// the cutoff. Job rows are ephemeral relative to document lifetime.
func (s *JobStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.getDB(ctx).
		Where("status IN ? AND completed_at < ?", []string{model.JobStatusCompleted, model.JobStatusFailed}, cutoff).
		Delete(&model.Job{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting terminal jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
