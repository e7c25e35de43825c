package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job states. A terminal state (completed/failed) is final: retries
// increment the attempt counter on the same row, they never create a new one.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job priorities. Higher values are dequeued first.
const (
	JobPriorityDefault   = 0
	JobPriorityReprocess = 10
)

// Job is one unit of queued OCR work for a Document.
type Job struct {
	ID         uuid.UUID `gorm:"primaryKey"`
	DocumentID uuid.UUID `gorm:"index;not null"`
	Status     string    `gorm:"index;not null"`
	Priority   int       `gorm:"not null;default:0"`
	Attempts   int       `gorm:"not null;default:0"`

	// LockToken and LockedUntil implement the claim lease. A row with an
	// expired LockedUntil is reclaimable by any worker.
	LockToken   *string
	LockedUntil *time.Time

	ScheduledAt time.Time `gorm:"index;not null"`
	CompletedAt *time.Time
	LastError   *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type JobList []Job

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}
