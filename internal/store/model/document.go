package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Document processing statuses. Transitions are owned by the service layer
// and the worker pool; the store only persists them.
const (
	DocumentStatusPending        = "pending"
	DocumentStatusClassified     = "classified"
	DocumentStatusSyncProcessing = "sync_processing"
	DocumentStatusQueued         = "queued"
	DocumentStatusProcessing     = "processing"
	DocumentStatusProcessed      = "processed"
	DocumentStatusFailed         = "failed"
	DocumentStatusReprocessing   = "reprocessing"
)

// Document type classifications.
const (
	DocumentKindTextNative = "text_native"
	DocumentKindScanned    = "scanned"
	DocumentKindUnknown    = "unknown"
)

type Document struct {
	gorm.Model
	ID          uuid.UUID `gorm:"primaryKey"`
	OwnerID     string    `gorm:"index;not null"`
	Filename    string
	ContentType string
	Location    string
	ByteSize    int64
	PageCount   int
	Status      string `gorm:"index;not null"`
	Kind        string `gorm:"not null;default:unknown"`
	Confidence  float64
	// FailureReason holds the reason class of the last terminal failure,
	// never a raw error chain.
	FailureReason     *string
	ReprocessAttempts int
	LastProcessedAt   *time.Time
	// Version guards against lost updates when a reprocess races a stalled
	// original attempt. Every status write increments it.
	Version int `gorm:"not null;default:0"`

	Results []ExtractionResult `gorm:"constraint:OnDelete:CASCADE;"`
}

type DocumentList []Document

func (d Document) String() string {
	val, _ := json.Marshal(d)
	return string(val)
}

func NewDocumentFromID(id uuid.UUID) *Document {
	return &Document{ID: id}
}
