package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Processing paths.
const (
	ProcessingPathSync   = "synchronous"
	ProcessingPathQueued = "queued"
)

// ExtractionResult is one completed processing attempt for a Document.
// Rows are append-only: a reprocess creates a new row and never mutates
// the previous one.
type ExtractionResult struct {
	ID         uuid.UUID `gorm:"primaryKey"`
	DocumentID uuid.UUID `gorm:"index;not null"`
	RawText    []byte
	// Fields is the serialized field map ([]extract.Field); sensitive values
	// are sealed before the row is written.
	Fields []byte `gorm:"type:jsonb"`
	// Entities is the serialized typed entity collection (extract.Entities).
	Entities      []byte `gorm:"type:jsonb"`
	Confidence    float64
	Path          string `gorm:"not null"`
	EngineVersion string
	DPI           int
	CreatedAt     time.Time
}

type ExtractionResultList []ExtractionResult

func (r ExtractionResult) String() string {
	val, _ := json.Marshal(r)
	return string(val)
}
