package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/formahead/docproc/internal/pii"
	"github.com/formahead/docproc/internal/sealed"
)

// Confidence bands shown to users. Thresholds come from configuration.
const (
	ConfidenceBandHigh       = "high"
	ConfidenceBandAcceptable = "acceptable"
	ConfidenceBandLow        = "low"
)

// DocumentStatus is the user-facing processing state of a document.
type DocumentStatus struct {
	ID                uuid.UUID  `json:"id"`
	Filename          string     `json:"filename"`
	Status            string     `json:"status"`
	Kind              string     `json:"kind"`
	PageCount         int        `json:"page_count"`
	Confidence        float64    `json:"confidence"`
	ConfidenceBand    string     `json:"confidence_band,omitempty"`
	LowConfidence     bool       `json:"low_confidence,omitempty"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	ReprocessAttempts int        `json:"reprocess_attempts"`
	LastProcessedAt   *time.Time `json:"last_processed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// StoredField is the persisted form of one extracted field. PUBLIC
// values stay in clear, searchable form; everything else is sealed.
type StoredField struct {
	Key        string                 `json:"key"`
	Type       string                 `json:"type"`
	Level      pii.Level              `json:"level"`
	Confidence float64                `json:"confidence"`
	Value      string                 `json:"value,omitempty"`
	Sealed     *sealed.CipherEnvelope `json:"sealed,omitempty"`
}

// StoredEntities is the persisted form of one recognizer's value list.
type StoredEntities struct {
	Kind   string                 `json:"kind"`
	Level  pii.Level              `json:"level"`
	Values []string               `json:"values,omitempty"`
	Sealed *sealed.CipherEnvelope `json:"sealed,omitempty"`
}

// FieldView is a decrypted field as returned to the owner.
type FieldView struct {
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Type       string    `json:"type"`
	Level      pii.Level `json:"level"`
	Confidence float64   `json:"confidence"`
}

// EntityView is a decrypted entity list as returned to the owner.
type EntityView struct {
	Kind   string    `json:"kind"`
	Level  pii.Level `json:"level"`
	Values []string  `json:"values"`
}

// DocumentResult is the decrypted extraction output for a document.
type DocumentResult struct {
	DocumentID    uuid.UUID    `json:"document_id"`
	Path          string       `json:"path"`
	Confidence    float64      `json:"confidence"`
	Fields        []FieldView  `json:"fields"`
	Entities      []EntityView `json:"entities"`
	EngineVersion string       `json:"engine_version,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// StatusStatistics is the per-status document count.
type StatusStatistics struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

func (s *DocumentService) confidenceBand(confidence float64) string {
	switch {
	case confidence >= s.cfg.Pipeline.GoodEnoughConfidence:
		return ConfidenceBandHigh
	case confidence >= s.cfg.Pipeline.LowConfidence:
		return ConfidenceBandAcceptable
	default:
		return ConfidenceBandLow
	}
}
