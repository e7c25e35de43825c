package service

import (
	"fmt"

	"github.com/google/uuid"
)

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(id uuid.UUID, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %s not found", resourceType, id)}
}

func NewErrDocumentNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "document")
}

func NewErrResultNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "extraction result for document")
}

type ErrUnsupportedFormat struct {
	error
}

func NewErrUnsupportedFormat(message string) *ErrUnsupportedFormat {
	return &ErrUnsupportedFormat{fmt.Errorf("unsupported document format: %s", message)}
}

type ErrFileTooLarge struct {
	error
}

func NewErrFileTooLarge(size, limit int64) *ErrFileTooLarge {
	return &ErrFileTooLarge{fmt.Errorf("file of %d bytes exceeds the %d byte limit", size, limit)}
}

type ErrDocumentNotReady struct {
	error
}

func NewErrDocumentNotReady(id uuid.UUID, status string) *ErrDocumentNotReady {
	return &ErrDocumentNotReady{fmt.Errorf("document %s has no result yet, status is %s", id, status)}
}

// Reprocess guard violations.

type ErrAttemptBudgetExhausted struct {
	error
}

func NewErrAttemptBudgetExhausted(id uuid.UUID, attempts int) *ErrAttemptBudgetExhausted {
	return &ErrAttemptBudgetExhausted{fmt.Errorf("document %s used all %d reprocess attempts", id, attempts)}
}

type ErrReprocessInFlight struct {
	error
}

func NewErrReprocessInFlight(id uuid.UUID) *ErrReprocessInFlight {
	return &ErrReprocessInFlight{fmt.Errorf("document %s is already being processed", id)}
}

type ErrConfidenceSufficient struct {
	error
}

func NewErrConfidenceSufficient(id uuid.UUID, confidence float64) *ErrConfidenceSufficient {
	return &ErrConfidenceSufficient{fmt.Errorf("document %s already extracted with confidence %.2f", id, confidence)}
}
