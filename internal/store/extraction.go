package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/formahead/docproc/internal/store/model"
	"gorm.io/gorm"
)

type ExtractionResult interface {
	Create(ctx context.Context, result model.ExtractionResult) (*model.ExtractionResult, error)
	Latest(ctx context.Context, documentID uuid.UUID) (*model.ExtractionResult, error)
	History(ctx context.Context, documentID uuid.UUID) (model.ExtractionResultList, error)
	InitialMigration(ctx context.Context) error
}

type ExtractionResultStore struct {
	db *gorm.DB
}

// Make sure we conform to ExtractionResult interface
var _ ExtractionResult = (*ExtractionResultStore)(nil)

func NewExtractionResultStore(db *gorm.DB) ExtractionResult {
	return &ExtractionResultStore{db: db}
}

func (s *ExtractionResultStore) InitialMigration(ctx context.Context) error {
	return s.getDB(ctx).AutoMigrate(&model.ExtractionResult{})
}

func (s *ExtractionResultStore) Create(ctx context.Context, result model.ExtractionResult) (*model.ExtractionResult, error) {
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	if res := s.getDB(ctx).Create(&result); res.Error != nil {
		return nil, fmt.Errorf("creating extraction result: %w", res.Error)
	}
	return &result, nil
}

func (s *ExtractionResultStore) Latest(ctx context.Context, documentID uuid.UUID) (*model.ExtractionResult, error) {
	var result model.ExtractionResult
	res := s.getDB(ctx).
		Where("document_id = ?", documentID).
		Order("created_at DESC").
		First(&result)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying extraction result: %w", res.Error)
	}
	return &result, nil
}

// History returns all results for a document, oldest first. Rows are never
// mutated after creation.
func (s *ExtractionResultStore) History(ctx context.Context, documentID uuid.UUID) (model.ExtractionResultList, error) {
	var results model.ExtractionResultList
	res := s.getDB(ctx).
		Where("document_id = ?", documentID).
		Order("created_at ASC").
		Find(&results)
	if res.Error != nil {
		return nil, fmt.Errorf("querying extraction history: %w", res.Error)
	}
	return results, nil
}

func (s *ExtractionResultStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
