package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/formahead/docproc/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Document interface {
	Create(ctx context.Context, doc model.Document) (*model.Document, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Document, error)
	List(ctx context.Context, filter *DocumentQueryFilter, opts *DocumentQueryOptions) (model.DocumentList, error)
	Update(ctx context.Context, doc *model.Document) (*model.Document, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CountByStatus(ctx context.Context) (map[string]int, error)
	InitialMigration(ctx context.Context) error
}

type DocumentStore struct {
	db *gorm.DB
}

// Make sure we conform to Document interface
var _ Document = (*DocumentStore)(nil)

func NewDocumentStore(db *gorm.DB) Document {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) InitialMigration(ctx context.Context) error {
	return s.getDB(ctx).AutoMigrate(&model.Document{})
}

func (s *DocumentStore) Create(ctx context.Context, doc model.Document) (*model.Document, error) {
	result := s.getDB(ctx).Create(&doc)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating document: %w", result.Error)
	}
	return &doc, nil
}

func (s *DocumentStore) Get(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	var doc model.Document
	result := s.getDB(ctx).First(&doc, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying document: %w", result.Error)
	}
	return &doc, nil
}

func (s *DocumentStore) List(ctx context.Context, filter *DocumentQueryFilter, opts *DocumentQueryOptions) (model.DocumentList, error) {
	var docs model.DocumentList
	tx := s.getDB(ctx)

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	if result := tx.Model(&docs).Find(&docs); result.Error != nil {
		return nil, fmt.Errorf("listing documents: %w", result.Error)
	}
	return docs, nil
}

// Update writes the document back guarded by its optimistic version. The
// caller must pass the document as read; a concurrent writer that bumped the
// version since then makes this call fail with ErrConcurrentWrite so a stale
// in-flight result is discarded instead of clobbering the newer state.
func (s *DocumentStore) Update(ctx context.Context, doc *model.Document) (*model.Document, error) {
	expectedVersion := doc.Version
	doc.Version = expectedVersion + 1

	result := s.getDB(ctx).Model(doc).
		Clauses(clause.Returning{}).
		Where("id = ? AND version = ?", doc.ID, expectedVersion).
		Select("status", "kind", "confidence", "failure_reason", "reprocess_attempts",
			"last_processed_at", "page_count", "version").
		Updates(doc)
	if result.Error != nil {
		return nil, fmt.Errorf("updating document: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrConcurrentWrite
	}
	return doc, nil
}

// Delete tombstones the document; gorm soft delete keeps the row so
// extraction history stays attributable.
func (s *DocumentStore) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.getDB(ctx).Delete(&model.Document{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("deleting document: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *DocumentStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Status string
		Count  int
	}
	result := s.getDB(ctx).Model(&model.Document{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("counting documents: %w", result.Error)
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func (s *DocumentStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
