package store

import (
	"context"

	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Document() Document
	ExtractionResult() ExtractionResult
	Job() Job
	InitialMigration(ctx context.Context) error
	Close() error
}

type DataStore struct {
	db        *gorm.DB
	document  Document
	extracted ExtractionResult
	job       Job
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:        db,
		document:  NewDocumentStore(db),
		extracted: NewExtractionResultStore(db),
		job:       NewJobStore(db),
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Document() Document {
	return s.document
}

func (s *DataStore) ExtractionResult() ExtractionResult {
	return s.extracted
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) InitialMigration(ctx context.Context) error {
	if err := s.document.InitialMigration(ctx); err != nil {
		return err
	}
	if err := s.extracted.InitialMigration(ctx); err != nil {
		return err
	}
	return s.job.InitialMigration(ctx)
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
