package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/formahead/docproc/internal/classify"
	"github.com/formahead/docproc/internal/config"
	"github.com/formahead/docproc/internal/extract"
	"github.com/formahead/docproc/internal/filestore"
	"github.com/formahead/docproc/internal/pii"
	"github.com/formahead/docproc/internal/sealed"
	"github.com/formahead/docproc/internal/service/mappers"
	"github.com/formahead/docproc/internal/store"
	"github.com/formahead/docproc/internal/store/model"
	"github.com/formahead/docproc/pkg/metrics"
)

// Failure reason classes recorded on documents. User-facing, never a
// raw error chain.
const (
	FailureReasonUnsupportedFormat = "unsupported_format"
	FailureReasonOCRFailed         = "ocr_failed"
	FailureReasonTimeout           = "timeout"
	FailureReasonStorage           = "storage_unavailable"
	FailureReasonInternal          = "internal"
)

// Publisher is the slice of the event producer the service needs.
type Publisher interface {
	Write(ctx context.Context, kind string, body io.Reader) error
}

// DocumentService orchestrates the ingestion pipeline: classification,
// routing between the synchronous and queued paths, and the document
// state machine.
type DocumentService struct {
	store      store.Store
	files      filestore.Storage
	classifier *classify.Classifier
	extractor  *extract.Extractor
	labels     *pii.Classifier
	keys       sealed.KeyProvider
	publisher  Publisher
	cfg        *config.Config
	log        *zap.SugaredLogger
}

type DocumentServiceOption func(*DocumentService)

// WithPublisher emits document state transition events.
func WithPublisher(pub Publisher) DocumentServiceOption {
	return func(s *DocumentService) {
		s.publisher = pub
	}
}

func NewDocumentService(st store.Store, files filestore.Storage, keys sealed.KeyProvider, cfg *config.Config, opts ...DocumentServiceOption) *DocumentService {
	s := &DocumentService{
		store:      st,
		files:      files,
		classifier: classify.NewClassifier(cfg.Pipeline.MinCharsPerPage, cfg.Pipeline.MinMeaningfulRatio),
		extractor:  extract.NewExtractor(cfg.Pipeline.ZeroMatchDiscount),
		labels:     pii.NewClassifier(),
		keys:       keys,
		cfg:        cfg,
		log:        zap.S().Named("document_service"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit ingests an upload: the file is stored, classified, and routed.
// Text-native documents are extracted inline and come back terminal;
// scanned documents come back QUEUED with a job waiting for a worker.
func (s *DocumentService) Submit(ctx context.Context, form mappers.DocumentUploadForm) (*model.Document, error) {
	size := int64(len(form.Content))
	if limit := s.cfg.Storage.MaxFileSize; limit > 0 && size > limit {
		return nil, NewErrFileTooLarge(size, limit)
	}

	id := uuid.New()
	location := fmt.Sprintf("%s/%s", form.OwnerID, id)
	if err := s.files.Put(ctx, location, bytes.NewReader(form.Content), size, form.ContentType); err != nil {
		if errors.Is(err, filestore.ErrTooLarge) {
			return nil, NewErrFileTooLarge(size, s.cfg.Storage.MaxFileSize)
		}
		return nil, fmt.Errorf("storing upload: %w", err)
	}

	doc, err := s.store.Document().Create(ctx, form.ToDocument(id, location))
	if err != nil {
		return nil, err
	}

	verdict, err := s.classifier.Classify(form.Content)
	if err != nil {
		// classification failures are terminal, no retry
		if failed, terr := s.transition(ctx, doc, model.DocumentStatusFailed, FailureReasonUnsupportedFormat); terr == nil {
			doc = failed
		}
		metrics.IncreaseDocumentsProcessedMetric(model.ProcessingPathSync, model.DocumentStatusFailed)
		return doc, NewErrUnsupportedFormat(err.Error())
	}

	doc.Kind = string(verdict.Kind)
	doc.PageCount = verdict.PageCount
	doc, err = s.transition(ctx, doc, model.DocumentStatusClassified, "")
	if err != nil {
		return nil, err
	}

	switch verdict.Kind {
	case classify.KindTextNative:
		return s.runSyncPath(ctx, doc, form.Content)
	default:
		return s.enqueue(ctx, doc, model.JobPriorityDefault, model.DocumentStatusQueued)
	}
}

// GetStatus returns the current state of a document. Safe to call any
// number of times; it never changes state.
func (s *DocumentService) GetStatus(ctx context.Context, id uuid.UUID) (*DocumentStatus, error) {
	doc, err := s.store.Document().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrDocumentNotFound(id)
		}
		return nil, err
	}
	view := s.StatusView(doc)
	return &view, nil
}

// StatusView maps a document to its user-facing status, including the
// confidence band once a result exists.
func (s *DocumentService) StatusView(doc *model.Document) DocumentStatus {
	view := DocumentStatus{
		ID:                doc.ID,
		Filename:          doc.Filename,
		Status:            doc.Status,
		Kind:              doc.Kind,
		PageCount:         doc.PageCount,
		Confidence:        doc.Confidence,
		ReprocessAttempts: doc.ReprocessAttempts,
		LastProcessedAt:   doc.LastProcessedAt,
		CreatedAt:         doc.CreatedAt,
	}
	if doc.FailureReason != nil {
		view.FailureReason = *doc.FailureReason
	}
	if doc.Status == model.DocumentStatusProcessed {
		view.ConfidenceBand = s.confidenceBand(doc.Confidence)
		view.LowConfidence = doc.Confidence < s.cfg.Pipeline.LowConfidence
	}
	return view
}

// ListFilter narrows List results.
type ListFilter struct {
	OwnerID string
	Status  string
	Kind    string
	Limit   int
	Offset  int
}

func (s *DocumentService) List(ctx context.Context, filter ListFilter) ([]DocumentStatus, error) {
	storeFilter := store.NewDocumentQueryFilter()
	if filter.OwnerID != "" {
		storeFilter = storeFilter.ByOwnerID(filter.OwnerID)
	}
	if filter.Status != "" {
		storeFilter = storeFilter.ByStatus(filter.Status)
	}
	if filter.Kind != "" {
		storeFilter = storeFilter.ByKind(filter.Kind)
	}

	opts := store.NewDocumentQueryOptions().WithSortOrder(store.SortByCreatedTime)
	if filter.Limit > 0 {
		opts = opts.WithLimit(filter.Limit)
	}
	if filter.Offset > 0 {
		opts = opts.WithOffset(filter.Offset)
	}

	docs, err := s.store.Document().List(ctx, storeFilter, opts)
	if err != nil {
		return nil, err
	}

	views := make([]DocumentStatus, 0, len(docs))
	for i := range docs {
		views = append(views, s.StatusView(&docs[i]))
	}
	return views, nil
}

// GetResult returns the latest extraction output with every sealed
// value opened under the owner's key.
func (s *DocumentService) GetResult(ctx context.Context, id uuid.UUID) (*DocumentResult, error) {
	doc, err := s.store.Document().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrDocumentNotFound(id)
		}
		return nil, err
	}

	result, err := s.store.ExtractionResult().Latest(ctx, doc.ID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrDocumentNotReady(id, doc.Status)
		}
		return nil, err
	}

	return s.openResult(doc, result)
}

// Reprocess re-runs extraction for a terminal document at elevated
// priority, bounded by the attempt budget.
func (s *DocumentService) Reprocess(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	doc, err := s.store.Document().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrDocumentNotFound(id)
		}
		return nil, err
	}

	switch doc.Status {
	case model.DocumentStatusProcessed, model.DocumentStatusFailed:
	default:
		return nil, NewErrReprocessInFlight(id)
	}
	if _, err := s.store.Job().ActiveForDocument(ctx, doc.ID); err == nil {
		return nil, NewErrReprocessInFlight(id)
	} else if !errors.Is(err, store.ErrRecordNotFound) {
		return nil, err
	}
	if doc.ReprocessAttempts >= s.cfg.Pipeline.MaxReprocessAttempts {
		return nil, NewErrAttemptBudgetExhausted(id, doc.ReprocessAttempts)
	}
	if doc.Status == model.DocumentStatusProcessed && doc.Confidence >= s.cfg.Pipeline.GoodEnoughConfidence {
		return nil, NewErrConfidenceSufficient(id, doc.Confidence)
	}

	doc.ReprocessAttempts++
	doc.FailureReason = nil
	doc, err = s.transition(ctx, doc, model.DocumentStatusReprocessing, "")
	if err != nil {
		return nil, err
	}

	if doc.Kind == model.DocumentKindTextNative {
		content, err := s.readContent(ctx, doc)
		if err != nil {
			return nil, err
		}
		return s.runSyncPath(ctx, doc, content)
	}
	return s.enqueue(ctx, doc, model.JobPriorityReprocess, model.DocumentStatusQueued)
}

// Delete removes the stored file and tombstones the document.
func (s *DocumentService) Delete(ctx context.Context, id uuid.UUID) error {
	doc, err := s.store.Document().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return NewErrDocumentNotFound(id)
		}
		return err
	}
	if err := s.files.Delete(ctx, doc.Location); err != nil {
		s.log.Warnw("failed to delete stored file", "document", id, "location", doc.Location, "error", err)
	}
	if err := s.store.Document().Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return NewErrDocumentNotFound(id)
		}
		return err
	}
	return nil
}

// Statistics reports per-status document counts and refreshes the
// status gauges.
func (s *DocumentService) Statistics(ctx context.Context) (*StatusStatistics, error) {
	counts, err := s.store.Document().CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	total := 0
	for status, count := range counts {
		metrics.UpdateDocumentStatusCountMetric(status, count)
		total += count
	}
	return &StatusStatistics{Counts: counts, Total: total}, nil
}

func (s *DocumentService) readContent(ctx context.Context, doc *model.Document) ([]byte, error) {
	reader, err := s.files.Get(ctx, doc.Location)
	if err != nil {
		return nil, fmt.Errorf("reading stored file: %w", err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (s *DocumentService) enqueue(ctx context.Context, doc *model.Document, priority int, toStatus string) (*model.Document, error) {
	if _, err := s.store.Job().Enqueue(ctx, doc.ID, priority, nowUTC()); err != nil {
		if !errors.Is(err, store.ErrDuplicateKey) {
			return nil, fmt.Errorf("enqueuing job: %w", err)
		}
	}
	return s.transition(ctx, doc, toStatus, "")
}
