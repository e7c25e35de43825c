package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/formahead/docproc/internal/classify"
	"github.com/formahead/docproc/internal/events"
	"github.com/formahead/docproc/internal/extract"
	"github.com/formahead/docproc/internal/sealed"
	"github.com/formahead/docproc/internal/store"
	"github.com/formahead/docproc/internal/store/model"
	"github.com/formahead/docproc/pkg/metrics"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// runSyncPath extracts a text-native document inline. Terminal within
// the same call: the document comes back PROCESSED or FAILED.
func (s *DocumentService) runSyncPath(ctx context.Context, doc *model.Document, content []byte) (*model.Document, error) {
	doc, err := s.transition(ctx, doc, model.DocumentStatusSyncProcessing, "")
	if err != nil {
		return nil, err
	}

	text, err := s.extractText(content)
	if err != nil {
		s.log.Errorw("synchronous extraction failed", "document", doc.ID, "error", err)
		metrics.IncreaseDocumentsProcessedMetric(model.ProcessingPathSync, model.DocumentStatusFailed)
		if failed, terr := s.transition(ctx, doc, model.DocumentStatusFailed, FailureReasonInternal); terr == nil {
			doc = failed
		}
		return doc, nil
	}

	extraction := s.extractor.Extract(text, s.cfg.Pipeline.TextNativeConfidence)
	updated, err := s.PersistResult(ctx, doc, text, extraction, model.ProcessingPathSync, "", 0)
	if err != nil {
		s.log.Errorw("failed to persist synchronous result", "document", doc.ID, "error", err)
		metrics.IncreaseDocumentsProcessedMetric(model.ProcessingPathSync, model.DocumentStatusFailed)
		// the failed write left the in-memory copy ahead of the row
		if fresh, gerr := s.store.Document().Get(ctx, doc.ID); gerr == nil {
			doc = fresh
		}
		if failed, terr := s.transition(ctx, doc, model.DocumentStatusFailed, FailureReasonInternal); terr == nil {
			doc = failed
		}
		return doc, nil
	}
	metrics.IncreaseDocumentsProcessedMetric(model.ProcessingPathSync, model.DocumentStatusProcessed)
	return updated, nil
}

func (s *DocumentService) extractText(content []byte) (string, error) {
	format, err := s.classifier.Resolve(content)
	if err != nil {
		return "", err
	}
	extractor, ok := format.(classify.TextExtractor)
	if !ok {
		return "", fmt.Errorf("format %s has no text layer", format.Name())
	}
	return extractor.ExtractText(content)
}

// PersistResult seals the extraction output and writes the result row
// and the terminal document state in one transaction. A concurrent
// version bump makes it fail with ErrConcurrentWrite, in which case the
// result is discarded as stale.
func (s *DocumentService) PersistResult(ctx context.Context, doc *model.Document, rawText string, extraction *extract.Result, path, engineVersion string, dpi int) (*model.Document, error) {
	key, err := s.keys.KeyFor(doc.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("resolving owner key: %w", err)
	}

	fields, err := s.sealFields(extraction.Fields, key)
	if err != nil {
		return nil, err
	}
	entities, err := s.sealEntities(extraction.Entities, key)
	if err != nil {
		return nil, err
	}
	sealedText, err := sealed.Seal([]byte(rawText), key)
	if err != nil {
		return nil, fmt.Errorf("sealing raw text: %w", err)
	}
	rawTextJSON, err := json.Marshal(sealedText)
	if err != nil {
		return nil, err
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	entitiesJSON, err := json.Marshal(entities)
	if err != nil {
		return nil, err
	}

	txCtx, err := s.store.NewTransactionContext(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.ExtractionResult().Create(txCtx, model.ExtractionResult{
		DocumentID:    doc.ID,
		RawText:       rawTextJSON,
		Fields:        fieldsJSON,
		Entities:      entitiesJSON,
		Confidence:    extraction.Confidence,
		Path:          path,
		EngineVersion: engineVersion,
		DPI:           dpi,
	}); err != nil {
		_, _ = store.Rollback(txCtx)
		return nil, err
	}

	from := doc.Status
	now := nowUTC()
	doc.Status = model.DocumentStatusProcessed
	doc.Confidence = extraction.Confidence
	doc.LastProcessedAt = &now
	updated, err := s.store.Document().Update(txCtx, doc)
	if err != nil {
		_, _ = store.Rollback(txCtx)
		return nil, err
	}
	if _, err := store.Commit(txCtx); err != nil {
		return nil, err
	}

	s.emitStateChange(ctx, updated, from, model.DocumentStatusProcessed, "")
	return updated, nil
}

func (s *DocumentService) sealFields(fields []extract.Field, key []byte) ([]StoredField, error) {
	stored := make([]StoredField, 0, len(fields))
	for _, field := range fields {
		level := s.labels.Classify(field.Key, field.Value)
		sf := StoredField{
			Key:        field.Key,
			Type:       string(field.Type),
			Level:      level,
			Confidence: field.Confidence,
		}
		if level.RequiresSealing() {
			envelope, err := sealed.Seal([]byte(field.Value), key)
			if err != nil {
				return nil, fmt.Errorf("sealing field %s: %w", field.Key, err)
			}
			sf.Sealed = envelope
		} else {
			sf.Value = field.Value
		}
		stored = append(stored, sf)
	}
	return stored, nil
}

func (s *DocumentService) sealEntities(entities extract.Entities, key []byte) ([]StoredEntities, error) {
	kinds := make([]string, 0, len(entities))
	for kind := range entities {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	stored := make([]StoredEntities, 0, len(kinds))
	for _, kind := range kinds {
		values := entities[extract.EntityKind(kind)]
		if len(values) == 0 {
			continue
		}
		level := s.labels.Classify(kind, values[0])
		se := StoredEntities{Kind: kind, Level: level}
		if level.RequiresSealing() {
			payload, err := json.Marshal(values)
			if err != nil {
				return nil, err
			}
			envelope, err := sealed.Seal(payload, key)
			if err != nil {
				return nil, fmt.Errorf("sealing %s entities: %w", kind, err)
			}
			se.Sealed = envelope
		} else {
			se.Values = values
		}
		stored = append(stored, se)
	}
	return stored, nil
}

// openResult decrypts a stored result under the owner's key.
func (s *DocumentService) openResult(doc *model.Document, result *model.ExtractionResult) (*DocumentResult, error) {
	key, err := s.keys.KeyFor(doc.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("resolving owner key: %w", err)
	}

	var storedFields []StoredField
	if len(result.Fields) > 0 {
		if err := json.Unmarshal(result.Fields, &storedFields); err != nil {
			return nil, fmt.Errorf("decoding stored fields: %w", err)
		}
	}
	fields := make([]FieldView, 0, len(storedFields))
	for _, sf := range storedFields {
		view := FieldView{
			Key:        sf.Key,
			Type:       sf.Type,
			Level:      sf.Level,
			Confidence: sf.Confidence,
			Value:      sf.Value,
		}
		if sf.Sealed != nil {
			payload, err := sealed.Open(sf.Sealed, key)
			if err != nil {
				return nil, fmt.Errorf("opening field %s: %w", sf.Key, err)
			}
			view.Value = string(payload)
		}
		fields = append(fields, view)
	}

	var storedEntities []StoredEntities
	if len(result.Entities) > 0 {
		if err := json.Unmarshal(result.Entities, &storedEntities); err != nil {
			return nil, fmt.Errorf("decoding stored entities: %w", err)
		}
	}
	entityViews := make([]EntityView, 0, len(storedEntities))
	for _, se := range storedEntities {
		view := EntityView{Kind: se.Kind, Level: se.Level, Values: se.Values}
		if se.Sealed != nil {
			payload, err := sealed.Open(se.Sealed, key)
			if err != nil {
				return nil, fmt.Errorf("opening %s entities: %w", se.Kind, err)
			}
			if err := json.Unmarshal(payload, &view.Values); err != nil {
				return nil, fmt.Errorf("decoding %s entities: %w", se.Kind, err)
			}
		}
		entityViews = append(entityViews, view)
	}

	return &DocumentResult{
		DocumentID:    doc.ID,
		Path:          result.Path,
		Confidence:    result.Confidence,
		Fields:        fields,
		Entities:      entityViews,
		EngineVersion: result.EngineVersion,
		CreatedAt:     result.CreatedAt,
	}, nil
}

// transition writes a status change guarded by the document version and
// emits the corresponding event.
func (s *DocumentService) transition(ctx context.Context, doc *model.Document, to, reason string) (*model.Document, error) {
	from := doc.Status
	doc.Status = to
	if reason != "" {
		doc.FailureReason = &reason
	}
	updated, err := s.store.Document().Update(ctx, doc)
	if err != nil {
		return nil, err
	}
	s.emitStateChange(ctx, updated, from, to, reason)
	return updated, nil
}

func (s *DocumentService) emitStateChange(ctx context.Context, doc *model.Document, from, to, reason string) {
	s.log.Infow("document state changed", "document", doc.ID, "from", from, "to", to, "reason", reason)
	if s.publisher == nil {
		return
	}
	body, err := json.Marshal(events.DocumentStateEvent{
		DocumentID: doc.ID.String(),
		OwnerID:    doc.OwnerID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		Timestamp:  nowUTC(),
	})
	if err != nil {
		return
	}
	if err := s.publisher.Write(ctx, events.DocumentStateMessageKind, bytes.NewReader(body)); err != nil {
		s.log.Warnw("failed to publish state event", "document", doc.ID, "error", err)
	}
}
