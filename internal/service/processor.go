package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/formahead/docproc/internal/classify"
	"github.com/formahead/docproc/internal/filestore"
	"github.com/formahead/docproc/internal/ocr"
	"github.com/formahead/docproc/internal/queue"
	"github.com/formahead/docproc/internal/store"
	"github.com/formahead/docproc/internal/store/model"
	"github.com/formahead/docproc/pkg/metrics"
)

// Recognizer is the OCR capability the processor needs: page
// recognition plus PDF rasterization.
type Recognizer interface {
	ocr.Engine
	RasterizePDF(ctx context.Context, data []byte) ([][]byte, error)
}

// JobProcessor executes queued OCR jobs end-to-end: preprocess,
// recognize, extract, classify, seal, persist. It implements
// queue.Processor.
type JobProcessor struct {
	service      *DocumentService
	engine       Recognizer
	preprocessor *ocr.Preprocessor
	language     string
	dpi          int
	log          *zap.SugaredLogger
}

var _ queue.Processor = (*JobProcessor)(nil)

func NewJobProcessor(svc *DocumentService, engine Recognizer) *JobProcessor {
	return &JobProcessor{
		service:      svc,
		engine:       engine,
		preprocessor: ocr.NewPreprocessor(),
		language:     svc.cfg.OCR.Language,
		dpi:          svc.cfg.OCR.DPI,
		log:          zap.S().Named("job_processor"),
	}
}

// Process runs one attempt. Retryable failures come back as plain
// errors; non-retryable ones are wrapped with queue.Fatal.
func (p *JobProcessor) Process(ctx context.Context, job *model.Job) error {
	doc, err := p.service.store.Document().Get(ctx, job.DocumentID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			// document deleted while queued, nothing left to do
			return queue.Fatal(err)
		}
		return err
	}

	doc, err = p.service.transition(ctx, doc, model.DocumentStatusProcessing, "")
	if err != nil {
		return fmt.Errorf("marking document processing: %w", err)
	}

	content, err := p.service.readContent(ctx, doc)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			return queue.Fatal(err)
		}
		return err
	}

	text, confidence, engineVersion, err := p.recognize(ctx, content)
	if err != nil {
		return p.mapError(err)
	}

	extraction := p.service.extractor.Extract(text, confidence)
	if _, err := p.service.PersistResult(ctx, doc, text, extraction, model.ProcessingPathQueued, engineVersion, p.dpi); err != nil {
		if errors.Is(err, store.ErrConcurrentWrite) {
			// a reprocess superseded this attempt, drop the stale result
			p.log.Infow("discarding stale result", "document", doc.ID, "job", job.ID)
			return nil
		}
		return err
	}

	metrics.IncreaseDocumentsProcessedMetric(model.ProcessingPathQueued, model.DocumentStatusProcessed)
	return nil
}

// Abandon marks the parent document failed once the job is out of
// retries.
func (p *JobProcessor) Abandon(ctx context.Context, job *model.Job, cause error) error {
	doc, err := p.service.store.Document().Get(ctx, job.DocumentID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	reason := failureReason(cause)
	if _, err := p.service.transition(ctx, doc, model.DocumentStatusFailed, reason); err != nil {
		if errors.Is(err, store.ErrConcurrentWrite) {
			// someone else moved the document on, leave it alone
			return nil
		}
		return err
	}
	metrics.IncreaseDocumentsProcessedMetric(model.ProcessingPathQueued, model.DocumentStatusFailed)
	return nil
}

// recognize runs OCR over the whole document: every page of a PDF, or
// the single image. Pages are normalized before recognition and the
// document confidence is the mean page confidence.
func (p *JobProcessor) recognize(ctx context.Context, content []byte) (string, float64, string, error) {
	format, err := p.service.classifier.Resolve(content)
	if err != nil {
		return "", 0, "", err
	}

	pages := [][]byte{content}
	if format.Name() == "pdf" {
		pages, err = p.engine.RasterizePDF(ctx, content)
		if err != nil {
			return "", 0, "", err
		}
	}

	var texts []string
	var confidenceSum float64
	engineVersion := ""
	for _, page := range pages {
		image := page
		if normalized, err := p.preprocessor.Normalize(page); err == nil {
			image = normalized
		}
		result, err := p.engine.Recognize(ctx, image, p.language)
		if err != nil {
			return "", 0, "", err
		}
		texts = append(texts, result.Text)
		confidenceSum += result.Confidence
		if engineVersion == "" {
			engineVersion = result.EngineVersion
		}
	}

	confidence := 0.0
	if len(pages) > 0 {
		confidence = confidenceSum / float64(len(pages))
	}
	return strings.Join(texts, "\n\f\n"), confidence, engineVersion, nil
}

// mapError decides retryability. Unsupported formats and fatal engine
// errors burn no further attempts.
func (p *JobProcessor) mapError(err error) error {
	switch {
	case errors.Is(err, classify.ErrUnsupportedFormat):
		return queue.Fatal(err)
	case ocr.IsTransient(err):
		return err
	default:
		var engineErr *ocr.EngineError
		if errors.As(err, &engineErr) {
			return queue.Fatal(err)
		}
		return err
	}
}

// failureReason maps a terminal cause to its user-facing reason class.
func failureReason(err error) string {
	var engineErr *ocr.EngineError
	switch {
	case errors.Is(err, classify.ErrUnsupportedFormat):
		return FailureReasonUnsupportedFormat
	case errors.Is(err, context.DeadlineExceeded):
		return FailureReasonTimeout
	case errors.As(err, &engineErr):
		return FailureReasonOCRFailed
	case errors.Is(err, filestore.ErrNotFound):
		return FailureReasonStorage
	default:
		return FailureReasonInternal
	}
}
