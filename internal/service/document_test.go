package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/formahead/docproc/internal/config"
	"github.com/formahead/docproc/internal/filestore"
	"github.com/formahead/docproc/internal/ocr"
	"github.com/formahead/docproc/internal/pii"
	"github.com/formahead/docproc/internal/sealed"
	"github.com/formahead/docproc/internal/service"
	"github.com/formahead/docproc/internal/service/mappers"
	"github.com/formahead/docproc/internal/store"
	"github.com/formahead/docproc/internal/store/model"
)

const ocrLetter = `Patient Intake Form
Name: Dr. Jane Smith
Email: jane.smith@example.com
Phone: (555) 123-4567
SSN: 123-45-6789
Date: 2024-01-15
Amount Due: $1,250.00`

var pdfLetterLines = []string{
	"Invoice 2024-0017",
	"Name: Dr. Jane Smith",
	"Email: jane.smith@example.com",
	"Phone: (555) 123-4567",
	"SSN: 123-45-6789",
	"Date: 2024-01-15",
	"Amount Due: $1,250.00",
	"Ship To: 742 Evergreen Terrace",
}

var _ = Describe("document service", Ordered, func() {
	var (
		cfg   *config.Config
		s     store.Store
		gormD *gorm.DB
		files filestore.Storage
		keys  sealed.KeyProvider
		svc   *service.DocumentService
		ctx   context.Context
	)

	BeforeAll(func() {
		ctx = context.TODO()
		cfg = newTestConfig()
		s, gormD = newTestStore(cfg)
		files = newTestFiles()
		keys = newTestKeys()
		svc = service.NewDocumentService(s, files, keys, cfg)
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormD.Exec("DELETE FROM jobs;")
		gormD.Exec("DELETE FROM extraction_results;")
		gormD.Exec("DELETE FROM documents;")
	})

	submitPDF := func(owner string) *model.Document {
		doc, err := svc.Submit(ctx, mappers.DocumentUploadForm{
			OwnerID:     owner,
			Filename:    "letter.pdf",
			ContentType: "application/pdf",
			Content:     buildPDF(pdfLetterLines),
		})
		Expect(err).To(BeNil())
		return doc
	}

	submitPNG := func(owner string) *model.Document {
		doc, err := svc.Submit(ctx, mappers.DocumentUploadForm{
			OwnerID:     owner,
			Filename:    "scan.png",
			ContentType: "image/png",
			Content:     buildPNG(),
		})
		Expect(err).To(BeNil())
		return doc
	}

	Context("submit", func() {
		It("extracts a text-native pdf inline and comes back terminal", func() {
			doc := submitPDF("org-1")
			Expect(doc.Status).To(Equal(model.DocumentStatusProcessed))
			Expect(doc.Kind).To(Equal(model.DocumentKindTextNative))
			Expect(doc.PageCount).To(Equal(1))
			Expect(doc.Confidence).To(BeNumerically(">=", 0.9))
			Expect(doc.LastProcessedAt).ToNot(BeNil())

			result, err := s.ExtractionResult().Latest(ctx, doc.ID)
			Expect(err).To(BeNil())
			Expect(result.Path).To(Equal(model.ProcessingPathSync))
		})

		It("queues a scanned image for a worker", func() {
			doc := submitPNG("org-1")
			Expect(doc.Status).To(Equal(model.DocumentStatusQueued))
			Expect(doc.Kind).To(Equal(model.DocumentKindScanned))

			job, err := s.Job().ActiveForDocument(ctx, doc.ID)
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusPending))
			Expect(job.Priority).To(Equal(model.JobPriorityDefault))
		})

		It("fails unrecognizable uploads without queuing anything", func() {
			doc, err := svc.Submit(ctx, mappers.DocumentUploadForm{
				OwnerID:     "org-1",
				Filename:    "garbage.bin",
				ContentType: "application/octet-stream",
				Content:     []byte("not a document at all"),
			})
			var unsupported *service.ErrUnsupportedFormat
			Expect(err).To(BeAssignableToTypeOf(unsupported))
			Expect(doc.Status).To(Equal(model.DocumentStatusFailed))
			Expect(doc.FailureReason).ToNot(BeNil())
			Expect(*doc.FailureReason).To(Equal(service.FailureReasonUnsupportedFormat))

			_, err = s.Job().ActiveForDocument(ctx, doc.ID)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})

		It("rejects uploads over the size limit before touching storage", func() {
			smallCfg := newTestConfig()
			smallCfg.Storage.MaxFileSize = 16
			smallSvc := service.NewDocumentService(s, files, keys, smallCfg)

			_, err := smallSvc.Submit(ctx, mappers.DocumentUploadForm{
				OwnerID:     "org-1",
				Filename:    "big.pdf",
				ContentType: "application/pdf",
				Content:     buildPDF(pdfLetterLines),
			})
			var tooLarge *service.ErrFileTooLarge
			Expect(err).To(BeAssignableToTypeOf(tooLarge))
		})
	})

	Context("results", func() {
		It("seals sensitive values at rest and opens them for the owner", func() {
			doc := submitPDF("org-2")

			raw, err := s.ExtractionResult().Latest(ctx, doc.ID)
			Expect(err).To(BeNil())
			Expect(string(raw.Fields)).ToNot(ContainSubstring("123-45-6789"))
			Expect(string(raw.RawText)).ToNot(ContainSubstring("Jane"))

			var storedFields []service.StoredField
			Expect(json.Unmarshal(raw.Fields, &storedFields)).To(Succeed())
			byKey := map[string]service.StoredField{}
			for _, f := range storedFields {
				byKey[f.Key] = f
			}
			Expect(byKey).To(HaveKey("ssn"))
			Expect(byKey["ssn"].Level).To(Equal(pii.LevelPII))
			Expect(byKey["ssn"].Value).To(BeEmpty())
			Expect(byKey["ssn"].Sealed).ToNot(BeNil())

			result, err := svc.GetResult(ctx, doc.ID)
			Expect(err).To(BeNil())
			opened := map[string]string{}
			for _, f := range result.Fields {
				opened[f.Key] = f.Value
			}
			Expect(opened["ssn"]).To(Equal("123-45-6789"))
			Expect(opened["email"]).To(Equal("jane.smith@example.com"))
			Expect(result.Entities).ToNot(BeEmpty())
		})

		It("refuses results for a document that has none yet", func() {
			doc := submitPNG("org-2")
			_, err := svc.GetResult(ctx, doc.ID)
			var notReady *service.ErrDocumentNotReady
			Expect(err).To(BeAssignableToTypeOf(notReady))
		})

		It("returns not found for unknown documents", func() {
			_, err := svc.GetResult(ctx, unknownID())
			var notFound *service.ErrResourceNotFound
			Expect(err).To(BeAssignableToTypeOf(notFound))
		})
	})

	Context("status", func() {
		It("reports the confidence band only once processed", func() {
			queued := submitPNG("org-3")
			view, err := svc.GetStatus(ctx, queued.ID)
			Expect(err).To(BeNil())
			Expect(view.Status).To(Equal(model.DocumentStatusQueued))
			Expect(view.ConfidenceBand).To(BeEmpty())

			processed := submitPDF("org-3")
			view, err = svc.GetStatus(ctx, processed.ID)
			Expect(err).To(BeNil())
			Expect(view.Status).To(Equal(model.DocumentStatusProcessed))
			Expect(view.ConfidenceBand).ToNot(BeEmpty())
		})

		It("lists documents filtered by owner and status", func() {
			submitPDF("org-a")
			submitPNG("org-a")
			submitPDF("org-b")

			views, err := svc.List(ctx, service.ListFilter{OwnerID: "org-a"})
			Expect(err).To(BeNil())
			Expect(views).To(HaveLen(2))

			views, err = svc.List(ctx, service.ListFilter{OwnerID: "org-a", Status: model.DocumentStatusQueued})
			Expect(err).To(BeNil())
			Expect(views).To(HaveLen(1))
		})

		It("counts documents per status", func() {
			submitPDF("org-c")
			submitPNG("org-c")

			stats, err := svc.Statistics(ctx)
			Expect(err).To(BeNil())
			Expect(stats.Total).To(Equal(2))
			Expect(stats.Counts[model.DocumentStatusProcessed]).To(Equal(1))
			Expect(stats.Counts[model.DocumentStatusQueued]).To(Equal(1))
		})
	})

	Context("reprocess", func() {
		It("refuses documents that are still in flight", func() {
			doc := submitPNG("org-4")
			_, err := svc.Reprocess(ctx, doc.ID)
			var inFlight *service.ErrReprocessInFlight
			Expect(err).To(BeAssignableToTypeOf(inFlight))
		})

		It("refuses documents that already extracted well enough", func() {
			doc := submitPDF("org-4")
			Expect(doc.Confidence).To(BeNumerically(">=", cfg.Pipeline.GoodEnoughConfidence))

			_, err := svc.Reprocess(ctx, doc.ID)
			var sufficient *service.ErrConfidenceSufficient
			Expect(err).To(BeAssignableToTypeOf(sufficient))
		})

		It("queues a failed scanned document at elevated priority", func() {
			doc := failScannedDocument(ctx, svc, s, "org-4")

			doc, err := svc.Reprocess(ctx, doc.ID)
			Expect(err).To(BeNil())
			Expect(doc.Status).To(Equal(model.DocumentStatusQueued))
			Expect(doc.ReprocessAttempts).To(Equal(1))
			Expect(doc.FailureReason).To(BeNil())

			job, err := s.Job().ActiveForDocument(ctx, doc.ID)
			Expect(err).To(BeNil())
			Expect(job.Priority).To(Equal(model.JobPriorityReprocess))
		})

		It("stops once the attempt budget is spent", func() {
			doc := failScannedDocument(ctx, svc, s, "org-4")
			doc.ReprocessAttempts = cfg.Pipeline.MaxReprocessAttempts
			_, err := s.Document().Update(ctx, doc)
			Expect(err).To(BeNil())

			_, err = svc.Reprocess(ctx, doc.ID)
			var exhausted *service.ErrAttemptBudgetExhausted
			Expect(err).To(BeAssignableToTypeOf(exhausted))
		})

		It("reports a spent budget before a sufficient confidence", func() {
			doc := submitPDF("org-4")
			Expect(doc.Status).To(Equal(model.DocumentStatusProcessed))
			Expect(doc.Confidence).To(BeNumerically(">=", cfg.Pipeline.GoodEnoughConfidence))

			doc.ReprocessAttempts = cfg.Pipeline.MaxReprocessAttempts
			_, err := s.Document().Update(ctx, doc)
			Expect(err).To(BeNil())

			_, err = svc.Reprocess(ctx, doc.ID)
			var exhausted *service.ErrAttemptBudgetExhausted
			Expect(err).To(BeAssignableToTypeOf(exhausted))
		})
	})

	Context("delete", func() {
		It("removes the stored file and tombstones the document", func() {
			doc := submitPDF("org-5")
			Expect(svc.Delete(ctx, doc.ID)).To(Succeed())

			_, err := svc.GetStatus(ctx, doc.ID)
			var notFound *service.ErrResourceNotFound
			Expect(err).To(BeAssignableToTypeOf(notFound))

			_, err = files.Get(ctx, doc.Location)
			Expect(err).To(MatchError(filestore.ErrNotFound))
		})
	})

	Context("job processor", func() {
		claim := func(doc *model.Document) *model.Job {
			job, err := s.Job().Claim(ctx, "worker-test", time.Minute, time.Now().UTC())
			Expect(err).To(BeNil())
			Expect(job.DocumentID).To(Equal(doc.ID))
			return job
		}

		It("runs a queued job to completion with sealed output", func() {
			doc := submitPNG("org-6")
			engine := &stubEngine{text: ocrLetter, confidence: 0.82}
			processor := service.NewJobProcessor(svc, engine)

			Expect(processor.Process(ctx, claim(doc))).To(Succeed())

			view, err := svc.GetStatus(ctx, doc.ID)
			Expect(err).To(BeNil())
			Expect(view.Status).To(Equal(model.DocumentStatusProcessed))

			result, err := svc.GetResult(ctx, doc.ID)
			Expect(err).To(BeNil())
			Expect(result.Path).To(Equal(model.ProcessingPathQueued))
			Expect(result.EngineVersion).To(Equal("tesseract"))
			opened := map[string]string{}
			for _, f := range result.Fields {
				opened[f.Key] = f.Value
			}
			Expect(opened["ssn"]).To(Equal("123-45-6789"))
		})

		It("flags low-confidence recognition on the status view", func() {
			doc := submitPNG("org-6")
			engine := &stubEngine{text: ocrLetter, confidence: 0.3}
			processor := service.NewJobProcessor(svc, engine)

			Expect(processor.Process(ctx, claim(doc))).To(Succeed())

			view, err := svc.GetStatus(ctx, doc.ID)
			Expect(err).To(BeNil())
			Expect(view.Status).To(Equal(model.DocumentStatusProcessed))
			Expect(view.LowConfidence).To(BeTrue())
			Expect(view.ConfidenceBand).To(Equal(service.ConfidenceBandLow))
		})

		It("surfaces transient engine failures as retryable", func() {
			doc := submitPNG("org-6")
			engine := &stubEngine{err: &ocr.EngineError{Transient: true, Err: context.DeadlineExceeded}}
			processor := service.NewJobProcessor(svc, engine)

			err := processor.Process(ctx, claim(doc))
			Expect(err).ToNot(BeNil())
			Expect(queueIsFatal(err)).To(BeFalse())

			view, viewErr := svc.GetStatus(ctx, doc.ID)
			Expect(viewErr).To(BeNil())
			Expect(view.Status).To(Equal(model.DocumentStatusProcessing))
		})

		It("marks corrupt input fatal so no attempts are wasted", func() {
			doc := submitPNG("org-6")
			engine := &stubEngine{err: &ocr.EngineError{Transient: false, Err: context.Canceled}}
			processor := service.NewJobProcessor(svc, engine)

			err := processor.Process(ctx, claim(doc))
			Expect(queueIsFatal(err)).To(BeTrue())
		})

		It("records the failure reason class when a job is abandoned", func() {
			doc := submitPNG("org-6")
			engine := &stubEngine{err: &ocr.EngineError{Transient: true, Err: context.DeadlineExceeded}}
			processor := service.NewJobProcessor(svc, engine)
			job := claim(doc)

			Expect(processor.Abandon(ctx, job, &ocr.EngineError{Err: errors.New("engine crashed")})).To(Succeed())

			view, err := svc.GetStatus(ctx, doc.ID)
			Expect(err).To(BeNil())
			Expect(view.Status).To(Equal(model.DocumentStatusFailed))
			Expect(view.FailureReason).To(Equal(service.FailureReasonOCRFailed))
		})
	})
})

// failScannedDocument produces a scanned document in the failed state,
// the starting point for the reprocess paths.
func failScannedDocument(ctx context.Context, svc *service.DocumentService, s store.Store, owner string) *model.Document {
	doc, err := svc.Submit(ctx, mappers.DocumentUploadForm{
		OwnerID:     owner,
		Filename:    "scan.png",
		ContentType: "image/png",
		Content:     buildPNG(),
	})
	Expect(err).To(BeNil())

	job, err := s.Job().Claim(ctx, "worker-fail", time.Minute, time.Now().UTC())
	Expect(err).To(BeNil())
	Expect(s.Job().Fail(ctx, job.ID, "worker-fail", "engine gave up", time.Now().UTC())).To(Succeed())

	processor := service.NewJobProcessor(svc, &stubEngine{})
	Expect(processor.Abandon(ctx, job, &ocr.EngineError{Err: errors.New("engine gave up")})).To(Succeed())

	doc, err = s.Document().Get(ctx, doc.ID)
	Expect(err).To(BeNil())
	Expect(doc.Status).To(Equal(model.DocumentStatusFailed))
	return doc
}
