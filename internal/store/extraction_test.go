package store_test

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/formahead/docproc/internal/store"
	"github.com/formahead/docproc/internal/store/model"
)

var _ = Describe("extraction result store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		s, gormdb = newTestStore()
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM extraction_results;")
	})

	Context("create", func() {
		It("assigns an id and stores the payload", func() {
			documentID := uuid.New()
			created, err := s.ExtractionResult().Create(context.TODO(), model.ExtractionResult{
				DocumentID: documentID,
				RawText:    []byte("Invoice total: $12.00"),
				Fields:     []byte(`[{"key":"total","value":"$12.00"}]`),
				Entities:   []byte(`{"monetary_amount":["$12.00"]}`),
				Confidence: 0.95,
				Path:       model.ProcessingPathSync,
			})
			Expect(err).To(BeNil())
			Expect(created.ID).NotTo(Equal(uuid.Nil))

			got, err := s.ExtractionResult().Latest(context.TODO(), documentID)
			Expect(err).To(BeNil())
			Expect(got.ID).To(Equal(created.ID))
			Expect(got.Confidence).To(Equal(0.95))
		})
	})

	Context("latest and history", func() {
		It("returns results in the right order", func() {
			documentID := uuid.New()
			first, err := s.ExtractionResult().Create(context.TODO(), model.ExtractionResult{
				DocumentID: documentID,
				Path:       model.ProcessingPathQueued,
				Confidence: 0.6,
				CreatedAt:  time.Now().Add(-time.Hour),
			})
			Expect(err).To(BeNil())
			second, err := s.ExtractionResult().Create(context.TODO(), model.ExtractionResult{
				DocumentID: documentID,
				Path:       model.ProcessingPathQueued,
				Confidence: 0.8,
				CreatedAt:  time.Now(),
			})
			Expect(err).To(BeNil())

			latest, err := s.ExtractionResult().Latest(context.TODO(), documentID)
			Expect(err).To(BeNil())
			Expect(latest.ID).To(Equal(second.ID))

			history, err := s.ExtractionResult().History(context.TODO(), documentID)
			Expect(err).To(BeNil())
			Expect(history).To(HaveLen(2))
			Expect(history[0].ID).To(Equal(first.ID))
			Expect(history[1].ID).To(Equal(second.ID))
		})

		It("returns ErrRecordNotFound when no result exists", func() {
			_, err := s.ExtractionResult().Latest(context.TODO(), uuid.New())
			Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())
		})
	})
})
