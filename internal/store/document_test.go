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

func newPendingDocument(owner string) model.Document {
	return model.Document{
		ID:          uuid.New(),
		OwnerID:     owner,
		Filename:    "statement.pdf",
		ContentType: "application/pdf",
		Location:    "owner/statement.pdf",
		ByteSize:    2048,
		Status:      model.DocumentStatusPending,
		Kind:        model.DocumentKindUnknown,
	}
}

var _ = Describe("document store", Ordered, func() {
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
		gormdb.Exec("DELETE FROM documents;")
	})

	Context("create and get", func() {
		It("round-trips a document", func() {
			created, err := s.Document().Create(context.TODO(), newPendingDocument("owner-1"))
			Expect(err).To(BeNil())

			got, err := s.Document().Get(context.TODO(), created.ID)
			Expect(err).To(BeNil())
			Expect(got.OwnerID).To(Equal("owner-1"))
			Expect(got.Status).To(Equal(model.DocumentStatusPending))
			Expect(got.Kind).To(Equal(model.DocumentKindUnknown))
			Expect(got.Version).To(Equal(0))
		})

		It("returns ErrRecordNotFound for an unknown id", func() {
			_, err := s.Document().Get(context.TODO(), uuid.New())
			Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())
		})
	})

	Context("list", func() {
		It("filters by owner and status", func() {
			_, err := s.Document().Create(context.TODO(), newPendingDocument("owner-1"))
			Expect(err).To(BeNil())
			_, err = s.Document().Create(context.TODO(), newPendingDocument("owner-1"))
			Expect(err).To(BeNil())
			other := newPendingDocument("owner-2")
			other.Status = model.DocumentStatusProcessed
			_, err = s.Document().Create(context.TODO(), other)
			Expect(err).To(BeNil())

			docs, err := s.Document().List(context.TODO(),
				store.NewDocumentQueryFilter().ByOwnerID("owner-1"),
				store.NewDocumentQueryOptions().WithSortOrder(store.SortByCreatedTime))
			Expect(err).To(BeNil())
			Expect(docs).To(HaveLen(2))

			docs, err = s.Document().List(context.TODO(),
				store.NewDocumentQueryFilter().ByStatus(model.DocumentStatusProcessed), nil)
			Expect(err).To(BeNil())
			Expect(docs).To(HaveLen(1))
			Expect(docs[0].OwnerID).To(Equal("owner-2"))
		})

		It("applies limit and offset", func() {
			for i := 0; i < 5; i++ {
				_, err := s.Document().Create(context.TODO(), newPendingDocument("owner-1"))
				Expect(err).To(BeNil())
			}
			docs, err := s.Document().List(context.TODO(), nil,
				store.NewDocumentQueryOptions().WithLimit(2).WithOffset(1))
			Expect(err).To(BeNil())
			Expect(docs).To(HaveLen(2))
		})
	})

	Context("update", func() {
		It("bumps the version on every write", func() {
			created, err := s.Document().Create(context.TODO(), newPendingDocument("owner-1"))
			Expect(err).To(BeNil())

			created.Status = model.DocumentStatusClassified
			created.Kind = model.DocumentKindTextNative
			updated, err := s.Document().Update(context.TODO(), created)
			Expect(err).To(BeNil())
			Expect(updated.Version).To(Equal(1))

			got, err := s.Document().Get(context.TODO(), created.ID)
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.DocumentStatusClassified))
			Expect(got.Version).To(Equal(1))
		})

		It("rejects a write based on a stale version", func() {
			created, err := s.Document().Create(context.TODO(), newPendingDocument("owner-1"))
			Expect(err).To(BeNil())

			// two readers pick up version 0
			first, err := s.Document().Get(context.TODO(), created.ID)
			Expect(err).To(BeNil())
			second, err := s.Document().Get(context.TODO(), created.ID)
			Expect(err).To(BeNil())

			first.Status = model.DocumentStatusProcessed
			now := time.Now()
			first.LastProcessedAt = &now
			_, err = s.Document().Update(context.TODO(), first)
			Expect(err).To(BeNil())

			// the stale writer must lose
			second.Status = model.DocumentStatusFailed
			_, err = s.Document().Update(context.TODO(), second)
			Expect(errors.Is(err, store.ErrConcurrentWrite)).To(BeTrue())

			got, err := s.Document().Get(context.TODO(), created.ID)
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.DocumentStatusProcessed))
		})
	})

	Context("delete", func() {
		It("soft deletes and hides the document", func() {
			created, err := s.Document().Create(context.TODO(), newPendingDocument("owner-1"))
			Expect(err).To(BeNil())

			Expect(s.Document().Delete(context.TODO(), created.ID)).To(Succeed())

			_, err = s.Document().Get(context.TODO(), created.ID)
			Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())

			// the row itself survives for audit
			var count int64
			gormdb.Raw("SELECT count(*) FROM documents WHERE id = ?", created.ID).Scan(&count)
			Expect(count).To(Equal(int64(1)))
		})

		It("returns ErrRecordNotFound for an unknown id", func() {
			err := s.Document().Delete(context.TODO(), uuid.New())
			Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())
		})
	})

	Context("count by status", func() {
		It("groups documents by status", func() {
			for i := 0; i < 3; i++ {
				_, err := s.Document().Create(context.TODO(), newPendingDocument("owner-1"))
				Expect(err).To(BeNil())
			}
			processed := newPendingDocument("owner-1")
			processed.Status = model.DocumentStatusProcessed
			_, err := s.Document().Create(context.TODO(), processed)
			Expect(err).To(BeNil())

			counts, err := s.Document().CountByStatus(context.TODO())
			Expect(err).To(BeNil())
			Expect(counts[model.DocumentStatusPending]).To(Equal(3))
			Expect(counts[model.DocumentStatusProcessed]).To(Equal(1))
		})
	})
})
