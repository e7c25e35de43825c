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

var _ = Describe("job store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
		now    time.Time
	)

	BeforeAll(func() {
		s, gormdb = newTestStore()
	})

	AfterAll(func() {
		s.Close()
	})

	BeforeEach(func() {
		now = time.Now().UTC().Truncate(time.Second)
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM jobs;")
	})

	Context("enqueue", func() {
		It("creates a pending job", func() {
			documentID := uuid.New()
			job, err := s.Job().Enqueue(context.TODO(), documentID, model.JobPriorityDefault, now)
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusPending))
			Expect(job.Attempts).To(Equal(0))
			Expect(job.DocumentID).To(Equal(documentID))
		})

		It("refuses a second active job for the same document", func() {
			documentID := uuid.New()
			_, err := s.Job().Enqueue(context.TODO(), documentID, model.JobPriorityDefault, now)
			Expect(err).To(BeNil())

			_, err = s.Job().Enqueue(context.TODO(), documentID, model.JobPriorityDefault, now)
			Expect(errors.Is(err, store.ErrDuplicateKey)).To(BeTrue())
		})

		It("allows a new job once the previous one is terminal", func() {
			documentID := uuid.New()
			job, err := s.Job().Enqueue(context.TODO(), documentID, model.JobPriorityDefault, now)
			Expect(err).To(BeNil())

			claimed, err := s.Job().Claim(context.TODO(), "token-1", time.Minute, now)
			Expect(err).To(BeNil())
			Expect(claimed.ID).To(Equal(job.ID))
			Expect(s.Job().Complete(context.TODO(), job.ID, "token-1", now)).To(Succeed())

			_, err = s.Job().Enqueue(context.TODO(), documentID, model.JobPriorityReprocess, now)
			Expect(err).To(BeNil())
		})
	})

	Context("claim", func() {
		It("claims a due pending job and locks it", func() {
			job, err := s.Job().Enqueue(context.TODO(), uuid.New(), model.JobPriorityDefault, now)
			Expect(err).To(BeNil())

			claimed, err := s.Job().Claim(context.TODO(), "token-1", time.Minute, now)
			Expect(err).To(BeNil())
			Expect(claimed.ID).To(Equal(job.ID))
			Expect(claimed.Status).To(Equal(model.JobStatusRunning))
			Expect(claimed.Attempts).To(Equal(1))
			Expect(*claimed.LockToken).To(Equal("token-1"))
			Expect(claimed.LockedUntil.After(now)).To(BeTrue())
		})

		It("does not claim a job scheduled in the future", func() {
			_, err := s.Job().Enqueue(context.TODO(), uuid.New(), model.JobPriorityDefault, now.Add(time.Hour))
			Expect(err).To(BeNil())

			_, err = s.Job().Claim(context.TODO(), "token-1", time.Minute, now)
			Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())
		})

		It("prefers higher priority jobs", func() {
			_, err := s.Job().Enqueue(context.TODO(), uuid.New(), model.JobPriorityDefault, now.Add(-time.Minute))
			Expect(err).To(BeNil())
			urgent, err := s.Job().Enqueue(context.TODO(), uuid.New(), model.JobPriorityReprocess, now)
			Expect(err).To(BeNil())

			claimed, err := s.Job().Claim(context.TODO(), "token-1", time.Minute, now)
			Expect(err).To(BeNil())
			Expect(claimed.ID).To(Equal(urgent.ID))
		})

		It("does not hand out a job while its lease is held", func() {
			_, err := s.Job().Enqueue(context.TODO(), uuid.New(), model.JobPriorityDefault, now)
			Expect(err).To(BeNil())

			_, err = s.Job().Claim(context.TODO(), "token-1", time.Minute, now)
			Expect(err).To(BeNil())

			_, err = s.Job().Claim(context.TODO(), "token-2", time.Minute, now.Add(30*time.Second))
			Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())
		})

		It("reclaims a job whose lease expired", func() {
			job, err := s.Job().Enqueue(context.TODO(), uuid.New(), model.JobPriorityDefault, now)
			Expect(err).To(BeNil())

			_, err = s.Job().Claim(context.TODO(), "token-1", time.Minute, now)
			Expect(err).To(BeNil())

			reclaimed, err := s.Job().Claim(context.TODO(), "token-2", time.Minute, now.Add(2*time.Minute))
			Expect(err).To(BeNil())
			Expect(reclaimed.ID).To(Equal(job.ID))
			Expect(*reclaimed.LockToken).To(Equal("token-2"))
			Expect(reclaimed.Attempts).To(Equal(2))
		})
	})

	Context("heartbeat", func() {
		It("extends the lease for the lock holder", func() {
			job, err := s.Job().Enqueue(context.TODO(), uuid.New(), model.JobPriorityDefault, now)
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), "token-1", time.Minute, now)
			Expect(err).To(BeNil())

			renewed := now.Add(5 * time.Minute)
			Expect(s.Job().Heartbeat(context.TODO(), job.ID, "token-1", renewed)).To(Succeed())

			got, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.LockedUntil.Equal(renewed)).To(BeTrue())
		})

		It("fails for a token that no longer holds the lock", func() {
			job, err := s.Job().Enqueue(context.TODO(), uuid.New(), model.JobPriorityDefault, now)
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), "token-1", time.Minute, now)
			Expect(err).To(BeNil())

			err = s.Job().Heartbeat(context.TODO(), job.ID, "token-2", now.Add(time.Minute))
			Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())
		})
	})

	Context("retry and completion", func() {
		It("releases a job back to the pending pool", func() {
			job, err := s.Job().Enqueue(context.TODO(), uuid.New(), model.JobPriorityDefault, now)
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), "token-1", time.Minute, now)
			Expect(err).To(BeNil())

			runAt := now.Add(20 * time.Second)
			Expect(s.Job().ReleaseForRetry(context.TODO(), job.ID, "token-1", runAt, "ocr timed out")).To(Succeed())

			got, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.JobStatusPending))
			Expect(got.LockToken).To(BeNil())
			Expect(*got.LastError).To(Equal("ocr timed out"))
			Expect(got.Attempts).To(Equal(1))

			// not claimable until the backoff elapses
			_, err = s.Job().Claim(context.TODO(), "token-2", time.Minute, now)
			Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())

			claimed, err := s.Job().Claim(context.TODO(), "token-2", time.Minute, runAt.Add(time.Second))
			Expect(err).To(BeNil())
			Expect(claimed.Attempts).To(Equal(2))
		})

		It("completes a job only for the lock holder", func() {
			job, err := s.Job().Enqueue(context.TODO(), uuid.New(), model.JobPriorityDefault, now)
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), "token-1", time.Minute, now)
			Expect(err).To(BeNil())

			err = s.Job().Complete(context.TODO(), job.ID, "token-2", now)
			Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())

			Expect(s.Job().Complete(context.TODO(), job.ID, "token-1", now)).To(Succeed())

			got, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.JobStatusCompleted))
			Expect(got.LockToken).To(BeNil())
			Expect(got.CompletedAt).NotTo(BeNil())
		})

		It("fails a job and records the error", func() {
			job, err := s.Job().Enqueue(context.TODO(), uuid.New(), model.JobPriorityDefault, now)
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), "token-1", time.Minute, now)
			Expect(err).To(BeNil())

			Expect(s.Job().Fail(context.TODO(), job.ID, "token-1", "unsupported format", now)).To(Succeed())

			got, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.JobStatusFailed))
			Expect(*got.LastError).To(Equal("unsupported format"))
		})
	})

	Context("garbage collection", func() {
		It("deletes only terminal jobs older than the cutoff", func() {
			oldJob, err := s.Job().Enqueue(context.TODO(), uuid.New(), model.JobPriorityDefault, now)
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), "token-1", time.Minute, now)
			Expect(err).To(BeNil())
			Expect(s.Job().Complete(context.TODO(), oldJob.ID, "token-1", now.Add(-48*time.Hour))).To(Succeed())

			_, err = s.Job().Enqueue(context.TODO(), uuid.New(), model.JobPriorityDefault, now)
			Expect(err).To(BeNil())

			deleted, err := s.Job().DeleteTerminalBefore(context.TODO(), now.Add(-24*time.Hour))
			Expect(err).To(BeNil())
			Expect(deleted).To(Equal(int64(1)))

			_, err = s.Job().Get(context.TODO(), oldJob.ID)
			Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())
		})
	})
})
