package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/formahead/docproc/internal/service"
	"github.com/formahead/docproc/internal/store"
)

var letterLines = []string{
	"Invoice 2024-0017",
	"Name: Dr. Jane Smith",
	"Email: jane.smith@example.com",
	"Phone: (555) 123-4567",
	"SSN: 123-45-6789",
	"Date: 2024-01-15",
	"Amount Due: $1,250.00",
	"Ship To: 742 Evergreen Terrace",
}

var _ = Describe("document handler", Ordered, func() {
	var (
		router *chi.Mux
		s      store.Store
	)

	BeforeAll(func() {
		router, s = newTestRouter()
	})

	AfterAll(func() {
		s.Close()
	})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	decodeDocument := func(rec *httptest.ResponseRecorder) service.DocumentStatus {
		var view service.DocumentStatus
		Expect(json.Unmarshal(rec.Body.Bytes(), &view)).To(Succeed())
		return view
	}

	Context("upload", func() {
		It("accepts a text-native pdf and returns the terminal status", func() {
			rec := doUpload(router, "org-1", "letter.pdf", buildPDF(letterLines))
			Expect(rec.Code).To(Equal(http.StatusCreated))

			view := decodeDocument(rec)
			Expect(view.Status).To(Equal("processed"))
			Expect(view.Kind).To(Equal("text_native"))
		})

		It("accepts a scanned image and returns the queued status", func() {
			rec := doUpload(router, "org-1", "scan.png", buildPNG())
			Expect(rec.Code).To(Equal(http.StatusCreated))

			view := decodeDocument(rec)
			Expect(view.Status).To(Equal("queued"))
		})

		It("rejects an upload without an owner", func() {
			rec := doUpload(router, "", "letter.pdf", buildPDF(letterLines))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects an unrecognizable payload", func() {
			rec := doUpload(router, "org-1", "junk.bin", []byte("nothing worth parsing"))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects a request without a file part", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Context("status and results", func() {
		It("serves the status and the decrypted result of a processed document", func() {
			rec := doUpload(router, "org-2", "letter.pdf", buildPDF(letterLines))
			Expect(rec.Code).To(Equal(http.StatusCreated))
			id := decodeDocument(rec).ID

			rec = get("/api/v1/documents/" + id.String())
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeDocument(rec).Status).To(Equal("processed"))

			rec = get("/api/v1/documents/" + id.String() + "/result")
			Expect(rec.Code).To(Equal(http.StatusOK))
			var result service.DocumentResult
			Expect(json.Unmarshal(rec.Body.Bytes(), &result)).To(Succeed())
			Expect(result.Fields).ToNot(BeEmpty())
		})

		It("answers 409 for a result that does not exist yet", func() {
			rec := doUpload(router, "org-2", "scan.png", buildPNG())
			id := decodeDocument(rec).ID

			rec = get("/api/v1/documents/" + id.String() + "/result")
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})

		It("answers 404 for an unknown document", func() {
			rec := get("/api/v1/documents/" + uuid.NewString())
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("answers 400 for a malformed id", func() {
			rec := get("/api/v1/documents/not-a-uuid")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("lists documents for an owner", func() {
			doUpload(router, "org-3", "letter.pdf", buildPDF(letterLines))
			doUpload(router, "org-3", "scan.png", buildPNG())

			rec := get("/api/v1/documents?owner_id=org-3")
			Expect(rec.Code).To(Equal(http.StatusOK))
			var list struct {
				Documents []service.DocumentStatus `json:"documents"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &list)).To(Succeed())
			Expect(list.Documents).To(HaveLen(2))
		})

		It("serves the per-status statistics", func() {
			rec := get("/api/v1/statistics")
			Expect(rec.Code).To(Equal(http.StatusOK))
			var stats service.StatusStatistics
			Expect(json.Unmarshal(rec.Body.Bytes(), &stats)).To(Succeed())
			Expect(stats.Total).To(BeNumerically(">", 0))
		})
	})

	Context("reprocess", func() {
		It("answers 409 while a document is still in flight", func() {
			rec := doUpload(router, "org-4", "scan.png", buildPNG())
			id := decodeDocument(rec).ID

			req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+id.String()+"/reprocess", nil)
			rec = httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})

		It("answers 409 when the extraction is already good enough", func() {
			rec := doUpload(router, "org-4", "letter.pdf", buildPDF(letterLines))
			id := decodeDocument(rec).ID

			req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+id.String()+"/reprocess", nil)
			rec = httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})
	})

	Context("delete", func() {
		It("tombstones the document", func() {
			rec := doUpload(router, "org-5", "letter.pdf", buildPDF(letterLines))
			id := decodeDocument(rec).ID

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/documents/"+id.String(), nil)
			rec = httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusNoContent))

			Expect(get("/api/v1/documents/" + id.String()).Code).To(Equal(http.StatusNotFound))
		})
	})
})
