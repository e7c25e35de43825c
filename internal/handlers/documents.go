package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/formahead/docproc/internal/handlers/validator"
	"github.com/formahead/docproc/internal/service"
	"github.com/formahead/docproc/internal/service/mappers"
)

// multipart bodies above this stay on disk
const uploadMemoryLimit = 32 << 20

type uploadRequest struct {
	OwnerID     string `validate:"required,owner_id"`
	Filename    string `validate:"required,upload_filename"`
	ContentType string `validate:"content_type"`
}

// DocumentHandler exposes the ingestion pipeline over HTTP.
type DocumentHandler struct {
	documentSrv *service.DocumentService
}

func NewDocumentHandler(documentService *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentSrv: documentService}
}

func (h *DocumentHandler) Register(router chi.Router) {
	router.Route("/api/v1/documents", func(r chi.Router) {
		r.Post("/", h.Upload)
		r.Get("/", h.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Status)
			r.Delete("/", h.Delete)
			r.Get("/result", h.Result)
			r.Post("/reprocess", h.Reprocess)
		})
	})
	router.Get("/api/v1/statistics", h.Statistics)
}

// (POST /api/v1/documents)
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		_ = render.Render(w, r, ErrorReply{status: http.StatusBadRequest, Message: "expected a multipart upload"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		_ = render.Render(w, r, ErrorReply{status: http.StatusBadRequest, Message: "missing file part"})
		return
	}
	defer file.Close()

	req := uploadRequest{
		OwnerID:     r.FormValue("owner_id"),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
	}

	v := validator.NewValidator()
	v.Register(validator.NewUploadValidationRules()...)
	if err := v.Struct(req); err != nil {
		_ = render.Render(w, r, ErrorReply{status: http.StatusBadRequest, Message: err.Error()})
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		_ = render.Render(w, r, ErrorReply{status: http.StatusBadRequest, Message: "reading upload"})
		return
	}

	doc, err := h.documentSrv.Submit(r.Context(), mappers.DocumentUploadForm{
		OwnerID:     req.OwnerID,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Content:     content,
	})
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	_ = render.Render(w, r, DocumentReply{h.documentSrv.StatusView(doc)})
}

// (GET /api/v1/documents)
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := service.ListFilter{
		OwnerID: r.URL.Query().Get("owner_id"),
		Status:  r.URL.Query().Get("status"),
		Kind:    r.URL.Query().Get("kind"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		filter.Limit, _ = strconv.Atoi(limit)
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		filter.Offset, _ = strconv.Atoi(offset)
	}

	views, err := h.documentSrv.List(r.Context(), filter)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	_ = render.Render(w, r, DocumentListReply{Documents: views})
}

// (GET /api/v1/documents/{id})
func (h *DocumentHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	view, err := h.documentSrv.GetStatus(r.Context(), id)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	_ = render.Render(w, r, DocumentReply{*view})
}

// (GET /api/v1/documents/{id}/result)
func (h *DocumentHandler) Result(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	result, err := h.documentSrv.GetResult(r.Context(), id)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	_ = render.Render(w, r, ResultReply{*result})
}

// (POST /api/v1/documents/{id}/reprocess)
func (h *DocumentHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	doc, err := h.documentSrv.Reprocess(r.Context(), id)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	_ = render.Render(w, r, DocumentReply{h.documentSrv.StatusView(doc)})
}

// (DELETE /api/v1/documents/{id})
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.documentSrv.Delete(r.Context(), id); err != nil {
		renderServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// (GET /api/v1/statistics)
func (h *DocumentHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.documentSrv.Statistics(r.Context())
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	_ = render.Render(w, r, StatisticsReply{*stats})
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = render.Render(w, r, ErrorReply{status: http.StatusBadRequest, Message: "malformed document id"})
		return uuid.Nil, false
	}
	return id, true
}
