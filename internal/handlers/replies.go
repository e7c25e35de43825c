package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/formahead/docproc/internal/service"
)

type DocumentReply struct {
	service.DocumentStatus
}

type DocumentListReply struct {
	Documents []service.DocumentStatus `json:"documents"`
}

type ResultReply struct {
	service.DocumentResult
}

type StatisticsReply struct {
	service.StatusStatistics
}

type ErrorReply struct {
	status  int
	Message string `json:"message"`
}

func (d DocumentReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (d DocumentListReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (d ResultReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (s StatisticsReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (e ErrorReply) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.status)
	return nil
}

// renderServiceError maps the service's typed errors to HTTP statuses.
func renderServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound    *service.ErrResourceNotFound
		unsupported *service.ErrUnsupportedFormat
		tooLarge    *service.ErrFileTooLarge
		notReady    *service.ErrDocumentNotReady
		inFlight    *service.ErrReprocessInFlight
		sufficient  *service.ErrConfidenceSufficient
		exhausted   *service.ErrAttemptBudgetExhausted
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &unsupported):
		status = http.StatusBadRequest
	case errors.As(err, &tooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.As(err, &notReady):
		status = http.StatusConflict
	case errors.As(err, &inFlight):
		status = http.StatusConflict
	case errors.As(err, &sufficient):
		status = http.StatusConflict
	case errors.As(err, &exhausted):
		status = http.StatusUnprocessableEntity
	}

	_ = render.Render(w, r, ErrorReply{status: status, Message: err.Error()})
}
