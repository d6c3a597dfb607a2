// Package api provides the HTTP surface of the OCR engine.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cin-dennis/ocr-engine/internal/domain"
	"github.com/cin-dennis/ocr-engine/internal/observability"
	"github.com/cin-dennis/ocr-engine/internal/service"
	"github.com/cin-dennis/ocr-engine/internal/storage"
)

// defaultMaxUploadBytes bounds uploads when no limit is configured.
const defaultMaxUploadBytes = 64 << 20

// DocumentHandler handles document upload and retrieval requests.
type DocumentHandler struct {
	logger    *observability.Logger
	service   *service.DocumentService
	maxUpload int64
}

// NewDocumentHandler creates a document handler. maxUpload bounds the
// accepted document size in bytes; zero or negative selects the default.
func NewDocumentHandler(logger *observability.Logger, svc *service.DocumentService, maxUpload int64) *DocumentHandler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &DocumentHandler{
		logger:    logger,
		service:   svc,
		maxUpload: maxUpload,
	}
}

// DocumentDTO represents a document in API responses.
type DocumentDTO struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	MediaType  string `json:"mediaType"`
	TotalPages *int   `json:"totalPages,omitempty"`
	UploadedAt string `json:"uploadedAt"`
}

// TaskDTO represents a processing task in API responses.
type TaskDTO struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

// Upload handles POST /v1/documents. The document payload arrives as a
// multipart form with a single "file" field.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart request", err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "file field is required", err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read upload", err.Error())
		return
	}
	if int64(len(data)) > h.maxUpload {
		h.writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit", "")
		return
	}

	mediaType := mediaTypeFor(header.Header.Get("Content-Type"), header.Filename)

	result, err := h.service.Upload(ctx, header.Filename, mediaType, data)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(result)
}

// GetDocument handles GET /v1/documents/{documentId}.
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "documentId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid documentId", err.Error())
		return
	}

	status, err := h.service.GetDocument(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := struct {
		Document DocumentDTO `json:"document"`
		Task     TaskDTO     `json:"task"`
	}{
		Document: toDocumentDTO(status.Document),
		Task:     toTaskDTO(status.Task),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetResults handles GET /v1/documents/{documentId}/results.
func (h *DocumentHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "documentId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid documentId", err.Error())
		return
	}

	results, err := h.service.GetResults(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// GetTask handles GET /v1/tasks/{taskId}.
func (h *DocumentHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "taskId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid taskId", err.Error())
		return
	}

	task, err := h.service.GetTask(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toTaskDTO(task))
}

func toDocumentDTO(doc *storage.Document) DocumentDTO {
	return DocumentDTO{
		ID:         doc.ID.String(),
		Filename:   doc.Filename,
		MediaType:  doc.MediaType,
		TotalPages: doc.TotalPages,
		UploadedAt: doc.UploadedAt.Format(time.RFC3339),
	}
}

func toTaskDTO(task *storage.Task) TaskDTO {
	dto := TaskDTO{
		ID:         task.ID.String(),
		DocumentID: task.DocumentID.String(),
		Status:     string(task.Status),
		CreatedAt:  task.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  task.UpdatedAt.Format(time.RFC3339),
	}
	if task.ErrorMessage != nil {
		dto.Error = *task.ErrorMessage
	}
	return dto
}

// writeServiceError maps service and domain errors onto HTTP statuses.
func (h *DocumentHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not found", "")
	case domain.IsType(err, domain.ErrorTypeValidation):
		h.writeError(w, http.StatusBadRequest, "invalid request", err.Error())
	case domain.IsType(err, domain.ErrorTypeInference):
		h.writeError(w, http.StatusUnprocessableEntity, "processing failed", err.Error())
	default:
		h.logger.Error().Err(err).Msg("request failed")
		h.writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func (h *DocumentHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{
		"error": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	json.NewEncoder(w).Encode(resp)
}

// mediaTypeFor resolves the effective media type of an upload, falling
// back to the filename extension when the part declares none.
func mediaTypeFor(declared, filename string) string {
	declared = strings.TrimSpace(strings.ToLower(declared))
	if i := strings.Index(declared, ";"); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return domain.MediaTypePDF
	case ".png":
		return domain.MediaTypePNG
	case ".jpg", ".jpeg":
		return domain.MediaTypeJPEG
	}
	return declared
}
