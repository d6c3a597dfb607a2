// Package service implements the document ingestion and retrieval API
// on top of the storage, blob and broker layers.
package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/cin-dennis/ocr-engine/internal/blob"
	"github.com/cin-dennis/ocr-engine/internal/broker"
	"github.com/cin-dennis/ocr-engine/internal/domain"
	"github.com/cin-dennis/ocr-engine/internal/observability"
	"github.com/cin-dennis/ocr-engine/internal/storage"
)

// Options configures the document service.
type Options struct {
	DocumentBucket string
	ResultBucket   string
}

// DocumentService handles uploads and result retrieval.
type DocumentService struct {
	store  *storage.Store
	blobs  blob.Store
	queue  broker.Broker
	opts   Options
	logger *observability.Logger
}

// NewDocumentService creates a document service.
func NewDocumentService(store *storage.Store, blobs blob.Store, queue broker.Broker, opts Options, logger *observability.Logger) *DocumentService {
	return &DocumentService{
		store:  store,
		blobs:  blobs,
		queue:  queue,
		opts:   opts,
		logger: logger.WithComponent("service"),
	}
}

// UploadResult is returned to the caller after a successful ingestion.
type UploadResult struct {
	DocumentID uuid.UUID `json:"document_id"`
	TaskID     uuid.UUID `json:"task_id"`
	Status     string    `json:"status"`
}

// Upload stores the document payload, records the document and its
// pending task, and enqueues the task for processing. The blob write is
// compensated if the database transaction fails. On an enqueue failure
// the stored document and its rows are kept and the task is marked
// failed.
func (s *DocumentService) Upload(ctx context.Context, filename, mediaType string, data []byte) (*UploadResult, error) {
	if len(data) == 0 {
		return nil, domain.ValidationError("empty document payload", nil)
	}
	if !domain.SupportedMediaType(mediaType) {
		return nil, domain.ValidationError(fmt.Sprintf("unsupported media type %q", mediaType), nil)
	}

	docID := uuid.New()
	taskID := uuid.New()
	storageKey := docID.String() + extensionFor(mediaType)

	if err := s.blobs.Put(ctx, s.opts.DocumentBucket, storageKey, data, mediaType); err != nil {
		return nil, domain.PersistenceError("failed to store document payload", err)
	}

	err := s.store.WithTx(ctx, func(r *storage.Repositories) error {
		if err := r.Documents.Create(ctx, &storage.Document{
			ID:         docID,
			Filename:   filename,
			StorageKey: storageKey,
			MediaType:  mediaType,
		}); err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		if err := r.Tasks.Create(ctx, &storage.Task{
			ID:         taskID,
			DocumentID: docID,
			Status:     storage.TaskStatusPending,
		}); err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		return nil
	})
	if err != nil {
		if rmErr := s.blobs.Remove(ctx, s.opts.DocumentBucket, storageKey); rmErr != nil {
			s.logger.Warn().Str("key", storageKey).Err(rmErr).Msg("failed to remove orphaned document blob")
		}
		return nil, domain.PersistenceError("failed to record document", err)
	}

	if err := s.queue.Enqueue(ctx, taskID); err != nil {
		// The document and task rows stay; the task is failed so the
		// caller sees a terminal state instead of a forever-pending one.
		s.failTask(ctx, taskID, "failed to enqueue task for processing")
		return nil, domain.PersistenceError("failed to enqueue task", err)
	}

	s.logger.Info().
		Str("document_id", docID.String()).
		Str("task_id", taskID.String()).
		Str("media_type", mediaType).
		Msg("document accepted")

	return &UploadResult{
		DocumentID: docID,
		TaskID:     taskID,
		Status:     string(storage.TaskStatusPending),
	}, nil
}

// DocumentStatus combines a document with its processing task.
type DocumentStatus struct {
	Document *storage.Document
	Task     *storage.Task
}

// GetDocument returns the document and its task.
func (s *DocumentService) GetDocument(ctx context.Context, id uuid.UUID) (*DocumentStatus, error) {
	repos := s.store.Repos()

	doc, err := repos.Documents.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	task, err := repos.Tasks.GetByDocumentID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &DocumentStatus{Document: doc, Task: task}, nil
}

// GetTask returns a task by id.
func (s *DocumentService) GetTask(ctx context.Context, id uuid.UUID) (*storage.Task, error) {
	return s.store.Repos().Tasks.GetByID(ctx, id)
}

// ResultSet is the OCR output of a document, ordered by page number.
type ResultSet struct {
	DocumentID uuid.UUID         `json:"document_id"`
	Status     string            `json:"status"`
	Pages      []domain.PageText `json:"pages"`
}

// GetResults returns the per-page OCR text of a document. While the
// task is still pending or processing the page list is empty; a failed
// task surfaces its recorded error instead.
func (s *DocumentService) GetResults(ctx context.Context, documentID uuid.UUID) (*ResultSet, error) {
	repos := s.store.Repos()

	if _, err := repos.Documents.GetByID(ctx, documentID); err != nil {
		return nil, err
	}
	task, err := repos.Tasks.GetByDocumentID(ctx, documentID)
	if err != nil {
		return nil, err
	}

	set := &ResultSet{
		DocumentID: documentID,
		Status:     string(task.Status),
		Pages:      []domain.PageText{},
	}

	switch task.Status {
	case storage.TaskStatusPending, storage.TaskStatusProcessing:
		return set, nil
	case storage.TaskStatusFailed:
		msg := "task failed"
		if task.ErrorMessage != nil {
			msg = *task.ErrorMessage
		}
		return nil, domain.InferenceError(msg, nil)
	}

	rows, err := repos.PageResults.ListByTaskID(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		page := domain.PageText{PageNumber: row.PageNumber}
		payload, err := s.blobs.Get(ctx, s.opts.ResultBucket, row.ResultKey)
		if err != nil {
			return nil, domain.PersistenceError(
				fmt.Sprintf("failed to read result for page %d", row.PageNumber), err)
		}
		if err := json.Unmarshal(payload, &page); err != nil {
			return nil, domain.PersistenceError(
				fmt.Sprintf("failed to decode result for page %d", row.PageNumber), err)
		}
		// The stored row is authoritative for ordering.
		page.PageNumber = row.PageNumber
		set.Pages = append(set.Pages, page)
	}
	return set, nil
}

// failTask moves a task to failed outside the caller's transaction.
// Failures here are logged only.
func (s *DocumentService) failTask(ctx context.Context, taskID uuid.UUID, msg string) {
	detached := context.WithoutCancel(ctx)
	moved, err := s.store.Repos().Tasks.Transition(detached, taskID,
		[]storage.TaskStatus{storage.TaskStatusPending, storage.TaskStatusProcessing},
		storage.TaskStatusFailed, &msg)
	if err != nil {
		s.logger.Error().Str("task_id", taskID.String()).Err(err).Msg("failed to mark task failed")
		return
	}
	if !moved {
		s.logger.Debug().Str("task_id", taskID.String()).Msg("task already terminal")
	}
}

// extensionFor maps a media type to the storage key extension.
func extensionFor(mediaType string) string {
	switch mediaType {
	case domain.MediaTypePDF:
		return ".pdf"
	case domain.MediaTypePNG:
		return ".png"
	case domain.MediaTypeJPEG:
		return ".jpg"
	}
	return ""
}
