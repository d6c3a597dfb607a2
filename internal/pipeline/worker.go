package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cin-dennis/ocr-engine/internal/domain"
	"github.com/cin-dennis/ocr-engine/internal/observability"
)

// InferenceClient is the collaborator contract for submitting one page
// image.
type InferenceClient interface {
	Submit(ctx context.Context, image []byte, filename string) (string, error)
}

// PageWorker runs the inference call for one page unit. Exactly one call
// per unit, no retry, no storage side effects; failures propagate tagged
// with the page number.
type PageWorker struct {
	client InferenceClient
	logger *observability.Logger
}

// NewPageWorker creates a new page worker.
func NewPageWorker(client InferenceClient, logger *observability.Logger) *PageWorker {
	return &PageWorker{
		client: client,
		logger: logger.WithComponent("page-worker"),
	}
}

// Run processes one page unit and returns its outcome.
func (w *PageWorker) Run(ctx context.Context, taskID uuid.UUID, unit domain.PageUnit) PageOutcome {
	filename := pageFilename(taskID, unit)

	text, err := w.client.Submit(ctx, unit.Image, filename)
	if err != nil {
		if !domain.IsType(err, domain.ErrorTypeInference) {
			err = domain.InferenceError("inference call failed", err)
		}
		w.logger.WithTask(taskID).WithPage(unit.PageNumber).Error().Err(err).Msg("page inference failed")
		return PageOutcome{
			PageNumber: unit.PageNumber,
			Err:        domain.NewPageError(unit.PageNumber, err),
		}
	}

	return PageOutcome{PageNumber: unit.PageNumber, Text: text}
}

// pageFilename builds the correlation filename sent to the inference
// service.
func pageFilename(taskID uuid.UUID, unit domain.PageUnit) string {
	ext := ".jpg"
	if unit.MediaType == domain.MediaTypePNG {
		ext = ".png"
	}
	return fmt.Sprintf("%s_page_%d%s", taskID, unit.PageNumber, ext)
}
