package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/cin-dennis/ocr-engine/internal/domain"
	"github.com/cin-dennis/ocr-engine/internal/storage"
)

// ResultKey returns the object key for one page's OCR result payload.
func ResultKey(documentID uuid.UUID, pageNumber int) string {
	return fmt.Sprintf("%s/page_%d.json", documentID, pageNumber)
}

// finalize is the join-barrier continuation, invoked exactly once per
// task after every fan-out unit has reported. The task outcome is
// all-or-nothing: any failed page fails the task with zero persisted
// page results; full success persists result blobs, page rows, the
// document page count and the completed status.
func (o *Orchestrator) finalize(ctx context.Context, taskID, documentID uuid.UUID, outcomes []PageOutcome) {
	lock := o.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	logger := o.logger.WithTask(taskID)
	repos := o.store.Repos()

	task, err := repos.Tasks.GetByID(ctx, taskID)
	if err != nil {
		logger.Error().Err(err).Msg("finalize could not load task")
		return
	}
	if task.Status.Terminal() {
		// Duplicate delivery of the join continuation.
		logger.Debug().Str("status", string(task.Status)).Msg("finalize on terminal task, skipping")
		o.releaseTaskLock(taskID)
		return
	}

	if err := collectFailures(outcomes); err != nil {
		o.markFailed(ctx, taskID, err)
		return
	}

	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].PageNumber < outcomes[j].PageNumber
	})

	if err := verifyContiguous(outcomes); err != nil {
		o.markFailed(ctx, taskID, err)
		return
	}

	// Result blobs go out before the database transaction; the written
	// keys double as the compensation list if the transaction aborts.
	written := make([]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		payload, err := json.Marshal(domain.PageText{
			PageNumber: outcome.PageNumber,
			Text:       outcome.Text,
		})
		if err != nil {
			o.compensate(ctx, written)
			o.markFailed(ctx, taskID, domain.PersistenceError("failed to encode page result", err))
			return
		}

		key := ResultKey(documentID, outcome.PageNumber)
		if err := o.blobs.Put(ctx, o.opts.ResultBucket, key, payload, "application/json"); err != nil {
			o.compensate(ctx, written)
			o.markFailed(ctx, taskID, domain.PersistenceError(
				fmt.Sprintf("failed to store result for page %d", outcome.PageNumber), err))
			return
		}
		written = append(written, key)
	}

	totalPages := len(outcomes)
	err = o.store.WithTx(ctx, func(r *storage.Repositories) error {
		for _, outcome := range outcomes {
			if err := r.PageResults.Create(ctx, &storage.PageResult{
				TaskID:     taskID,
				DocumentID: documentID,
				PageNumber: outcome.PageNumber,
				ResultKey:  ResultKey(documentID, outcome.PageNumber),
			}); err != nil {
				return fmt.Errorf("insert page %d result: %w", outcome.PageNumber, err)
			}
		}

		if err := r.Documents.SetTotalPages(ctx, documentID, totalPages); err != nil {
			return fmt.Errorf("set total pages: %w", err)
		}

		moved, err := r.Tasks.Transition(ctx, taskID,
			[]storage.TaskStatus{storage.TaskStatusProcessing}, storage.TaskStatusCompleted, nil)
		if err != nil {
			return fmt.Errorf("mark task completed: %w", err)
		}
		if !moved {
			return fmt.Errorf("task left processing state during finalize")
		}
		return nil
	})
	if err != nil {
		o.compensate(ctx, written)
		o.markFailed(ctx, taskID, domain.PersistenceError("failed to persist task results", err))
		return
	}

	logger.Info().Int("pages", totalPages).Msg("task completed")
	o.releaseTaskLock(taskID)
}

// collectFailures composes the page failures, if any, into one error.
func collectFailures(outcomes []PageOutcome) error {
	var errs []error
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			errs = append(errs, outcome.Err)
		}
	}
	if len(errs) == 0 {
		return nil
	}

	sort.Slice(errs, func(i, j int) bool {
		var a, b *domain.PageError
		if errors.As(errs[i], &a) && errors.As(errs[j], &b) {
			return a.PageNumber < b.PageNumber
		}
		return false
	})
	return errors.Join(errs...)
}

// verifyContiguous checks that sorted outcomes cover exactly pages 1..N.
// Gaps or duplicates are a consistency fault, never silently repaired.
func verifyContiguous(outcomes []PageOutcome) error {
	for i, outcome := range outcomes {
		if outcome.PageNumber != i+1 {
			return domain.ConsistencyError(
				fmt.Sprintf("page sequence broken at position %d: got page %d", i+1, outcome.PageNumber), nil)
		}
	}
	return nil
}

// compensate removes result blobs written before an aborted finalize,
// newest first. Removal failures are logged only; the blobs are orphans,
// not corruption.
func (o *Orchestrator) compensate(ctx context.Context, keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		if err := o.blobs.Remove(ctx, o.opts.ResultBucket, keys[i]); err != nil {
			o.logger.Warn().Str("key", keys[i]).Err(err).Msg("failed to remove orphaned result blob")
		}
	}
}
