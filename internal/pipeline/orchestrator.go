package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cin-dennis/ocr-engine/internal/blob"
	"github.com/cin-dennis/ocr-engine/internal/domain"
	"github.com/cin-dennis/ocr-engine/internal/observability"
	"github.com/cin-dennis/ocr-engine/internal/split"
	"github.com/cin-dennis/ocr-engine/internal/storage"
)

// Options holds orchestrator configuration.
type Options struct {
	DocumentBucket     string
	ResultBucket       string
	MaxConcurrentPages int
}

// Orchestrator drives a task through its lifecycle: validate, mark
// processing, fetch and split the document, fan out one page worker per
// unit behind a join barrier, and hand the joined outcomes to the
// aggregator. Dispatch is non-blocking; completion is observed only
// through the barrier.
type Orchestrator struct {
	store    *storage.Store
	blobs    blob.Store
	splitter *split.Splitter
	worker   *PageWorker
	opts     Options
	logger   *observability.Logger

	// taskLocks serializes orchestrator and aggregator work per task id.
	mu        sync.Mutex
	taskLocks map[uuid.UUID]*sync.Mutex

	wg sync.WaitGroup
}

// NewOrchestrator creates a new orchestrator with explicit collaborator
// handles.
func NewOrchestrator(
	store *storage.Store,
	blobs blob.Store,
	splitter *split.Splitter,
	client InferenceClient,
	opts Options,
	logger *observability.Logger,
) *Orchestrator {
	if opts.MaxConcurrentPages < 1 {
		opts.MaxConcurrentPages = 1
	}

	return &Orchestrator{
		store:     store,
		blobs:     blobs,
		splitter:  splitter,
		worker:    NewPageWorker(client, logger),
		opts:      opts,
		logger:    logger.WithComponent("orchestrator"),
		taskLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// ProcessTask handles one delivered task id. It returns after dispatch;
// page work and finalization continue asynchronously. Unknown tasks and
// duplicate deliveries are logged no-ops.
func (o *Orchestrator) ProcessTask(ctx context.Context, taskID uuid.UUID) error {
	lock := o.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	logger := o.logger.WithTask(taskID)
	repos := o.store.Repos()

	task, err := repos.Tasks.GetByID(ctx, taskID)
	if err != nil {
		if err == storage.ErrNotFound {
			logger.Warn().Msg("task not found, nothing to update")
			return nil
		}
		return domain.PersistenceError("failed to load task", err)
	}

	if task.Status.Terminal() {
		logger.Debug().Str("status", string(task.Status)).Msg("task already terminal, skipping")
		o.releaseTaskLock(taskID)
		return nil
	}

	doc, err := repos.Documents.GetByID(ctx, task.DocumentID)
	if err != nil {
		if err == storage.ErrNotFound {
			o.markFailed(ctx, taskID, domain.PersistenceError("document metadata missing", nil))
			return nil
		}
		return domain.PersistenceError("failed to load document", err)
	}

	// Persist the processing status before any inference work so
	// concurrent status reads observe the in-flight task. The
	// conditional transition doubles as the duplicate-delivery guard.
	moved, err := repos.Tasks.Transition(ctx, taskID,
		[]storage.TaskStatus{storage.TaskStatusPending}, storage.TaskStatusProcessing, nil)
	if err != nil {
		return domain.PersistenceError("failed to mark task processing", err)
	}
	if !moved {
		logger.Debug().Msg("task no longer pending, another delivery won")
		return nil
	}

	data, err := o.blobs.Get(ctx, o.opts.DocumentBucket, doc.StorageKey)
	if err != nil {
		o.markFailed(ctx, taskID, domain.FetchError("failed to fetch document bytes", err))
		return nil
	}

	units, err := o.splitter.Split(ctx, data, doc.MediaType)
	if err != nil {
		o.markFailed(ctx, taskID, err)
		return nil
	}

	logger.Info().Int("pages", len(units)).Msg("dispatching page workers")
	o.dispatch(ctx, taskID, doc.ID, units)
	return nil
}

// dispatch fans out one page worker per unit and registers the join
// barrier whose continuation is the aggregator. It returns immediately.
func (o *Orchestrator) dispatch(ctx context.Context, taskID, documentID uuid.UUID, units []domain.PageUnit) {
	// The aggregator must be able to finalize even when the dispatching
	// context is torn down after return.
	aggCtx := context.WithoutCancel(ctx)

	barrier := NewBarrier(len(units), func(outcomes []PageOutcome) {
		o.finalize(aggCtx, taskID, documentID, outcomes)
	})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		g := new(errgroup.Group)
		g.SetLimit(o.opts.MaxConcurrentPages)

		for _, unit := range units {
			g.Go(func() error {
				barrier.Report(o.worker.Run(ctx, taskID, unit))
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// markFailed is the shared failure handler. It moves the task to failed
// with the cause, guarded so an already-terminal task stays untouched.
// It runs detached from the caller's context and never propagates an
// error; secondary failures are logged only.
func (o *Orchestrator) markFailed(ctx context.Context, taskID uuid.UUID, cause error) {
	logger := o.logger.WithTask(taskID)
	msg := cause.Error()

	moved, err := o.store.Repos().Tasks.Transition(context.WithoutCancel(ctx), taskID,
		[]storage.TaskStatus{storage.TaskStatusPending, storage.TaskStatusProcessing},
		storage.TaskStatusFailed, &msg)
	if err != nil {
		logger.Error().Err(err).Str("cause", msg).Msg("failed to record task failure")
		return
	}

	o.releaseTaskLock(taskID)
	if !moved {
		logger.Debug().Str("cause", msg).Msg("task already terminal, failure not recorded")
		return
	}

	logger.Info().Str("cause", msg).Msg("task failed")
}

// taskLock returns the mutex serializing work for one task id.
func (o *Orchestrator) taskLock(taskID uuid.UUID) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	lock, ok := o.taskLocks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		o.taskLocks[taskID] = lock
	}
	return lock
}

// releaseTaskLock drops the per-task mutex once its task is terminal,
// keeping the map bounded in a long-running worker. A later delivery
// for the same id allocates a fresh mutex; correctness against stale
// deliveries rests on the conditional status updates, not the lock.
func (o *Orchestrator) releaseTaskLock(taskID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.taskLocks, taskID)
}

// Wait blocks until all dispatched page work and finalization has
// drained. Used on shutdown and in tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
