// Package broker provides the task queue that triggers OCR processing.
// Delivery is at-least-once; consumers rely on the task state machine's
// terminal-status guards to make redelivery harmless.
package broker

import (
	"context"

	"github.com/google/uuid"
)

// Handler processes one delivered task id. A non-nil error is logged by
// the consumer loop; it does not requeue the message.
type Handler func(ctx context.Context, taskID uuid.UUID) error

// Broker defines the task queue interface.
type Broker interface {
	// Enqueue schedules a task for processing.
	Enqueue(ctx context.Context, taskID uuid.UUID) error

	// Consume delivers queued task ids to h until ctx is cancelled.
	Consume(ctx context.Context, h Handler) error

	Close() error
}
