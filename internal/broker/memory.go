package broker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed indicates the broker has been closed.
var ErrClosed = errors.New("broker closed")

const memoryQueueDepth = 1024

// MemoryBroker implements Broker on a buffered channel. Used in
// development mode and in tests.
type MemoryBroker struct {
	ch        chan uuid.UUID
	closeOnce sync.Once
	closed    chan struct{}
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		ch:     make(chan uuid.UUID, memoryQueueDepth),
		closed: make(chan struct{}),
	}
}

// Enqueue schedules a task for processing.
func (b *MemoryBroker) Enqueue(ctx context.Context, taskID uuid.UUID) error {
	select {
	case <-b.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case b.ch <- taskID:
		return nil
	}
}

// Consume delivers queued task ids to h until ctx is cancelled or the
// broker is closed. Handler errors are swallowed; the memory broker has
// no log sink and redelivery guards live in the task state machine.
func (b *MemoryBroker) Consume(ctx context.Context, h Handler) error {
	for {
		select {
		case <-b.closed:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		case taskID := <-b.ch:
			_ = h(ctx, taskID)
		}
	}
}

// Close shuts down the broker.
func (b *MemoryBroker) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

var _ Broker = (*MemoryBroker)(nil)
