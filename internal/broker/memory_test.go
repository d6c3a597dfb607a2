package broker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBroker_DeliversEnqueuedTasks(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	want := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range want {
		require.NoError(t, b.Enqueue(ctx, id))
	}

	got := make(chan uuid.UUID, len(want))
	go func() {
		_ = b.Consume(ctx, func(ctx context.Context, taskID uuid.UUID) error {
			got <- taskID
			return nil
		})
	}()

	for _, id := range want {
		select {
		case delivered := <-got:
			assert.Equal(t, id, delivered)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
}

func TestMemoryBroker_ConsumeStopsOnContextCancel(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Consume(ctx, func(ctx context.Context, taskID uuid.UUID) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryBroker_EnqueueAfterClose(t *testing.T) {
	b := NewMemoryBroker()
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	err := b.Enqueue(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBroker_HandlerErrorDoesNotStopConsumption(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, second := uuid.New(), uuid.New()
	require.NoError(t, b.Enqueue(ctx, first))
	require.NoError(t, b.Enqueue(ctx, second))

	got := make(chan uuid.UUID, 2)
	go func() {
		_ = b.Consume(ctx, func(ctx context.Context, taskID uuid.UUID) error {
			got <- taskID
			return assert.AnError
		})
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
}
