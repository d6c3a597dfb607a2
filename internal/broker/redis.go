package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cin-dennis/ocr-engine/internal/observability"
)

const popTimeout = 5 * time.Second

// RedisBroker implements Broker on a Redis list. Enqueue pushes to the
// queue; Consume moves each message to a per-consumer processing list
// before handling it and removes it afterwards, so a crash mid-handle
// leaves the message recoverable rather than lost.
type RedisBroker struct {
	client     *redis.Client
	queue      string
	processing string
	logger     *observability.Logger
}

// RedisOptions holds Redis broker configuration.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Queue    string
}

// NewRedisBroker creates a new Redis-backed broker and verifies
// connectivity.
func NewRedisBroker(opts RedisOptions, logger *observability.Logger) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	queue := opts.Queue
	if queue == "" {
		queue = "ocr:tasks"
	}

	return &RedisBroker{
		client:     client,
		queue:      queue,
		processing: queue + ":processing",
		logger:     logger.WithComponent("broker"),
	}, nil
}

// Enqueue schedules a task for processing.
func (b *RedisBroker) Enqueue(ctx context.Context, taskID uuid.UUID) error {
	if err := b.client.LPush(ctx, b.queue, taskID.String()).Err(); err != nil {
		return fmt.Errorf("enqueue task %s: %w", taskID, err)
	}
	return nil
}

// Consume delivers queued task ids to h until ctx is cancelled.
func (b *RedisBroker) Consume(ctx context.Context, h Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := b.client.BLMove(ctx, b.queue, b.processing, "RIGHT", "LEFT", popTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Error().Err(err).Msg("queue pop failed")
			time.Sleep(time.Second)
			continue
		}

		taskID, err := uuid.Parse(msg)
		if err != nil {
			b.logger.Warn().Str("message", msg).Msg("dropping malformed queue message")
			b.ack(msg)
			continue
		}

		if err := h(ctx, taskID); err != nil {
			b.logger.Error().Str("task_id", taskID.String()).Err(err).Msg("task handler failed")
		}
		b.ack(msg)
	}
}

// ack removes a handled message from the processing list.
func (b *RedisBroker) ack(msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.client.LRem(ctx, b.processing, 1, msg).Err(); err != nil {
		b.logger.Warn().Str("message", msg).Err(err).Msg("failed to ack queue message")
	}
}

// Close closes the Redis connection.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

var _ Broker = (*RedisBroker)(nil)
