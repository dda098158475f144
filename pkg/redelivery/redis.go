package redelivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/taskmesh/taskmesh/pkg/models"
)

const defaultRedisQueue = "taskmesh:redelivery"

// RedisQueue parks undelivered messages on a Redis list so redelivery
// survives process restarts and can be shared between nodes.
type RedisQueue struct {
	queue  string
	logger *slog.Logger

	client  redis.UniversalClient
	handler Handler
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewRedisQueue(ctx context.Context, addr, password, queue string, db int, logger *slog.Logger) (*RedisQueue, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	if queue == "" {
		queue = defaultRedisQueue
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	q := &RedisQueue{
		queue:  queue,
		client: client,
		stopCh: make(chan struct{}),
		logger: logger.With("module", "redelivery", "provider", "redis", "queue", queue),
	}

	q.logger.InfoContext(ctx, "Connected to Redis", "addr", addr, "db", db)

	return q, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, message *models.AgentMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message %s: %w", message.ID, err)
	}

	err = q.client.RPush(ctx, q.queue, data).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue message %s: %w", message.ID, err)
	}

	return nil
}

func (q *RedisQueue) Start(ctx context.Context, handler Handler) error {
	q.handler = handler

	q.wg.Add(1)

	go q.consume(ctx)

	return nil
}

func (q *RedisQueue) consume(ctx context.Context) {
	defer q.wg.Done()

	q.logger.InfoContext(ctx, "Starting redelivery consumer")

	for {
		select {
		case <-q.stopCh:
			q.logger.InfoContext(ctx, "Redelivery consumer stopped")

			return
		case <-ctx.Done():
			q.logger.InfoContext(ctx, "Context cancelled, stopping redelivery consumer")

			return
		default:
			err := q.processMessage(ctx)
			if err != nil {
				q.logger.ErrorContext(ctx, "Error processing queued message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (q *RedisQueue) processMessage(ctx context.Context) error {
	result, err := q.client.BLPop(ctx, 1*time.Second, q.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	var message models.AgentMessage

	err = json.Unmarshal([]byte(result[1]), &message)
	if err != nil {
		return fmt.Errorf("failed to unmarshal queued message: %w", err)
	}

	err = q.handler(ctx, &message)
	if err != nil {
		q.logger.ErrorContext(ctx, "Redelivery handler failed",
			"message_id", message.ID, "to", message.To, "error", err)
	}

	return nil
}

func (q *RedisQueue) Stop(_ context.Context) error {
	close(q.stopCh)
	q.wg.Wait()

	if q.client != nil {
		err := q.client.Close()
		if err != nil {
			return fmt.Errorf("failed to close Redis client: %w", err)
		}
	}

	return nil
}
