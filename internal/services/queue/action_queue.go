package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/world-engine/pkg/queue"
	"github.com/redis/go-redis/v9"
)

// ActionsKey is the Redis list holding queued action requests
const ActionsKey = "actions"

// ActionQueue is a FIFO of action requests shared by API and workers
type ActionQueue struct {
	client *Client
	logger *slog.Logger
}

func NewActionQueue(client *Client, logger *slog.Logger) *ActionQueue {
	return &ActionQueue{
		client: client,
		logger: logger,
	}
}

// EnqueueAction adds a request to the end of the queue
func (q *ActionQueue) EnqueueAction(ctx context.Context, req *queue.ActionRequest) error {
	data, err := req.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize request: %w", err)
	}

	if err := q.client.rdb.RPush(ctx, ActionsKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue request: %w", err)
	}
	q.logger.Debug("Action enqueued", "request_id", req.RequestID, "asset_id", req.AssetID)
	return nil
}

// DequeueAction removes and returns the next request.
// Returns nil if queue is empty
func (q *ActionQueue) DequeueAction(ctx context.Context) (*queue.ActionRequest, error) {
	result, err := q.client.rdb.LPop(ctx, ActionsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue request: %w", err)
	}

	req, err := queue.FromJSON([]byte(result))
	if err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return req, nil
}

// BlockingDequeueAction blocks until a request is available or timeout elapses.
// Returns nil, nil on timeout; a zero timeout waits forever.
func (q *ActionQueue) BlockingDequeueAction(ctx context.Context, timeout time.Duration) (*queue.ActionRequest, error) {
	result, err := q.client.rdb.BLPop(ctx, timeout, ActionsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue request: %w", err)
	}

	// BLPop returns [key, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BLPop result: %v", result)
	}

	req, err := queue.FromJSON([]byte(result[1]))
	if err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return req, nil
}

// Depth returns the number of queued requests
func (q *ActionQueue) Depth(ctx context.Context) (int, error) {
	count, err := q.client.rdb.LLen(ctx, ActionsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue depth: %w", err)
	}
	return int(count), nil
}
