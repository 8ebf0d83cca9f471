package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/world-engine/internal/world"
	queuePkg "github.com/jwebster45206/world-engine/pkg/queue"
)

const (
	workerTimeout = 5 * time.Second
)

// ActionSource yields queued action requests
type ActionSource interface {
	BlockingDequeueAction(ctx context.Context, timeout time.Duration) (*queuePkg.ActionRequest, error)
}

// Executor runs an action against an asset
type Executor interface {
	ExecuteAction(ctx context.Context, assetID, src string) (*world.ActionResult, error)
}

// EventPublisher reports action lifecycle events
type EventPublisher interface {
	PublishActionProcessing(ctx context.Context, assetID, requestID, src string) error
	PublishActionCompleted(ctx context.Context, assetID, requestID string, result map[string]interface{}) error
	PublishActionFailed(ctx context.Context, assetID, requestID, errorMsg string) error
}

// Worker processes requests from the action queue. Workers take no locks: actions on
// the same asset are applied in dequeue order by whichever worker holds them, last
// write wins.
type Worker struct {
	id       string
	queue    ActionSource
	executor Executor
	events   EventPublisher
	log      *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a new worker instance
func New(source ActionSource, executor Executor, publisher EventPublisher, log *slog.Logger, workerID string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	return &Worker{
		id:       workerID,
		queue:    source,
		executor: executor,
		events:   publisher,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ID returns the worker's identifier
func (w *Worker) ID() string {
	return w.id
}

// Start begins processing requests from the queue
func (w *Worker) Start() error {
	w.log.Info("Worker starting", "worker_id", w.id)

	for {
		select {
		case <-w.ctx.Done():
			w.log.Info("Worker shutting down", "worker_id", w.id)
			return nil
		default:
			if err := w.processNextRequest(); err != nil {
				if w.ctx.Err() != nil {
					continue
				}
				w.log.Error("Error processing request", "error", err, "worker_id", w.id)
				// Continue processing even on error
				time.Sleep(1 * time.Second)
			}
		}
	}
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() {
	w.log.Info("Worker stop requested", "worker_id", w.id)
	w.cancel()
}

// processNextRequest pulls the next request from the queue and processes it
func (w *Worker) processNextRequest() error {
	req, err := w.queue.BlockingDequeueAction(w.ctx, workerTimeout)
	if err != nil {
		return fmt.Errorf("failed to dequeue request: %w", err)
	}

	if req == nil {
		// Queue is empty or timeout occurred - this is normal
		return nil
	}

	w.log.Info("Received request from queue",
		"worker_id", w.id,
		"request_id", req.RequestID,
		"asset_id", req.AssetID,
	)

	return w.processRequest(req)
}

// processRequest executes one action and publishes its outcome
func (w *Worker) processRequest(req *queuePkg.ActionRequest) error {
	requestID := req.RequestID.String()
	start := time.Now()

	if err := w.events.PublishActionProcessing(w.ctx, req.AssetID, requestID, req.Source); err != nil {
		w.log.Error("Failed to publish processing event", "error", err)
		// Don't fail the request just because event publishing failed
	}

	result, err := w.executor.ExecuteAction(w.ctx, req.AssetID, req.Source)
	if err == nil && result.Error != "" {
		// Script errors are an outcome of the action, not a worker failure
		w.log.Warn("Action script failed",
			"request_id", requestID,
			"asset_id", req.AssetID,
			"error", result.Error,
		)
		if pubErr := w.events.PublishActionFailed(w.ctx, req.AssetID, requestID, result.Error); pubErr != nil {
			w.log.Error("Failed to publish failure event", "error", pubErr)
		}
		return nil
	}
	if err != nil {
		w.log.Error("Failed to execute action",
			"error", err,
			"request_id", requestID,
			"asset_id", req.AssetID,
		)
		if pubErr := w.events.PublishActionFailed(w.ctx, req.AssetID, requestID, err.Error()); pubErr != nil {
			w.log.Error("Failed to publish failure event", "error", pubErr)
		}
		return fmt.Errorf("failed to execute action: %w", err)
	}

	w.log.Info("Action processed successfully",
		"worker_id", w.id,
		"request_id", requestID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	payload := map[string]interface{}{
		"returnValue":  result.ReturnValue,
		"recalculated": result.Recalculated,
		"roomUpdates":  result.RoomUpdates,
		"duration_ms":  time.Since(start).Milliseconds(),
	}
	if err := w.events.PublishActionCompleted(w.ctx, req.AssetID, requestID, payload); err != nil {
		w.log.Error("Failed to publish completion event", "error", err)
	}
	return nil
}
